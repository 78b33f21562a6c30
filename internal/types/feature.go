package types

import "sort"

// Reading is one sub-score produced during validation together with the
// indicator values it was computed from. Readings travel with the candidate
// so the dashboard can show why it passed.
type Reading struct {
	Key    string             `json:"key"`
	Label  string             `json:"label"`
	Value  float64            `json:"value"`
	Inputs map[string]float64 `json:"inputs,omitempty"`
}

// SortReadings orders readings by key; middlewares in one stage finish in
// any order.
func SortReadings(rs []Reading) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Key < rs[j].Key })
}
