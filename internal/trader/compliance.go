package trader

import (
	"time"

	"tradeloop/internal/types"
)

// Compliance is the pattern-day-trading gate. It applies to equities only
// and only while account equity is below Threshold.
type Compliance struct {
	Threshold     float64 `yaml:"threshold"`
	MaxRoundTrips int     `yaml:"max_round_trips"`
}

func (c Compliance) applies(class types.AssetClass, equity float64) bool {
	return class == types.AssetEquity && c.MaxRoundTrips > 0 && equity < c.Threshold
}

// Allow reports whether one more equity entry is permitted today.
func (c Compliance) Allow(class types.AssetClass, equity float64, today DayTrades, day string) bool {
	if !c.applies(class, equity) {
		return true
	}
	if today.Day != day {
		return true
	}
	return today.Count < c.MaxRoundTrips
}

// roll resets the counter when the trading day changed.
func (d DayTrades) roll(day string) DayTrades {
	if d.Day == day {
		return d
	}
	return DayTrades{Day: day}
}

// isRoundTrip reports whether a trade opened and closed on the same trading day.
func isRoundTrip(t types.Trade, loc *time.Location) bool {
	if t.ExitTime == nil || t.AssetClass != types.AssetEquity {
		return false
	}
	return dayKey(t.EntryTime, loc) == dayKey(*t.ExitTime, loc)
}

func dayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
