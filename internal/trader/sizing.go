package trader

import (
	"tradeloop/internal/types"

	"github.com/shopspring/decimal"
)

// Sizing caps a position both by the capital put at risk to the stop and by
// the notional committed to it.
type Sizing struct {
	MaxRiskFraction     float64 `yaml:"max_risk_fraction"`
	MaxPositionFraction float64 `yaml:"max_position_fraction"`
}

// Shares returns max(1, min(floor(capital*risk/riskPerShare), floor(capital*position/entry))).
// A non-positive riskPerShare leaves only the notional cap.
func (s Sizing) Shares(capital, entry, riskPerShare float64) float64 {
	if entry <= 0 || capital <= 0 {
		return 1
	}
	c := decimal.NewFromFloat(capital)
	byCapital := c.Mul(decimal.NewFromFloat(s.MaxPositionFraction)).
		Div(decimal.NewFromFloat(entry)).Floor()
	shares := byCapital
	if riskPerShare > 0 {
		byRisk := c.Mul(decimal.NewFromFloat(s.MaxRiskFraction)).
			Div(decimal.NewFromFloat(riskPerShare)).Floor()
		shares = decimal.Min(byRisk, byCapital)
	}
	if shares.LessThan(decimal.NewFromInt(1)) {
		return 1
	}
	out, _ := shares.Float64()
	return out
}

// Quantity sizes an order for the asset class. Equities and options trade
// whole shares; other classes take the same caps with six decimal places and
// no one-unit floor, so zero means the position is too small to open.
func (s Sizing) Quantity(class types.AssetClass, capital, entry, riskPerShare float64) float64 {
	switch class {
	case types.AssetEquity, types.AssetOption:
		return s.Shares(capital, entry, riskPerShare)
	}
	if entry <= 0 || capital <= 0 {
		return 0
	}
	c := decimal.NewFromFloat(capital)
	q := c.Mul(decimal.NewFromFloat(s.MaxPositionFraction)).Div(decimal.NewFromFloat(entry))
	if riskPerShare > 0 {
		q = decimal.Min(q, c.Mul(decimal.NewFromFloat(s.MaxRiskFraction)).Div(decimal.NewFromFloat(riskPerShare)))
	}
	out, _ := q.RoundFloor(6).Float64()
	return out
}
