package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryContext is what the pipeline knew when a position was opened. The
// learners read it back from the TradeClosed event.
type EntryContext struct {
	OpportunityID string             `json:"opportunity_id"`
	Strategy      string             `json:"strategy"`
	Score         float64            `json:"score"`
	Components    Components         `json:"components"`
	Validation    ValidationScores   `json:"validation"`
	Prediction    Prediction         `json:"prediction"`
	Features      []float64          `json:"features,omitempty"`
	ExpectedRR    float64            `json:"expected_rr"`
	Extra         map[string]float64 `json:"extra,omitempty"`
}

// Position is an open holding. The executor owns it exclusively.
type Position struct {
	TradeID    string       `json:"trade_id"`
	Symbol     string       `json:"symbol"`
	AssetClass AssetClass   `json:"asset_class"`
	Side       Side         `json:"side"`
	Quantity   float64      `json:"quantity"`
	EntryPrice float64      `json:"entry_price"`
	LivePrice  float64      `json:"live_price"`
	EntryTime  time.Time    `json:"entry_time"`
	Stop       float64      `json:"stop,omitempty"`
	Target     float64      `json:"target,omitempty"`
	StopOrder  string       `json:"stop_order,omitempty"`
	Entry      EntryContext `json:"entry"`
}

// UnrealizedPnL marks the position at its live price.
func (p Position) UnrealizedPnL() float64 {
	price := p.LivePrice
	if price <= 0 {
		price = p.EntryPrice
	}
	return PnL(p.Side, p.EntryPrice, price, p.Quantity)
}

// StopHit reports whether price breached the stop on the losing side.
func (p Position) StopHit(price float64) bool {
	if p.Stop <= 0 || price <= 0 {
		return false
	}
	if p.Side == SideShort {
		return price >= p.Stop
	}
	return price <= p.Stop
}

// TargetHit reports whether price reached the target on the winning side.
func (p Position) TargetHit(price float64) bool {
	if p.Target <= 0 || price <= 0 {
		return false
	}
	if p.Side == SideShort {
		return price <= p.Target
	}
	return price >= p.Target
}

// PnL is (exit-entry)*qty for longs and (entry-exit)*qty for shorts, computed
// in decimal so that equal prices give exactly zero.
func PnL(side Side, entry, exit, qty float64) float64 {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	q := decimal.NewFromFloat(qty)
	var diff decimal.Decimal
	switch side {
	case SideShort:
		diff = e.Sub(x)
	case SideLong:
		diff = x.Sub(e)
	default:
		panic("types: pnl of position without side")
	}
	out, _ := diff.Mul(q).Float64()
	return out
}

// Trade is the lifecycle record of one position. ExitTime is nil while open.
type Trade struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	AssetClass  AssetClass   `json:"asset_class"`
	Side        Side         `json:"side"`
	Quantity    float64      `json:"quantity"`
	EntryPrice  float64      `json:"entry_price"`
	EntryTime   time.Time    `json:"entry_time"`
	Stop        float64      `json:"stop,omitempty"`
	Target      float64      `json:"target,omitempty"`
	ExitPrice   float64      `json:"exit_price,omitempty"`
	ExitTime    *time.Time   `json:"exit_time,omitempty"`
	PnL         float64      `json:"pnl"`
	PnLPct      float64      `json:"pnl_pct"`
	RRAchieved  float64      `json:"rr_achieved"`
	CloseReason string       `json:"close_reason,omitempty"`
	Entry       EntryContext `json:"entry"`
}

func (t Trade) Open() bool { return t.ExitTime == nil }

func (t Trade) Won() bool { return !t.Open() && t.PnL > 0 }

// HoldDuration is zero for open trades.
func (t Trade) HoldDuration() time.Duration {
	if t.ExitTime == nil {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

// TradeClosed is emitted once per closed position and fanned out to the learners.
type TradeClosed struct {
	Trade Trade
}
