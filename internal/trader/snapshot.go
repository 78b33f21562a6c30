package trader

import (
	"time"

	"tradeloop/internal/gateway/notifier"
	"tradeloop/internal/types"
)

// PnLSummary is the dashboard's view of the account.
type PnLSummary struct {
	Capital       float64 `json:"capital"`
	Equity        float64 `json:"equity"`
	Realized      float64 `json:"realized"`
	RealizedToday float64 `json:"realized_today"`
	Unrealized    float64 `json:"unrealized"`
	OpenPositions int     `json:"open_positions"`
	ClosedTrades  int     `json:"closed_trades"`
	Wins          int     `json:"wins"`
	Halted        bool    `json:"halted"`
}

// Snapshot returns the latest published copy of the executor state. It is
// never mutated after publication.
func (t *Trader) Snapshot() *State {
	val := t.stateSnapshot.Load()
	if val == nil {
		return NewState()
	}
	return val.(*State)
}

func (t *Trader) Positions() []types.Position {
	return t.Snapshot().PositionList()
}

// History returns up to limit closed trades, newest first.
func (t *Trader) History(limit int) []types.Trade {
	h := t.Snapshot().History
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]types.Trade, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out
}

// Holds reports whether symbol is open or has a pending entry.
func (t *Trader) Holds(symbol string) bool {
	return t.Snapshot().Holds(symbol)
}

// Exposure counts open positions plus entries still waiting on the broker.
func (t *Trader) Exposure() int {
	s := t.Snapshot()
	n := len(s.Positions)
	for _, p := range s.Pending {
		if p.Action == OrderActionOpen {
			n++
		}
	}
	return n
}

func (t *Trader) Halted() bool {
	return t.Snapshot().Halted
}

func (t *Trader) PnL(now time.Time) PnLSummary {
	s := t.Snapshot()
	today := dayKey(now, t.loc)
	out := PnLSummary{
		Capital:       t.cfg.Capital,
		Equity:        t.cfg.Capital + s.Realized,
		Realized:      s.Realized,
		OpenPositions: len(s.Positions),
		Halted:        s.Halted,
	}
	for _, p := range s.Positions {
		out.Unrealized += p.UnrealizedPnL()
	}
	for _, tr := range s.History {
		out.ClosedTrades++
		if tr.Won() {
			out.Wins++
		}
		if tr.ExitTime != nil && dayKey(*tr.ExitTime, t.loc) == today {
			out.RealizedToday += tr.PnL
		}
	}
	return out
}

// DailySummary reports the trading day containing now.
func (t *Trader) DailySummary(now time.Time) notifier.Summary {
	s := t.Snapshot()
	today := dayKey(now, t.loc)
	sum := notifier.Summary{
		Day:           now.In(t.loc),
		Capital:       t.cfg.Capital + s.Realized,
		OpenPositions: len(s.Positions),
	}
	for _, p := range s.Positions {
		sum.UnrealizedPnL += p.UnrealizedPnL()
	}
	for _, tr := range s.History {
		if tr.ExitTime == nil || dayKey(*tr.ExitTime, t.loc) != today {
			continue
		}
		sum.Trades++
		sum.RealizedPnL += tr.PnL
		if tr.Won() {
			sum.Wins++
		}
	}
	return sum
}
