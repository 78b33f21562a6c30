package notifier

import (
	"fmt"
	"time"

	"tradeloop/internal/learning"
	"tradeloop/internal/types"
)

// Kind tags an event for routing and filtering.
type Kind string

const (
	KindEntry            Kind = "entry"
	KindExit             Kind = "exit"
	KindOpportunity      Kind = "opportunity"
	KindDailySummary     Kind = "daily_summary"
	KindWeightAdaptation Kind = "weight_adaptation"
	KindAlert            Kind = "alert"
)

// Event is a typed notification with a ready-made text rendering.
type Event struct {
	Kind    Kind
	Key     string
	Message Message
}

func (e Event) Text() string { return e.Message.Markdown() }

func sideLabel(s types.Side) string {
	if s == types.SideShort {
		return "SHORT"
	}
	return "LONG"
}

func Entry(p types.Position) Event {
	lines := []string{
		fmt.Sprintf("%s %s x %g @ %.4f", sideLabel(p.Side), p.Symbol, p.Quantity, p.EntryPrice),
		fmt.Sprintf("stop %.4f  target %.4f", p.Stop, p.Target),
	}
	if p.Entry.Strategy != "" {
		lines = append(lines, fmt.Sprintf("strategy %s  score %.3f", p.Entry.Strategy, p.Entry.Score))
	}
	return Event{Kind: KindEntry, Key: p.TradeID, Message: Message{
		Icon: "🟢", Title: "Entry " + p.Symbol, Sections: []Section{{Lines: lines}}, At: p.EntryTime,
	}}
}

func Exit(t types.Trade) Event {
	icon := "🔴"
	if t.PnL > 0 {
		icon = "✅"
	}
	at := time.Now()
	if t.ExitTime != nil {
		at = *t.ExitTime
	}
	lines := []string{
		fmt.Sprintf("%s %s x %g: %.4f -> %.4f", sideLabel(t.Side), t.Symbol, t.Quantity, t.EntryPrice, t.ExitPrice),
		fmt.Sprintf("P&L %+.2f (%+.2f%%)  R:R %.2f", t.PnL, t.PnLPct, t.RRAchieved),
		fmt.Sprintf("held %s, reason %s", t.HoldDuration().Round(time.Minute), t.CloseReason),
	}
	return Event{Kind: KindExit, Key: t.ID, Message: Message{
		Icon: icon, Title: "Exit " + t.Symbol, Sections: []Section{{Lines: lines}}, At: at,
	}}
}

// Opportunity announces a ranked opportunity; pending marks one waiting for approval.
func Opportunity(op types.RankedOpportunity, pending bool) Event {
	title := "Opportunity " + op.Symbol
	if pending {
		title = "Approval needed: " + op.Symbol
	}
	lines := []string{
		fmt.Sprintf("%s %s entry %.4f stop %.4f target %.4f (R:R %.2f)", sideLabel(op.Side), op.Symbol, op.Entry, op.Stop, op.Target, op.RiskReward()),
		fmt.Sprintf("score %.3f  base %.3f  x%.3f", op.Score, op.Breakdown.Base, op.Breakdown.Product),
	}
	for _, m := range op.Breakdown.Multipliers {
		if m.Value != 1 {
			lines = append(lines, fmt.Sprintf("%s x%.2f", m.Name, m.Value))
		}
	}
	footer := ""
	if pending {
		footer = "id " + op.ID
	}
	return Event{Kind: KindOpportunity, Key: op.ID, Message: Message{
		Icon: "📈", Title: title, Sections: []Section{{Lines: lines}}, Footer: footer, At: op.RankedAt,
	}}
}

// Summary is the end-of-day digest.
type Summary struct {
	Day           time.Time
	Capital       float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Trades        int
	Wins          int
	OpenPositions int
}

func DailySummary(s Summary) Event {
	winRate := 0.0
	if s.Trades > 0 {
		winRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	lines := []string{
		fmt.Sprintf("realized %+.2f  unrealized %+.2f", s.RealizedPnL, s.UnrealizedPnL),
		fmt.Sprintf("closed %d (win %.0f%%), open %d", s.Trades, winRate, s.OpenPositions),
		fmt.Sprintf("capital %.2f", s.Capital),
	}
	return Event{Kind: KindDailySummary, Key: s.Day.Format("2006-01-02"), Message: Message{
		Icon: "📊", Title: "Daily summary " + s.Day.Format("2006-01-02"), Sections: []Section{{Lines: lines}}, At: s.Day,
	}}
}

func WeightAdaptation(a learning.Adaptation) Event {
	lines := make([]string, 0, len(a.Changes))
	for _, c := range a.Changes {
		lines = append(lines, fmt.Sprintf("%s %.3f -> %.3f", c.Key, c.From, c.To))
	}
	return Event{Kind: KindWeightAdaptation, Key: a.Learner, Message: Message{
		Icon: "🧠", Title: "Adapted " + a.Learner, Sections: []Section{{Title: a.Reason, Lines: lines}}, At: a.At,
	}}
}

// Alert is a summarized failure; never a raw stack trace.
func Alert(title, detail string) Event {
	return Event{Kind: KindAlert, Key: title, Message: Message{
		Icon: "⚠️", Title: title, Sections: []Section{{Lines: []string{detail}}}, At: time.Now(),
	}}
}
