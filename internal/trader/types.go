package trader

import (
	"errors"
	"sort"
	"time"

	"tradeloop/internal/broker"
	"tradeloop/internal/types"
)

var (
	// ErrPersistence halts the executor: no order is placed after a state
	// write has failed until the process restarts.
	ErrPersistence = errors.New("executor: state could not be persisted")
	// ErrComplianceLimit refuses an equity entry once the day's round trips
	// are used up below the capital threshold.
	ErrComplianceLimit = errors.New("executor: day-trade limit reached")
	ErrAlreadyHeld     = errors.New("executor: position already open or pending")
	ErrUnknownTrade    = errors.New("executor: no such open trade")
	ErrStopped         = errors.New("executor: stopped")
)

type EventType string

const (
	// EvtOpen asks for a new position from a ranked opportunity.
	EvtOpen EventType = "OPEN"
	// EvtClose asks to close an open trade.
	EvtClose EventType = "CLOSE"
	// EvtRefresh starts an asynchronous quote refresh for every position.
	EvtRefresh EventType = "REFRESH"
	// EvtPrices carries refreshed quotes back into the loop.
	EvtPrices EventType = "PRICES"
	// EvtOrderResult reports an async broker call.
	EvtOrderResult EventType = "ORDER_RESULT"
)

const (
	OrderActionOpen  = "open"
	OrderActionClose = "close"
)

// EventEnvelope is the actor's only message shape.
type EventEnvelope struct {
	ID        string
	Type      EventType
	Payload   any
	CreatedAt time.Time

	// ReplyCh receives the handler's error for synchronous callers.
	ReplyCh chan error
}

type OpenPayload struct {
	Opportunity types.RankedOpportunity
}

type ClosePayload struct {
	TradeID string
	Reason  string
	// Price is the reference exit price; zero means use the live price.
	Price float64
}

type PricesPayload struct {
	Prices map[string]float64
	At     time.Time
}

// OrderResultPayload is posted back to the loop by the goroutine that talked
// to the broker.
type OrderResultPayload struct {
	RequestID  string
	Action     string
	TradeID    string
	Symbol     string
	Reason     string
	Fill       broker.Fill
	StopOrder  string
	StopErr    error
	Err        error
	ReceivedAt time.Time
}

// PendingOrder is an entry or exit that was sent to the broker and has not
// been answered yet. Pending orders are persisted with the positions.
type PendingOrder struct {
	RequestID string              `json:"request_id"`
	Action    string              `json:"action"`
	TradeID   string              `json:"trade_id"`
	Symbol    string              `json:"symbol"`
	Side      types.Side          `json:"side"`
	Quantity  float64             `json:"quantity"`
	Price     float64             `json:"price"`
	Reason    string              `json:"reason,omitempty"`
	SentAt    time.Time           `json:"sent_at"`
	Entry     *types.EntryContext `json:"entry,omitempty"`
	Levels    *ProtectiveLevels   `json:"levels,omitempty"`
	Class     types.AssetClass    `json:"asset_class"`
}

type ProtectiveLevels struct {
	Stop   float64 `json:"stop"`
	Target float64 `json:"target"`
}

// DayTrades counts equity round trips opened and closed on the same trading day.
type DayTrades struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// State is owned by the actor goroutine. Readers get a deep copy through
// Trader.Snapshot.
type State struct {
	// Positions is keyed by trade ID; BySymbol indexes it.
	Positions map[string]*types.Position `json:"positions"`
	BySymbol  map[string]string          `json:"-"`
	Pending   map[string]*PendingOrder   `json:"pending"`
	History   []types.Trade              `json:"history"`
	Realized  float64                    `json:"realized"`
	DayTrades DayTrades                  `json:"day_trades"`
	Halted    bool                       `json:"-"`
}

func NewState() *State {
	return &State{
		Positions: make(map[string]*types.Position),
		BySymbol:  make(map[string]string),
		Pending:   make(map[string]*PendingOrder),
	}
}

func (s *State) reindex() {
	s.BySymbol = make(map[string]string, len(s.Positions))
	for id, p := range s.Positions {
		s.BySymbol[p.Symbol] = id
	}
}

// Holds reports whether symbol has an open position or a pending entry.
func (s *State) Holds(symbol string) bool {
	if _, ok := s.BySymbol[symbol]; ok {
		return true
	}
	for _, p := range s.Pending {
		if p.Action == OrderActionOpen && p.Symbol == symbol {
			return true
		}
	}
	return false
}

func (s *State) closing(tradeID string) bool {
	for _, p := range s.Pending {
		if p.Action == OrderActionClose && p.TradeID == tradeID {
			return true
		}
	}
	return false
}

// PositionList returns positions ordered by entry time.
func (s *State) PositionList() []types.Position {
	out := make([]types.Position, 0, len(s.Positions))
	for _, p := range s.Positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].TradeID < out[j].TradeID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func (s *State) clone() *State {
	out := NewState()
	for id, p := range s.Positions {
		cp := *p
		out.Positions[id] = &cp
	}
	for sym, id := range s.BySymbol {
		out.BySymbol[sym] = id
	}
	for id, p := range s.Pending {
		cp := *p
		out.Pending[id] = &cp
	}
	out.History = append([]types.Trade(nil), s.History...)
	out.Realized = s.Realized
	out.DayTrades = s.DayTrades
	out.Halted = s.Halted
	return out
}
