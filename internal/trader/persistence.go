package trader

import (
	"context"
	"fmt"
	"time"

	"tradeloop/internal/store"
	"tradeloop/internal/types"
)

// SnapshotName is the executor's record in the snapshot store.
const SnapshotName = "executor"

const persistTimeout = 5 * time.Second

type executorSnapshot struct {
	Positions []types.Position `json:"positions"`
	Pending   []PendingOrder   `json:"pending"`
	History   []types.Trade    `json:"history"`
	Realized  float64          `json:"realized"`
	DayTrades DayTrades        `json:"day_trades"`
	SavedAt   time.Time        `json:"saved_at"`
}

func snapshotOf(s *State, now time.Time) executorSnapshot {
	snap := executorSnapshot{
		Positions: s.PositionList(),
		Pending:   make([]PendingOrder, 0, len(s.Pending)),
		History:   append([]types.Trade(nil), s.History...),
		Realized:  s.Realized,
		DayTrades: s.DayTrades,
		SavedAt:   now.UTC(),
	}
	for _, p := range s.Pending {
		snap.Pending = append(snap.Pending, *p)
	}
	return snap
}

func (snap executorSnapshot) state() *State {
	s := NewState()
	for i := range snap.Positions {
		p := snap.Positions[i]
		s.Positions[p.TradeID] = &p
	}
	for i := range snap.Pending {
		p := snap.Pending[i]
		s.Pending[p.RequestID] = &p
	}
	s.History = snap.History
	s.Realized = snap.Realized
	s.DayTrades = snap.DayTrades
	s.reindex()
	return s
}

// persist writes the whole executor record and, when given, the trade rows
// touched by the mutation. Any failure halts the executor.
func (t *Trader) persist(trades ...types.Trade) error {
	if t.snapshots == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	err := t.snapshots.Save(ctx, SnapshotName, snapshotOf(t.state, t.now()))
	if err == nil && t.journal != nil {
		for _, tr := range trades {
			if err = t.journal.PutTrade(ctx, tr); err != nil {
				break
			}
		}
	}
	if err != nil {
		t.halt(err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, s store.SnapshotStore) (*State, time.Time, bool, error) {
	var snap executorSnapshot
	savedAt, found, err := s.Load(ctx, SnapshotName, &snap)
	if err != nil || !found {
		return NewState(), savedAt, found, err
	}
	return snap.state(), savedAt, true, nil
}
