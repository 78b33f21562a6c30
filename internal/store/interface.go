package store

import (
	"context"
	"errors"
	"time"

	"tradeloop/internal/types"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store: closed")

// SnapshotStore persists named JSON documents. Learners and the executor each
// own one name and overwrite it wholesale on every save.
type SnapshotStore interface {
	Save(ctx context.Context, name string, v any) error
	// Load decodes the named snapshot into v. found is false when nothing has
	// been saved under name yet.
	Load(ctx context.Context, name string, v any) (savedAt time.Time, found bool, err error)
}

// TradeJournal is the append-mostly record of every position the executor
// opened. Closing a trade rewrites its row.
type TradeJournal interface {
	PutTrade(ctx context.Context, t types.Trade) error
	RecentTrades(ctx context.Context, limit int) ([]types.Trade, error)
	ClosedSince(ctx context.Context, since time.Time) ([]types.Trade, error)
}

// Store is the entry point for database access.
type Store interface {
	SnapshotStore
	TradeJournal
	Close() error
}
