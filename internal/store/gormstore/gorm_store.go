package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradeloop/internal/store"
	"tradeloop/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type snapshotModel struct {
	Name        string         `gorm:"column:name;primaryKey"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	SavedAtUnix int64          `gorm:"column:saved_at"`
}

func (snapshotModel) TableName() string { return "snapshots" }

type tradeModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index"`
	AssetClass    string         `gorm:"column:asset_class"`
	Side          string         `gorm:"column:side"`
	Quantity      float64        `gorm:"column:quantity"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	EntryTimeUnix int64          `gorm:"column:entry_time;index"`
	ExitPrice     float64        `gorm:"column:exit_price"`
	ExitTimeUnix  *int64         `gorm:"column:exit_time;index"`
	PnL           float64        `gorm:"column:pnl"`
	CloseReason   string         `gorm:"column:close_reason"`
	Record        datatypes.JSON `gorm:"column:record"`
}

func (tradeModel) TableName() string { return "trades" }

// GormStore keeps snapshots and the trade journal in one SQLite file.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewGormStoreFromDB(db)
}

func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&snapshotModel{}, &tradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL lets HTTP reads run beside the executor's writes.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	return sqlDB.Close()
}

func (s *GormStore) Save(ctx context.Context, name string, v any) error {
	if s == nil || s.db == nil {
		return store.ErrClosed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	row := snapshotModel{
		Name:        name,
		Payload:     datatypes.JSON(raw),
		SavedAtUnix: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "saved_at"}),
	}).Create(&row).Error
}

func (s *GormStore) Load(ctx context.Context, name string, v any) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, store.ErrClosed
	}
	var row snapshotModel
	err := s.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if err := json.Unmarshal(row.Payload, v); err != nil {
		return time.Time{}, false, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return time.UnixMilli(row.SavedAtUnix).UTC(), true, nil
}

func (s *GormStore) PutTrade(ctx context.Context, t types.Trade) error {
	if s == nil || s.db == nil {
		return store.ErrClosed
	}
	if t.ID == "" {
		return fmt.Errorf("trade id cannot be empty")
	}
	row, err := toTradeModel(t)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) RecentTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	if s == nil || s.db == nil {
		return nil, store.ErrClosed
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []tradeModel
	if err := s.db.WithContext(ctx).Order("entry_time DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromTradeModels(rows)
}

func (s *GormStore) ClosedSince(ctx context.Context, since time.Time) ([]types.Trade, error) {
	if s == nil || s.db == nil {
		return nil, store.ErrClosed
	}
	var rows []tradeModel
	err := s.db.WithContext(ctx).
		Where("exit_time IS NOT NULL AND exit_time >= ?", since.UnixMilli()).
		Order("exit_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromTradeModels(rows)
}

func toTradeModel(t types.Trade) (tradeModel, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return tradeModel{}, fmt.Errorf("encode trade %s: %w", t.ID, err)
	}
	row := tradeModel{
		ID:            t.ID,
		Symbol:        strings.ToUpper(t.Symbol),
		AssetClass:    string(t.AssetClass),
		Side:          string(t.Side),
		Quantity:      t.Quantity,
		EntryPrice:    t.EntryPrice,
		EntryTimeUnix: t.EntryTime.UnixMilli(),
		ExitPrice:     t.ExitPrice,
		PnL:           t.PnL,
		CloseReason:   t.CloseReason,
		Record:        datatypes.JSON(raw),
	}
	if t.ExitTime != nil {
		ms := t.ExitTime.UnixMilli()
		row.ExitTimeUnix = &ms
	}
	return row, nil
}

func fromTradeModels(rows []tradeModel) ([]types.Trade, error) {
	out := make([]types.Trade, 0, len(rows))
	for _, r := range rows {
		var t types.Trade
		if err := json.Unmarshal(r.Record, &t); err != nil {
			return nil, fmt.Errorf("decode trade %s: %w", r.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
