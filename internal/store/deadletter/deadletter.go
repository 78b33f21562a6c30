// Package deadletter keeps failures that could not be handled in a small
// SQLite table so they survive restarts and can be listed later.
package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradeloop/internal/logger"

	_ "modernc.org/sqlite"
)

const writeTimeout = 5 * time.Second

type Store struct {
	db *sql.DB
}

var _ logger.FailureSink = (*Store)(nil)

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("dead-letter path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordFailure appends f. It is called from logger.DeadLetter on arbitrary
// goroutines, so it carries its own deadline.
func (s *Store) RecordFailure(f logger.Failure) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failures (component, kind, key, message, at)
		VALUES (?, ?, ?, ?, ?)`,
		f.Component, f.Kind, f.Key, f.Message, at.UnixMilli())
	return err
}

// List returns the newest failures first. An empty component matches all.
func (s *Store) List(ctx context.Context, component string, limit int) ([]logger.Failure, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT component, kind, key, message, at FROM failures`
	args := []any{}
	if component != "" {
		query += ` WHERE component = ?`
		args = append(args, component)
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []logger.Failure
	for rows.Next() {
		var f logger.Failure
		var at int64
		if err := rows.Scan(&f.Component, &f.Kind, &f.Key, &f.Message, &at); err != nil {
			return nil, err
		}
		f.At = time.UnixMilli(at).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune drops failures older than the cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM failures WHERE at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS failures (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			component TEXT NOT NULL,
			kind      TEXT NOT NULL,
			key       TEXT NOT NULL DEFAULT '',
			message   TEXT NOT NULL,
			at        INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_component ON failures(component, at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
