// Package sqlitestore is a TileStore backed by a single SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/mohammed-shakir/tile-seeder/internal/cache"
	"github.com/mohammed-shakir/tile-seeder/internal/core/observability"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	backend = "sqlite"
	// stays below SQLite's default host parameter limit
	maxBatch = 500
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ cache.TileStore = (*Store)(nil)

func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %q: %w", path, err)
	}
	// one writer avoids SQLITE_BUSY under concurrent seeding jobs
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sqlite tile store initialized", "path", path)
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	out := make(map[string][]byte, len(keys))
	now := s.now().Unix()
	var err error
	for batch := range chunks(keys, maxBatch) {
		if err = s.mget(ctx, batch, now, out); err != nil {
			break
		}
	}
	observability.ObserveStoreOp(backend, "mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("sqlite MGET %d keys: %w", len(keys), err)
	}
	observability.AddStoreLookups(backend, len(out), len(keys)-len(out))
	return out, nil
}

func (s *Store) mget(ctx context.Context, keys []string, now int64, out map[string][]byte) error {
	query := `SELECT key, data FROM tiles
	WHERE key IN (` + placeholders(len(keys)) + `) AND (expires_at IS NULL OR expires_at > ?)`
	args := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		args = append(args, k)
	}
	args = append(args, now)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var k string
		var data []byte
		if err := rows.Scan(&k, &data); err != nil {
			return err
		}
		out[k] = data
	}
	return rows.Err()
}

func (s *Store) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	if len(kv) == 0 {
		return nil
	}
	start := time.Now()
	err := s.mset(ctx, kv, ttl)
	observability.ObserveStoreOp(backend, "mset", err, time.Since(start).Seconds())
	if err != nil {
		s.logger.ErrorContext(ctx, "sqlite tile store write failed", "keys", len(kv), "error", err)
		return fmt.Errorf("sqlite MSET %d keys: %w", len(kv), err)
	}
	return nil
}

func (s *Store) mset(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = s.now().Add(ttl).Unix()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tiles (key, data, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()
	for k, v := range kv {
		if _, err := stmt.ExecContext(ctx, k, v, expires); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	var err error
	for batch := range chunks(keys, maxBatch) {
		args := make([]any, len(batch))
		for i, k := range batch {
			args[i] = k
		}
		if _, err = s.db.ExecContext(ctx, `DELETE FROM tiles WHERE key IN (`+placeholders(len(batch))+`)`, args...); err != nil {
			break
		}
	}
	observability.ObserveStoreOp(backend, "del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("sqlite DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tiles WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite purge: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite close: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunks(keys []string, size int) iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		for start := 0; start < len(keys); start += size {
			if !yield(keys[start:min(start+size, len(keys))]) {
				return
			}
		}
	}
}
