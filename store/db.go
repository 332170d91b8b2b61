// Package store persists executions, node states, and deployments. The
// default backend is an embedded sqlite file; postgres is a drop-in
// substitute selected by config. Repositories share one SQL dialect with
// $N placeholders, rebound to ? for sqlite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/lyzr/graphflow/common/logger"
	"github.com/lyzr/graphflow/workflow"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = sql.ErrNoRows

// DB wraps database/sql with backend-aware helpers.
type DB struct {
	*sql.DB
	backend string
	log     *logger.Logger
}

// Open connects to the configured backend, verifies the connection, and
// applies the schema.
func Open(ctx context.Context, cfg workflow.StorageConfig, log *logger.Logger) (*DB, error) {
	var driver, dsn string
	switch cfg.Backend {
	case "sqlite":
		driver = "sqlite"
		path := cfg.Path
		if path == "" {
			path = "graphflow.db"
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case "postgres":
		driver = "pgx"
		dsn = cfg.URL
		if dsn == "" {
			return nil, fmt.Errorf("storage.url is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}

	d, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}
	if cfg.Backend == "sqlite" {
		// single writer avoids SQLITE_BUSY under parallel fan-out
		d.SetMaxOpenConns(1)
	} else {
		d.SetMaxOpenConns(10)
		d.SetConnMaxLifetime(time.Hour)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.PingContext(pingCtx); err != nil {
		d.Close()
		return nil, fmt.Errorf("ping %s storage: %w", cfg.Backend, err)
	}

	db := &DB{DB: d, backend: cfg.Backend, log: log}
	if err := db.migrate(ctx); err != nil {
		d.Close()
		return nil, err
	}
	log.Info("storage ready", "backend", cfg.Backend)
	return db, nil
}

// Health checks connectivity.
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// rebind converts $N placeholders to ? for sqlite. Postgres queries pass
// through unchanged.
func (db *DB) rebind(query string) string {
	if db.backend != "sqlite" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const (
	writeAttempts = 3
	writeBackoff  = 50 * time.Millisecond
)

// write runs fn with a short bounded retry. Persistence is best-effort
// relative to workflow progress; callers decide whether a final failure
// is fatal.
func (db *DB) write(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == writeAttempts {
			break
		}
		db.log.Warn("storage write failed, retrying", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(writeBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
