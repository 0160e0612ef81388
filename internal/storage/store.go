// Package storage implements the relational persistence layer. Every read
// that accepts a caller-supplied id is scoped by owner in the query
// predicate; a miss and a foreign record are indistinguishable to callers.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/observability"
)

var (
	// ErrNotFound is returned when a record does not exist or is owned by
	// another user.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned on unique-constraint violations.
	ErrDuplicate = errors.New("duplicate record")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store provides typed queries over the promptseq schema.
type Store struct {
	db      *sql.DB
	dialect dialect
	metrics *observability.Metrics
}

// Open connects to the database named by cfg.URL. postgres:// and
// postgresql:// URLs use lib/pq; everything else is treated as a SQLite DSN.
func Open(cfg config.DBConfig, metrics *observability.Metrics) (*Store, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("database url is required")
	}

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		db, err = sql.Open("postgres", url)
		d = dialectPostgres
	} else {
		db, err = sql.Open("sqlite", url)
		d = dialectSQLite
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// under the in-process runner.
	if d == dialectSQLite {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, dialect: d, metrics: metrics}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ?-style placeholders to $N for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// observe times one query for the db metrics histogram.
func (s *Store) observe(operation, table string) func() {
	if s.metrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		s.metrics.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// isUniqueViolation detects duplicate-key errors across both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

// nullTime converts a nullable scan target to *time.Time.
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// nullString unwraps a nullable text column.
func nullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}
	return s.String
}
