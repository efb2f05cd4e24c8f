// Package store is the persistence layer. Every entity the pipeline
// touches lives behind a typed method here; all other components hold
// primary keys and re-read on demand. PostgreSQL is the only backend.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // registers the postgres driver

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/schema"
)

// Submission lifecycle statuses, in pipeline order. Transitions only
// move forward through this list.
const (
	StatusSubmitted  = "submitted"
	StatusResearched = "researched"
	StatusScored     = "scored"
	StatusCompleted  = "completed"
	StatusPublished  = "published"
)

var statusOrder = []string{
	StatusSubmitted,
	StatusResearched,
	StatusScored,
	StatusCompleted,
	StatusPublished,
}

// StatusRank returns a status's position in the lifecycle, or -1 for an
// unknown status.
func StatusRank(status string) int {
	for i, s := range statusOrder {
		if s == status {
			return i
		}
	}
	return -1
}

// ValidStatus reports whether status is a known lifecycle state.
func ValidStatus(status string) bool {
	return StatusRank(status) >= 0
}

// CanTransition reports whether moving from one status to another keeps
// the lifecycle forward-only.
func CanTransition(from, to string) bool {
	fromRank, toRank := StatusRank(from), StatusRank(to)
	return fromRank >= 0 && toRank > fromRank
}

// Config holds database connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns reasonable pool settings for a single-node
// deployment.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// Store wraps the database handle and the schema registry the DDL and
// the dynamic submission columns derive from.
type Store struct {
	db      *sqlx.DB
	schemas *schema.Registry
	timeout time.Duration
}

// Open connects to PostgreSQL, configures the pool, and verifies
// connectivity before returning.
func Open(cfg Config, schemas *schema.Registry) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, schemas: schemas, timeout: cfg.QueryTimeout}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping tests basic connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Schemas exposes the registry the store was opened with.
func (s *Store) Schemas() *schema.Registry {
	return s.schemas
}

// Stats returns connection pool statistics for the health endpoint.
func (s *Store) Stats() map[string]interface{} {
	st := s.db.Stats()
	return map[string]interface{}{
		"max_open_connections": st.MaxOpenConnections,
		"open_connections":     st.OpenConnections,
		"in_use":               st.InUse,
		"idle":                 st.Idle,
		"wait_count":           st.WaitCount,
		"wait_duration_ms":     st.WaitDuration.Milliseconds(),
	}
}

// isDuplicate reports whether err is a PostgreSQL unique-constraint
// violation.
func isDuplicate(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// duplicateErr maps a unique violation onto the conflict error kind so
// callers can branch without knowing the driver.
func duplicateErr(what string, err error) error {
	if isDuplicate(err) {
		return apperr.Conflictf("duplicate %s", what)
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}
