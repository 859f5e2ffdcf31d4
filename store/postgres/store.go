// Package postgres implements store.Store on PostgreSQL via the grove ORM.
//
// Transactions run at READ COMMITTED. Lock* methods take row locks with
// SELECT ... FOR UPDATE. Serialization failures, deadlocks and lock
// timeouts are reported as errs.ErrConcurrentUpdate so the engine retries.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the "pg" migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/tally/errs"
	tallystore "github.com/xraph/tally/store"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// Open connects to dsn, pings the database and wraps the pool in a grove
// handle. Close releases the pool.
func Open(ctx context.Context, dsn string, opts ...driver.Option) (*Store, error) {
	pg := pgdriver.New()
	if err := pg.Open(ctx, dsn, opts...); err != nil {
		return nil, fmt.Errorf("tally/postgres: connect: %w", err)
	}
	if err := pg.Ping(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("tally/postgres: ping: %w", err)
	}
	db, err := grove.Open(pg)
	if err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("tally/postgres: open grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx tallystore.Tx) error) error {
	tx, err := s.pg.BeginTxQuery(ctx, &driver.TxOptions{IsolationLevel: driver.LevelReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("tally/postgres: begin: %w", err))
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := fn(ctx, &Tx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("tally/postgres: commit: %w", err))
	}
	return nil
}

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("tally/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tally/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Errors ====================

// Retryable SQLSTATE codes.
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
)

// mapError reports lock conflicts as errs.ErrConcurrentUpdate and leaves
// every other error untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case serializationFailure, deadlockDetected, lockNotAvailable:
			return errs.Wrap(errs.ErrConcurrentUpdate, err)
		}
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
