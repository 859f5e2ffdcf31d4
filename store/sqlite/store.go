// Package sqlite implements store.Store on SQLite via the grove ORM and the
// pure-Go modernc.org/sqlite driver.
//
// Every transaction starts with BEGIN IMMEDIATE, which takes the database
// write lock up front; Lock* methods therefore need no row locks. SQLITE_BUSY
// and SQLITE_LOCKED are reported as errs.ErrConcurrentUpdate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the "sqlite" migration executor
	"github.com/xraph/grove/migrate"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/tally/errs"
	tallystore "github.com/xraph/tally/store"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM. The driver must have
// been opened with _txlock=immediate and a single connection; Open does both.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Open opens the database at dsn, a file path or "file:" URI. Unless dsn
// sets them, Open enables a busy timeout, foreign keys, immediate
// transactions and the sortable "sqlite" time format.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sdb := sqlitedriver.New()
	// SQLite has a single writer; one connection also keeps in-memory
	// databases alive for the life of the store.
	if err := sdb.Open(ctx, withDefaults(dsn), driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("tally/sqlite: open: %w", err)
	}
	if err := sdb.Ping(ctx); err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("tally/sqlite: ping: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("tally/sqlite: open grove: %w", err)
	}
	return New(db), nil
}

func withDefaults(dsn string) string {
	params := url.Values{}
	if !strings.Contains(dsn, "busy_timeout") {
		params.Add("_pragma", "busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		params.Add("_pragma", "foreign_keys(1)")
	}
	if !strings.Contains(dsn, "_txlock") {
		params.Set("_txlock", "immediate")
	}
	if !strings.Contains(dsn, "_time_format") {
		params.Set("_time_format", "sqlite")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + params.Encode()
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx tallystore.Tx) error) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("tally/sqlite: begin: %w", err))
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := fn(ctx, &Tx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("tally/sqlite: commit: %w", err))
	}
	return nil
}

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tally/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tally/sqlite: migration failed: %w", err)
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

// mapError reports lock contention as errs.ErrConcurrentUpdate and leaves
// every other error untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return errs.Wrap(errs.ErrConcurrentUpdate, err)
		}
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
