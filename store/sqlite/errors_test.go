package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/tally/errs"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	other := errors.New("disk I/O error")
	assert.Same(t, other, mapError(other))

	notFound := errs.With(errs.ErrInvoiceNotFound, "invoice x")
	assert.Equal(t, notFound, mapError(notFound))
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, isNoRows(sql.ErrNoRows))
	assert.True(t, isNoRows(fmt.Errorf("sqlitedriver: %w", sql.ErrNoRows)))
	assert.False(t, isNoRows(errors.New("boom")))
}

func TestWithDefaults(t *testing.T) {
	dsn := withDefaults("tally.db")
	assert.Contains(t, dsn, "tally.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_time_format=sqlite")
	assert.Contains(t, dsn, "busy_timeout")
	assert.Contains(t, dsn, "foreign_keys")

	dsn = withDefaults("file:x.db?_txlock=deferred")
	assert.Contains(t, dsn, "file:x.db?_txlock=deferred&")
	assert.NotContains(t, dsn, "_txlock=immediate")
}
