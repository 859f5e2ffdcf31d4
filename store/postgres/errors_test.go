package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/xraph/tally/errs"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	for _, code := range []string{serializationFailure, deadlockDetected, lockNotAvailable} {
		err := mapError(fmt.Errorf("pgdriver: tx query: %w", &pgconn.PgError{Code: code}))
		assert.ErrorIs(t, err, errs.ErrConcurrentUpdate, code)
		assert.True(t, errs.IsRetryable(err), code)
	}

	unique := &pgconn.PgError{Code: "23505"}
	assert.Same(t, unique, mapError(unique))

	notFound := errs.With(errs.ErrWalletNotFound, "user u1")
	assert.Equal(t, notFound, mapError(notFound))

	boom := errors.New("boom")
	assert.Equal(t, boom, mapError(boom))
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, isNoRows(pgx.ErrNoRows))
	assert.True(t, isNoRows(sql.ErrNoRows))
	assert.True(t, isNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
	assert.False(t, isNoRows(errors.New("boom")))
}
