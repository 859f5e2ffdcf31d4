package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally"
	"github.com/xraph/tally/events"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/types"
	"github.com/xraph/tally/wallet"
)

type sink struct {
	mu     sync.Mutex
	events []*events.Event
	closed bool
	err    error
}

func (s *sink) Publish(_ context.Context, evt *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func start(t *testing.T, ext *events.Extension) *tally.Tally {
	t.Helper()
	e := tally.New(memory.New(), tally.WithPlugin(ext), tally.WithSweepInterval(0))
	require.NoError(t, e.Start(t.Context()))
	return e
}

func TestPublishesCommittedEvents(t *testing.T) {
	s := &sink{}
	e := start(t, events.NewExtension(s))

	ctx := tally.WithActor(t.Context(), "ops-1", "")
	_, err := e.CreditWallet(ctx, tally.CreditRequest{UserID: "u1", Amount: types.USD(1000), Reference: "DEP-1"})
	require.NoError(t, err)

	// A rejected debit publishes nothing.
	_, err = e.DebitWallet(ctx, tally.DebitRequest{UserID: "u1", Amount: types.USD(5000)})
	require.ErrorIs(t, err, tally.ErrInsufficientFunds)

	require.Equal(t, []string{events.TypeWalletCredited}, s.types())
	evt := s.events[0]
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, "u1", evt.Subject)
	assert.Equal(t, "ops-1", evt.ActorID)

	var tx wallet.Transaction
	require.NoError(t, json.Unmarshal(evt.Data, &tx))
	assert.Equal(t, "DEP-1", tx.Reference)
	assert.Equal(t, int64(1000), tx.Amount.Amount)

	require.NoError(t, e.Stop())
	assert.True(t, s.closed)
}

func TestTypeFilter(t *testing.T) {
	s := &sink{}
	e := start(t, events.NewExtension(s, events.WithTypes(events.TypeWalletLockChanged)))
	t.Cleanup(func() { _ = e.Stop() })

	_, err := e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.USD(1000)})
	require.NoError(t, err)
	_, err = e.LockWallet(t.Context(), "u1", "review")
	require.NoError(t, err)

	assert.Equal(t, []string{events.TypeWalletLockChanged}, s.types())
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	s := &sink{err: errors.New("broker down")}
	e := start(t, events.NewExtension(s))
	t.Cleanup(func() { _ = e.Stop() })

	_, err := e.CreditWallet(t.Context(), tally.CreditRequest{UserID: "u1", Amount: types.USD(1000)})
	require.NoError(t, err)
}

func TestNewEvent(t *testing.T) {
	evt, err := events.New(events.TypeInvoicePaid, "u1", "system", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), map[string]int{"n": 1})
	require.NoError(t, err)
	assert.Len(t, evt.ID, 26)
	assert.JSONEq(t, `{"n":1}`, string(evt.Data))

	_, err = events.New(events.TypeInvoicePaid, "u1", "system", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), make(chan int))
	assert.Error(t, err)
}
