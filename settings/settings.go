// Package settings holds the single-row financial settings aggregate. It is
// read and written inside the same store transaction as any calculation that
// depends on it.
package settings

import (
	"context"
	"time"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/types"
)

// DefaultID is the primary key of the only settings row.
const DefaultID = "default"

// Settings are the engine's persisted financial settings.
type Settings struct {
	types.Entity
	ID                string        `json:"id"`
	DefaultCurrency   string        `json:"default_currency"`
	MinimumWithdrawal int64         `json:"minimum_withdrawal"`
	GatewaySessionTTL time.Duration `json:"gateway_session_ttl"`
	GatewayName       string        `json:"gateway_name,omitempty"`
}

// Default returns the settings created on first access.
func Default(at time.Time) *Settings {
	return &Settings{
		Entity:            types.NewEntityAt(at, "system"),
		ID:                DefaultID,
		DefaultCurrency:   "usd",
		MinimumWithdrawal: 1000,
		GatewaySessionTTL: 15 * time.Minute,
	}
}

// MinimumWithdrawalAmount returns the minimum withdrawal in the given currency.
func (s *Settings) MinimumWithdrawalAmount(currency string) types.Money {
	return types.New(s.MinimumWithdrawal, currency)
}

// Validate checks the settings before they are stored.
func (s *Settings) Validate() error {
	var me errs.MultiError
	if s.DefaultCurrency == "" {
		me.Add(errs.Invalid("default_currency", "is required"))
	}
	if s.MinimumWithdrawal < 0 {
		me.Add(errs.Invalid("minimum_withdrawal", "must not be negative"))
	}
	if s.GatewaySessionTTL <= 0 {
		me.Add(errs.Invalid("gateway_session_ttl", "must be positive"))
	}
	return me.ErrOrNil()
}

// Store persists the settings row. GetSettings returns ErrSettingsNotFound
// until the row is first saved.
type Store interface {
	GetSettings(ctx context.Context) (*Settings, error)
	LockSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error
}
