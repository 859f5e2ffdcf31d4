package tally

import (
	"context"
	"errors"

	"github.com/xraph/tally/errs"
	"github.com/xraph/tally/settings"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/types"
)

// Settings returns the financial settings, creating the row on first access.
func (t *Tally) Settings(ctx context.Context) (*settings.Settings, error) {
	var s *settings.Settings
	err := t.runInTx(ctx, "load_settings", func(ctx context.Context, tx store.Tx) error {
		var err error
		s, err = t.loadSettings(ctx, tx)
		return err
	})
	return s, err
}

// UpdateSettings locks the settings row, applies fn and saves the result.
func (t *Tally) UpdateSettings(ctx context.Context, fn func(*settings.Settings) error) (*settings.Settings, error) {
	var s *settings.Settings
	ac := t.audit(ctx)
	err := t.runInTx(ctx, "update_settings", func(ctx context.Context, tx store.Tx) error {
		var err error
		s, err = tx.LockSettings(ctx)
		if errors.Is(err, errs.ErrSettingsNotFound) {
			s, err = t.loadSettings(ctx, tx)
		}
		if err != nil {
			return err
		}

		if err := fn(s); err != nil {
			return err
		}
		s.ID = settings.DefaultID
		s.DefaultCurrency = types.NormalizeCurrency(s.DefaultCurrency)
		s.TouchAt(ac.Timestamp, ac.ActorID)
		if err := s.Validate(); err != nil {
			return err
		}
		return tx.SaveSettings(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("settings updated",
		"default_currency", s.DefaultCurrency,
		"minimum_withdrawal", s.MinimumWithdrawal,
		"gateway_session_ttl", s.GatewaySessionTTL,
	)
	return s, nil
}
