package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Tally SQLite store. Column
// names match the PostgreSQL schema; only the types differ.
var Migrations = migrate.NewGroup("tally")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_tally_wallets",
			Version: "20260101000001",
			Up: execSQL(`
CREATE TABLE IF NOT EXISTS tally_wallets (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    user_id     TEXT NOT NULL UNIQUE,
    currency    TEXT NOT NULL,
    locked      BOOLEAN NOT NULL DEFAULT FALSE,
    lock_reason TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by  TEXT NOT NULL DEFAULT '',
    updated_by  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tally_wallet_transactions (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    id          TEXT NOT NULL UNIQUE,
    wallet_id   TEXT NOT NULL REFERENCES tally_wallets (id),
    user_id     TEXT NOT NULL,
    direction   TEXT NOT NULL CHECK (direction IN ('credit', 'debit')),
    amount      INTEGER NOT NULL CHECK (amount > 0),
    currency    TEXT NOT NULL,
    reference   TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    invoice_id  TEXT,
    payment_id  TEXT,
    status      TEXT NOT NULL,
    source_ip   TEXT NOT NULL DEFAULT '',
    metadata    TEXT    NOT NULL DEFAULT '{}',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by  TEXT NOT NULL DEFAULT '',
    updated_by  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tally_wallet_txs_wallet ON tally_wallet_transactions (wallet_id, status);
`),
			Down: execSQL(`
DROP TABLE IF EXISTS tally_wallet_transactions;
DROP TABLE IF EXISTS tally_wallets;
`),
		},
		&migrate.Migration{
			Name:    "create_tally_invoices",
			Version: "20260101000002",
			Up: execSQL(`
CREATE TABLE IF NOT EXISTS tally_invoices (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    number          TEXT NOT NULL UNIQUE,
    user_id         TEXT NOT NULL,
    currency        TEXT NOT NULL,
    kind            TEXT NOT NULL,
    status          TEXT NOT NULL,
    line_items      TEXT    NOT NULL DEFAULT '[]',
    subtotal        INTEGER NOT NULL DEFAULT 0,
    tax_amount      INTEGER NOT NULL DEFAULT 0,
    adjustment      INTEGER NOT NULL DEFAULT 0,
    discount_code   TEXT NOT NULL DEFAULT '',
    discount_amount INTEGER NOT NULL DEFAULT 0,
    grand_total     INTEGER NOT NULL DEFAULT 0 CHECK (grand_total >= 0),
    paid_amount     INTEGER NOT NULL DEFAULT 0,
    due_at          DATETIME,
    paid_at         DATETIME,
    cancelled_at    DATETIME,
    cancel_reason   TEXT NOT NULL DEFAULT '',
    note            TEXT NOT NULL DEFAULT '',
    metadata        TEXT    NOT NULL DEFAULT '{}',
    created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by      TEXT NOT NULL DEFAULT '',
    updated_by      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tally_invoices_user ON tally_invoices (user_id, status);

CREATE TABLE IF NOT EXISTS tally_payments (
    seq                   INTEGER PRIMARY KEY AUTOINCREMENT,
    id                    TEXT NOT NULL UNIQUE,
    invoice_id            TEXT NOT NULL REFERENCES tally_invoices (id),
    amount                INTEGER NOT NULL CHECK (amount > 0),
    currency              TEXT NOT NULL,
    method                TEXT NOT NULL,
    status                TEXT NOT NULL,
    reference             TEXT NOT NULL UNIQUE,
    gateway               TEXT NOT NULL DEFAULT '',
    gateway_reference     TEXT UNIQUE,
    payment_url           TEXT NOT NULL DEFAULT '',
    expires_at            DATETIME,
    external_id           TEXT NOT NULL DEFAULT '',
    wallet_transaction_id TEXT,
    description           TEXT NOT NULL DEFAULT '',
    failure_reason        TEXT NOT NULL DEFAULT '',
    source_ip             TEXT NOT NULL DEFAULT '',
    resolved_at           DATETIME,
    created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by            TEXT NOT NULL DEFAULT '',
    updated_by            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tally_payments_invoice ON tally_payments (invoice_id);
CREATE INDEX IF NOT EXISTS idx_tally_payments_pending ON tally_payments (expires_at)
    WHERE status = 'pending' AND method = 'online_gateway';
`),
			Down: execSQL(`
DROP TABLE IF EXISTS tally_payments;
DROP TABLE IF EXISTS tally_invoices;
`),
		},
		&migrate.Migration{
			Name:    "create_tally_discount_codes",
			Version: "20260101000003",
			Up: execSQL(`
CREATE TABLE IF NOT EXISTS tally_discount_codes (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    code          TEXT NOT NULL UNIQUE,
    description   TEXT NOT NULL DEFAULT '',
    type          TEXT NOT NULL,
    value         TEXT NOT NULL,
    currency      TEXT NOT NULL,
    max_discount  INTEGER,
    minimum_order INTEGER,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    starts_at     DATETIME NOT NULL,
    ends_at       DATETIME,
    usage_limit   INTEGER,
    redemptions   INTEGER NOT NULL DEFAULT 0,
    group_rules   TEXT    NOT NULL DEFAULT '[]',
    metadata      TEXT    NOT NULL DEFAULT '{}',
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by    TEXT NOT NULL DEFAULT '',
    updated_by    TEXT NOT NULL DEFAULT ''
);
`),
			Down: execSQL(`
DROP TABLE IF EXISTS tally_discount_codes;
`),
		},
		&migrate.Migration{
			Name:    "create_tally_withdrawals",
			Version: "20260101000004",
			Up: execSQL(`
CREATE TABLE IF NOT EXISTS tally_withdrawals (
    seq                   INTEGER PRIMARY KEY AUTOINCREMENT,
    id                    TEXT NOT NULL UNIQUE,
    requester_id          TEXT NOT NULL,
    requester_type        TEXT NOT NULL,
    amount                INTEGER NOT NULL CHECK (amount > 0),
    currency              TEXT NOT NULL,
    destination_type      TEXT NOT NULL,
    destination_value     TEXT NOT NULL,
    destination_holder    TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL,
    wallet_transaction_id TEXT,
    payout_reference      TEXT NOT NULL DEFAULT '',
    admin_notes           TEXT NOT NULL DEFAULT '',
    reviewed_by           TEXT NOT NULL DEFAULT '',
    reviewed_at           DATETIME,
    processed_by          TEXT NOT NULL DEFAULT '',
    processed_at          DATETIME,
    created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by            TEXT NOT NULL DEFAULT '',
    updated_by            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tally_withdrawals_requester ON tally_withdrawals (requester_id, status);
`),
			Down: execSQL(`
DROP TABLE IF EXISTS tally_withdrawals;
`),
		},
		&migrate.Migration{
			Name:    "create_tally_settings",
			Version: "20260101000005",
			Up: execSQL(`
CREATE TABLE IF NOT EXISTS tally_settings (
    id                  TEXT PRIMARY KEY,
    default_currency    TEXT NOT NULL,
    minimum_withdrawal  INTEGER NOT NULL DEFAULT 0,
    gateway_session_ttl INTEGER NOT NULL,
    gateway_name        TEXT NOT NULL DEFAULT '',
    created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by          TEXT NOT NULL DEFAULT '',
    updated_by          TEXT NOT NULL DEFAULT ''
);
`),
			Down: execSQL(`
DROP TABLE IF EXISTS tally_settings;
`),
		},
	)
}

// execSQL runs a migration script in a single statement batch.
func execSQL(query string) migrate.MigrateFunc {
	return func(ctx context.Context, exec migrate.Executor) error {
		_, err := exec.Exec(ctx, query)
		return err
	}
}
