package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS applications (
		id                TEXT PRIMARY KEY,
		status            TEXT NOT NULL,
		applicant         JSONB NOT NULL,
		permits           JSONB NOT NULL,
		travel_date       TEXT NOT NULL DEFAULT '',
		shipping_category TEXT NOT NULL,
		processing_speed  TEXT NOT NULL,
		shipping_address  JSONB NOT NULL,
		documents         JSONB NOT NULL,
		pricing           JSONB,
		coupon_code       TEXT NOT NULL DEFAULT '',
		payment_intent_id TEXT,
		fulfillment_error TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		paid_at           TIMESTAMPTZ,
		fulfilled_at      TIMESTAMPTZ
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_applications_payment_intent ON applications(payment_intent_id) WHERE payment_intent_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);`,
	`CREATE TABLE IF NOT EXISTS coupons (
		code       TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		value      NUMERIC(12,2) NOT NULL,
		active     BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ,
		max_uses   INTEGER,
		uses       INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

// Migrate creates the funnel tables. Statements are idempotent so it is safe on every boot.
func (c *Client) Migrate(ctx context.Context) error {
	if c == nil || c.db == nil {
		return ErrClientClosed
	}
	for i, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return WrapError(fmt.Sprintf("postgres.migrate[%d]", i), err)
		}
	}
	return nil
}
