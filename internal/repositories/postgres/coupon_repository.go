package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/idpfunnel/api/internal/domain"
	ppostgres "github.com/idpfunnel/api/internal/platform/postgres"
	"github.com/idpfunnel/api/internal/repositories"
)

// CouponRepository stores coupon rules and redemption counters.
type CouponRepository struct {
	client *ppostgres.Client
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Postgres-backed coupon repository.
func NewCouponRepository(client *ppostgres.Client) (*CouponRepository, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("coupon repository requires postgres client")
	}
	return &CouponRepository{client: client}, nil
}

// FindByCode loads a coupon by its normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.CouponRule, error) {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return domain.CouponRule{}, ppostgres.NotFound("coupons.find")
	}

	var (
		rule      domain.CouponRule
		kind      string
		value     decimal.Decimal
		expiresAt sql.NullTime
		maxUses   sql.NullInt64
	)
	err := r.client.DB().QueryRowContext(ctx,
		`SELECT code, kind, value, active, expires_at, max_uses, uses FROM coupons WHERE code = $1`,
		normalized,
	).Scan(&rule.Code, &kind, &value, &rule.Active, &expiresAt, &maxUses, &rule.Uses)
	if err != nil {
		return domain.CouponRule{}, ppostgres.WrapError("coupons.find", err)
	}
	rule.Kind = domain.CouponKind(kind)
	rule.Value = value
	if expiresAt.Valid {
		exp := expiresAt.Time.UTC()
		rule.ExpiresAt = &exp
	}
	if maxUses.Valid {
		limit := int(maxUses.Int64)
		rule.MaxUses = &limit
	}
	return rule, nil
}

// Upsert stores rule. Existing rows are only replaced when overwrite is set, and the
// redemption counter is never reset.
func (r *CouponRepository) Upsert(ctx context.Context, rule domain.CouponRule, overwrite bool) error {
	code := domain.NormalizeCouponCode(rule.Code)
	if code == "" {
		return errors.New("coupon code is required")
	}
	var expiresAt sql.NullTime
	if rule.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: rule.ExpiresAt.UTC(), Valid: true}
	}
	var maxUses sql.NullInt64
	if rule.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*rule.MaxUses), Valid: true}
	}

	onConflict := `ON CONFLICT (code) DO NOTHING`
	if overwrite {
		onConflict = `ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind, value = EXCLUDED.value, active = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at, max_uses = EXCLUDED.max_uses, updated_at = now()`
	}
	_, err := r.client.DB().ExecContext(ctx,
		`INSERT INTO coupons (code, kind, value, active, expires_at, max_uses, uses, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now()) `+onConflict,
		code, string(rule.Kind), rule.Value.Round(2), rule.Active, expiresAt, maxUses, rule.Uses,
	)
	return ppostgres.WrapError("coupons.upsert", err)
}

// IncrementUses records one redemption. A coupon already at its cap yields a conflict error.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return ppostgres.NotFound("coupons.increment")
	}
	res, err := r.client.DB().ExecContext(ctx,
		`UPDATE coupons SET uses = uses + 1, updated_at = now()
		WHERE code = $1 AND (max_uses IS NULL OR uses < max_uses)`,
		normalized,
	)
	if err != nil {
		return ppostgres.WrapError("coupons.increment", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ppostgres.WrapError("coupons.increment", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.client.DB().QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`, normalized,
	).Scan(&exists); err != nil {
		return ppostgres.WrapError("coupons.increment", err)
	}
	if !exists {
		return ppostgres.NotFound("coupons.increment")
	}
	return ppostgres.Conflict("coupons.increment", fmt.Errorf("coupon %s has no redemptions left", normalized))
}
