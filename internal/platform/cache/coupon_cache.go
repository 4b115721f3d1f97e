package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/idpfunnel/api/internal/domain"
)

const (
	couponKeyPrefix   = "idp:coupon:"
	defaultCouponTTL  = 5 * time.Minute
	negativeTTLFactor = 5
)

// CouponSource mirrors the pricing engine's coupon lookup contract.
type CouponSource interface {
	LookupCoupon(ctx context.Context, code string) (domain.CouponRule, bool, error)
}

// CouponRedeemer records a coupon redemption.
type CouponRedeemer interface {
	RedeemCoupon(ctx context.Context, code string) error
}

// CouponCache decorates a CouponSource with a read-through cache. Cache failures are logged
// and treated as misses so pricing keeps working when Redis is down.
type CouponCache struct {
	store  Store
	source CouponSource
	ttl    time.Duration
	logger func(context.Context, string, map[string]any)
}

// CouponCacheDeps bundles the collaborators of the coupon cache.
type CouponCacheDeps struct {
	Store  Store
	Source CouponSource
	TTL    time.Duration
	Logger func(context.Context, string, map[string]any)
}

// NewCouponCache validates deps and returns the decorator.
func NewCouponCache(deps CouponCacheDeps) (*CouponCache, error) {
	if deps.Store == nil {
		return nil, errors.New("coupon cache: store is required")
	}
	if deps.Source == nil {
		return nil, errors.New("coupon cache: source is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultCouponTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CouponCache{store: deps.Store, source: deps.Source, ttl: ttl, logger: logger}, nil
}

type cachedCoupon struct {
	Found     bool            `json:"found"`
	Code      string          `json:"code,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Value     decimal.Decimal `json:"value"`
	Active    bool            `json:"active,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	MaxUses   *int            `json:"maxUses,omitempty"`
	Uses      int             `json:"uses,omitempty"`
}

// LookupCoupon implements CouponSource.
func (c *CouponCache) LookupCoupon(ctx context.Context, code string) (domain.CouponRule, bool, error) {
	normalized := domain.NormalizeCouponCode(code)
	key := couponKeyPrefix + normalized

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var entry cachedCoupon
		if decodeErr := json.Unmarshal([]byte(raw), &entry); decodeErr == nil {
			return entry.rule(), entry.Found, nil
		}
		c.logger(ctx, "coupon_cache.decode_failed", map[string]any{"couponCode": normalized})
	case !errors.Is(err, ErrMiss):
		c.logger(ctx, "coupon_cache.get_failed", map[string]any{"couponCode": normalized, "error": err.Error()})
	}

	rule, found, err := c.source.LookupCoupon(ctx, normalized)
	if err != nil {
		return domain.CouponRule{}, false, err
	}

	entry := cachedCoupon{Found: found}
	ttl := c.ttl
	if found {
		entry = cachedCoupon{
			Found:     true,
			Code:      rule.Code,
			Kind:      string(rule.Kind),
			Value:     rule.Value,
			Active:    rule.Active,
			ExpiresAt: rule.ExpiresAt,
			MaxUses:   rule.MaxUses,
			Uses:      rule.Uses,
		}
	} else {
		ttl = c.ttl / negativeTTLFactor
	}
	if payload, marshalErr := json.Marshal(entry); marshalErr == nil {
		if setErr := c.store.Set(ctx, key, string(payload), ttl); setErr != nil {
			c.logger(ctx, "coupon_cache.set_failed", map[string]any{"couponCode": normalized, "error": setErr.Error()})
		}
	}
	return rule, found, nil
}

// RedeemCoupon forwards to the wrapped source when it records redemptions and drops the cached
// entry so the new use count is visible on the next lookup.
func (c *CouponCache) RedeemCoupon(ctx context.Context, code string) error {
	normalized := domain.NormalizeCouponCode(code)
	if redeemer, ok := c.source.(CouponRedeemer); ok {
		if err := redeemer.RedeemCoupon(ctx, normalized); err != nil {
			return err
		}
	}
	if err := c.store.Del(ctx, couponKeyPrefix+normalized); err != nil {
		c.logger(ctx, "coupon_cache.invalidate_failed", map[string]any{"couponCode": normalized, "error": err.Error()})
	}
	return nil
}

func (e cachedCoupon) rule() domain.CouponRule {
	if !e.Found {
		return domain.CouponRule{}
	}
	return domain.CouponRule{
		Code:      e.Code,
		Kind:      domain.CouponKind(e.Kind),
		Value:     e.Value,
		Active:    e.Active,
		ExpiresAt: e.ExpiresAt,
		MaxUses:   e.MaxUses,
		Uses:      e.Uses,
	}
}
