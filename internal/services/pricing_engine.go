package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/idpfunnel/api/internal/domain"
)

const minimumChargeMinorUnits = 50

var (
	minimumCharge = decimal.New(minimumChargeMinorUnits, -2)
	hundred       = decimal.NewFromInt(100)
)

// CouponSource resolves coupon rules by normalised code. found is false for unknown codes.
type CouponSource interface {
	LookupCoupon(ctx context.Context, code string) (rule domain.CouponRule, found bool, err error)
}

// PricingEngine prices IDP orders: permits, the combined processing and shipping fee, tax,
// an optional coupon and the processor's minimum charge.
type PricingEngine struct {
	prices  domain.PriceTable
	coupons CouponSource
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// PricingEngineDeps bundles the collaborators of the pricing engine.
type PricingEngineDeps struct {
	Prices  *domain.PriceTable
	Coupons CouponSource
	Now     func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

// NewPricingEngine validates the price table and returns an engine. A nil coupon source
// prices every coupon as unknown.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	prices := domain.DefaultPriceTable()
	if deps.Prices != nil {
		prices = *deps.Prices
	}
	if err := prices.Validate(); err != nil {
		return nil, fmt.Errorf("pricing engine: %w", err)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{
		prices:  prices,
		coupons: deps.Coupons,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// OrderRequest is the input of ComputeOrder.
type OrderRequest struct {
	Permits          []string
	ShippingCategory domain.ShippingCategory
	ProcessingSpeed  domain.ProcessingSpeed
	CouponCode       string
}

// Prices exposes the table the engine was built with.
func (e *PricingEngine) Prices() domain.PriceTable {
	return e.prices
}

// ComputeOrder prices an order. It never fails: unknown tiers price as domestic standard and
// coupons that cannot be applied are ignored, with the reason in CouponStatus.
func (e *PricingEngine) ComputeOrder(ctx context.Context, req OrderRequest) domain.OrderBreakdown {
	permitTotal := decimal.Zero
	permits := make([]string, 0, len(req.Permits))
	for _, id := range req.Permits {
		permitTotal = permitTotal.Add(e.prices.UnitPrice(id))
		permits = append(permits, normalizePermit(id))
	}
	permitTotal = roundMoney(permitTotal)

	fee, category, speed := e.prices.Fee(req.ShippingCategory, req.ProcessingSpeed)
	if category != req.ShippingCategory || speed != req.ProcessingSpeed {
		e.logger(ctx, "pricing.fee_fallback", map[string]any{
			"requestedCategory": string(req.ShippingCategory),
			"requestedSpeed":    string(req.ProcessingSpeed),
		})
	}
	subtotal := roundMoney(permitTotal.Add(fee))

	breakdown := domain.OrderBreakdown{
		Currency:                e.prices.Currency,
		Permits:                 permits,
		ShippingCategory:        category,
		ProcessingSpeed:         speed,
		PermitTotal:             permitTotal,
		ShippingProcessingPrice: roundMoney(fee),
		Subtotal:                subtotal,
		TaxRate:                 e.prices.TaxRate,
		TaxAmount:               roundMoney(subtotal.Mul(e.prices.TaxRate)),
	}
	return e.ApplyCoupon(ctx, breakdown, req.CouponCode)
}

// ApplyCoupon recomputes the discount and totals of an existing breakdown for code, replacing
// any coupon applied earlier. An empty code removes the discount.
func (e *PricingEngine) ApplyCoupon(ctx context.Context, breakdown domain.OrderBreakdown, code string) domain.OrderBreakdown {
	total := roundMoney(breakdown.Subtotal.Add(breakdown.TaxAmount))
	breakdown.TotalBeforeDiscount = total
	breakdown.CouponCode = domain.NormalizeCouponCode(code)
	breakdown.CouponStatus = domain.CouponStatusNone
	breakdown.DiscountAmount = decimal.Zero

	if breakdown.CouponCode != "" {
		rule, status := e.resolveCoupon(ctx, breakdown.CouponCode)
		breakdown.CouponStatus = status
		if status == domain.CouponStatusApplied {
			breakdown.DiscountAmount = couponDiscount(rule, total)
		}
	}

	final := total.Sub(breakdown.DiscountAmount)
	if final.IsNegative() {
		final = decimal.Zero
	}
	final = roundMoney(final)

	cents := final.Mul(hundred).Round(0).IntPart()
	breakdown.MinimumChargeApplied = false
	if cents < minimumChargeMinorUnits {
		cents = minimumChargeMinorUnits
		final = minimumCharge
		breakdown.MinimumChargeApplied = true
	}
	breakdown.FinalTotal = final
	breakdown.AmountInMinorUnits = cents
	return breakdown
}

func (e *PricingEngine) resolveCoupon(ctx context.Context, code string) (domain.CouponRule, domain.CouponStatus) {
	if e.coupons == nil {
		return domain.CouponRule{}, domain.CouponStatusNotFound
	}
	rule, found, err := e.coupons.LookupCoupon(ctx, code)
	if err != nil {
		e.logger(ctx, "pricing.coupon_lookup_failed", map[string]any{
			"couponCode": code,
			"error":      err.Error(),
		})
		return domain.CouponRule{}, domain.CouponStatusUnavailable
	}
	if !found {
		return domain.CouponRule{}, domain.CouponStatusNotFound
	}
	status := rule.RedemptionStatus(e.now())
	if status != domain.CouponStatusApplied {
		e.logger(ctx, "pricing.coupon_ignored", map[string]any{
			"couponCode": code,
			"status":     string(status),
		})
	}
	return rule, status
}

func couponDiscount(rule domain.CouponRule, total decimal.Decimal) decimal.Decimal {
	switch rule.Kind {
	case domain.CouponPercentage:
		return roundMoney(total.Mul(rule.Value).Div(hundred))
	case domain.CouponFixed:
		return roundMoney(rule.Value)
	default:
		return decimal.Zero
	}
}

// roundMoney rounds to cents, half away from zero.
func roundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(2)
}

func normalizePermit(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// StaticCouponBook is an in-memory CouponSource, typically loaded from the pricing catalog.
type StaticCouponBook struct {
	rules map[string]domain.CouponRule
}

// NewStaticCouponBook indexes rules by normalised code. Duplicate codes are rejected.
func NewStaticCouponBook(rules []domain.CouponRule) (*StaticCouponBook, error) {
	book := &StaticCouponBook{rules: make(map[string]domain.CouponRule, len(rules))}
	for _, rule := range rules {
		code := domain.NormalizeCouponCode(rule.Code)
		if code == "" {
			return nil, errors.New("coupon book: coupon code is required")
		}
		if _, exists := book.rules[code]; exists {
			return nil, fmt.Errorf("coupon book: duplicate coupon %q", code)
		}
		rule.Code = code
		book.rules[code] = rule
	}
	return book, nil
}

// LookupCoupon implements CouponSource.
func (b *StaticCouponBook) LookupCoupon(_ context.Context, code string) (domain.CouponRule, bool, error) {
	if b == nil {
		return domain.CouponRule{}, false, nil
	}
	rule, ok := b.rules[domain.NormalizeCouponCode(code)]
	return rule, ok, nil
}
