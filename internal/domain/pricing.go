package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ShippingCategory selects the row of the combined processing and shipping fee table.
type ShippingCategory string

const (
	ShippingDomestic      ShippingCategory = "domestic"
	ShippingInternational ShippingCategory = "international"
	ShippingMilitary      ShippingCategory = "military"
)

// ProcessingSpeed selects the column of the combined processing and shipping fee table.
type ProcessingSpeed string

const (
	SpeedStandard ProcessingSpeed = "standard"
	SpeedFast     ProcessingSpeed = "fast"
	SpeedFastest  ProcessingSpeed = "fastest"
)

// ShippingCategories lists categories in table order.
var ShippingCategories = []ShippingCategory{ShippingDomestic, ShippingInternational, ShippingMilitary}

// ProcessingSpeeds lists speed tiers from slowest to fastest.
var ProcessingSpeeds = []ProcessingSpeed{SpeedStandard, SpeedFast, SpeedFastest}

// ParseShippingCategory normalises user input; ok is false for unknown categories.
func ParseShippingCategory(value string) (ShippingCategory, bool) {
	category := ShippingCategory(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range ShippingCategories {
		if category == known {
			return category, true
		}
	}
	return category, false
}

// ParseProcessingSpeed normalises user input; ok is false for unknown speeds.
func ParseProcessingSpeed(value string) (ProcessingSpeed, bool) {
	speed := ProcessingSpeed(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range ProcessingSpeeds {
		if speed == known {
			return speed, true
		}
	}
	return speed, false
}

// CouponKind distinguishes percentage coupons from fixed amount coupons.
type CouponKind string

const (
	CouponPercentage CouponKind = "percentage"
	CouponFixed      CouponKind = "fixed"
)

// CouponRule describes a discount code and the limits that keep it redeemable.
type CouponRule struct {
	Code      string
	Kind      CouponKind
	Value     decimal.Decimal
	Active    bool
	ExpiresAt *time.Time
	MaxUses   *int
	Uses      int
}

// NormalizeCouponCode trims and upper-cases a coupon code for lookups.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeemable reports whether the coupon is active, unexpired and under its use cap at now.
func (c CouponRule) Redeemable(now time.Time) bool {
	return c.RedemptionStatus(now) == CouponStatusApplied
}

// RedemptionStatus classifies the coupon at now. Malformed rules count as inactive.
func (c CouponRule) RedemptionStatus(now time.Time) CouponStatus {
	if !c.Active {
		return CouponStatusInactive
	}
	switch c.Kind {
	case CouponPercentage, CouponFixed:
	default:
		return CouponStatusInactive
	}
	if c.Value.IsNegative() {
		return CouponStatusInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return CouponStatusExpired
	}
	if c.MaxUses != nil && c.Uses >= *c.MaxUses {
		return CouponStatusExhausted
	}
	return CouponStatusApplied
}

// CouponStatus explains the outcome of a coupon lookup during pricing.
type CouponStatus string

const (
	CouponStatusNone        CouponStatus = ""
	CouponStatusApplied     CouponStatus = "applied"
	CouponStatusNotFound    CouponStatus = "not_found"
	CouponStatusInactive    CouponStatus = "inactive"
	CouponStatusExpired     CouponStatus = "expired"
	CouponStatusExhausted   CouponStatus = "exhausted"
	CouponStatusUnavailable CouponStatus = "unavailable"
)

// OrderBreakdown is the priced result of an application order. Amounts are major units.
type OrderBreakdown struct {
	Currency                string
	Permits                 []string
	ShippingCategory        ShippingCategory
	ProcessingSpeed         ProcessingSpeed
	PermitTotal             decimal.Decimal
	ShippingProcessingPrice decimal.Decimal
	Subtotal                decimal.Decimal
	TaxRate                 decimal.Decimal
	TaxAmount               decimal.Decimal
	TotalBeforeDiscount     decimal.Decimal
	CouponCode              string
	CouponStatus            CouponStatus
	DiscountAmount          decimal.Decimal
	FinalTotal              decimal.Decimal
	AmountInMinorUnits      int64
	MinimumChargeApplied    bool
}

// CouponApplied reports whether a discount code contributed to the total.
func (b OrderBreakdown) CouponApplied() bool {
	return b.CouponStatus == CouponStatusApplied
}
