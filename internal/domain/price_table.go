package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceTable holds the static inputs of order pricing. It is read-only once built.
type PriceTable struct {
	Currency         string
	TaxRate          decimal.Decimal
	DefaultUnitPrice decimal.Decimal
	PermitPrices     map[string]decimal.Decimal
	Fees             map[ShippingCategory]map[ProcessingSpeed]decimal.Decimal
}

// DefaultPriceTable returns the built-in USD price list.
func DefaultPriceTable() PriceTable {
	unit := decimal.NewFromInt(20)
	return PriceTable{
		Currency:         "USD",
		TaxRate:          decimal.RequireFromString("0.0775"),
		DefaultUnitPrice: unit,
		PermitPrices: map[string]decimal.Decimal{
			"idp":      unit,
			"idp_1926": unit,
			"idp_1949": unit,
			"idp_1968": unit,
		},
		Fees: map[ShippingCategory]map[ProcessingSpeed]decimal.Decimal{
			ShippingDomestic: {
				SpeedStandard: decimal.NewFromInt(58),
				SpeedFast:     decimal.NewFromInt(88),
				SpeedFastest:  decimal.NewFromInt(128),
			},
			ShippingInternational: {
				SpeedStandard: decimal.NewFromInt(78),
				SpeedFast:     decimal.NewFromInt(108),
				SpeedFastest:  decimal.NewFromInt(148),
			},
			ShippingMilitary: {
				SpeedStandard: decimal.NewFromInt(68),
				SpeedFast:     decimal.NewFromInt(98),
				SpeedFastest:  decimal.NewFromInt(138),
			},
		},
	}
}

// KnownPermit reports whether the permit id has an explicit price.
func (t PriceTable) KnownPermit(id string) bool {
	_, ok := t.PermitPrices[normalizePermitID(id)]
	return ok
}

// UnitPrice returns the price of one permit, falling back to the default unit price.
func (t PriceTable) UnitPrice(id string) decimal.Decimal {
	if price, ok := t.PermitPrices[normalizePermitID(id)]; ok {
		return price
	}
	return t.DefaultUnitPrice
}

// Fee returns the combined processing and shipping fee. An unknown category or speed prices
// as domestic standard, and the returned category and speed say which cell was used.
func (t PriceTable) Fee(category ShippingCategory, speed ProcessingSpeed) (decimal.Decimal, ShippingCategory, ProcessingSpeed) {
	if row, ok := t.Fees[category]; ok {
		if fee, ok := row[speed]; ok {
			return fee, category, speed
		}
	}
	return t.Fees[ShippingDomestic][SpeedStandard], ShippingDomestic, SpeedStandard
}

// Validate checks the table is complete, non-negative and that faster tiers never cost less.
func (t PriceTable) Validate() error {
	if strings.TrimSpace(t.Currency) == "" {
		return errors.New("price table: currency is required")
	}
	if t.TaxRate.IsNegative() {
		return errors.New("price table: tax rate cannot be negative")
	}
	if t.DefaultUnitPrice.IsNegative() {
		return errors.New("price table: default unit price cannot be negative")
	}
	for id, price := range t.PermitPrices {
		if price.IsNegative() {
			return fmt.Errorf("price table: permit %q has a negative price", id)
		}
	}
	for _, category := range ShippingCategories {
		row, ok := t.Fees[category]
		if !ok {
			return fmt.Errorf("price table: missing fees for %s", category)
		}
		previous := decimal.Zero
		for _, speed := range ProcessingSpeeds {
			fee, ok := row[speed]
			if !ok {
				return fmt.Errorf("price table: missing %s/%s fee", category, speed)
			}
			if fee.IsNegative() {
				return fmt.Errorf("price table: %s/%s fee cannot be negative", category, speed)
			}
			if fee.LessThan(previous) {
				return fmt.Errorf("price table: %s/%s fee is lower than the slower tier", category, speed)
			}
			previous = fee
		}
	}
	return nil
}

func normalizePermitID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
