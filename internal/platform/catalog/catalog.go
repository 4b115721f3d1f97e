package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/idpfunnel/api/internal/domain"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog is the pricing table plus the coupons shipped with it.
type Catalog struct {
	Prices  domain.PriceTable
	Coupons []domain.CouponRule
}

type catalogFile struct {
	Currency         string                       `yaml:"currency"`
	TaxRate          string                       `yaml:"taxRate"`
	DefaultUnitPrice string                       `yaml:"defaultUnitPrice"`
	Permits          map[string]string            `yaml:"permits"`
	Fees             map[string]map[string]string `yaml:"fees"`
	Coupons          []couponEntry                `yaml:"coupons"`
}

type couponEntry struct {
	Code      string     `yaml:"code"`
	Kind      string     `yaml:"kind"`
	Value     string     `yaml:"value"`
	Active    *bool      `yaml:"active"`
	ExpiresAt *time.Time `yaml:"expiresAt"`
	MaxUses   *int       `yaml:"maxUses"`
}

// Default returns the embedded catalog.
func Default() (Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}

	prices := domain.PriceTable{
		Currency:     strings.ToUpper(strings.TrimSpace(file.Currency)),
		PermitPrices: make(map[string]decimal.Decimal, len(file.Permits)),
		Fees:         make(map[domain.ShippingCategory]map[domain.ProcessingSpeed]decimal.Decimal, len(file.Fees)),
	}
	var err error
	if prices.TaxRate, err = parseAmount("taxRate", file.TaxRate); err != nil {
		return Catalog{}, err
	}
	if prices.DefaultUnitPrice, err = parseAmount("defaultUnitPrice", file.DefaultUnitPrice); err != nil {
		return Catalog{}, err
	}
	for id, raw := range file.Permits {
		price, err := parseAmount("permits."+id, raw)
		if err != nil {
			return Catalog{}, err
		}
		prices.PermitPrices[strings.ToLower(strings.TrimSpace(id))] = price
	}
	for rawCategory, row := range file.Fees {
		category, ok := domain.ParseShippingCategory(rawCategory)
		if !ok {
			return Catalog{}, fmt.Errorf("unknown shipping category %q", rawCategory)
		}
		speeds := make(map[domain.ProcessingSpeed]decimal.Decimal, len(row))
		for rawSpeed, raw := range row {
			speed, ok := domain.ParseProcessingSpeed(rawSpeed)
			if !ok {
				return Catalog{}, fmt.Errorf("unknown processing speed %q", rawSpeed)
			}
			fee, err := parseAmount(fmt.Sprintf("fees.%s.%s", category, speed), raw)
			if err != nil {
				return Catalog{}, err
			}
			speeds[speed] = fee
		}
		prices.Fees[category] = speeds
	}
	if err := prices.Validate(); err != nil {
		return Catalog{}, err
	}

	coupons := make([]domain.CouponRule, 0, len(file.Coupons))
	seen := make(map[string]struct{}, len(file.Coupons))
	for i, entry := range file.Coupons {
		rule, err := entry.rule()
		if err != nil {
			return Catalog{}, fmt.Errorf("coupons[%d]: %w", i, err)
		}
		if _, dup := seen[rule.Code]; dup {
			return Catalog{}, fmt.Errorf("coupons[%d]: duplicate code %s", i, rule.Code)
		}
		seen[rule.Code] = struct{}{}
		coupons = append(coupons, rule)
	}
	return Catalog{Prices: prices, Coupons: coupons}, nil
}

func (e couponEntry) rule() (domain.CouponRule, error) {
	code := domain.NormalizeCouponCode(e.Code)
	if code == "" {
		return domain.CouponRule{}, errors.New("code is required")
	}
	kind := domain.CouponKind(strings.ToLower(strings.TrimSpace(e.Kind)))
	if kind != domain.CouponPercentage && kind != domain.CouponFixed {
		return domain.CouponRule{}, fmt.Errorf("unknown coupon kind %q", e.Kind)
	}
	value, err := parseAmount("value", e.Value)
	if err != nil {
		return domain.CouponRule{}, err
	}
	if kind == domain.CouponPercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return domain.CouponRule{}, fmt.Errorf("percentage coupon %s exceeds 100", code)
	}
	rule := domain.CouponRule{
		Code:   code,
		Kind:   kind,
		Value:  value,
		Active: e.Active == nil || *e.Active,
	}
	if e.ExpiresAt != nil {
		exp := e.ExpiresAt.UTC()
		rule.ExpiresAt = &exp
	}
	if e.MaxUses != nil {
		if *e.MaxUses < 0 {
			return domain.CouponRule{}, fmt.Errorf("coupon %s maxUses cannot be negative", code)
		}
		limit := *e.MaxUses
		rule.MaxUses = &limit
	}
	return rule, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s cannot be negative", field)
	}
	return value, nil
}
