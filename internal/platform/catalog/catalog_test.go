package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/idpfunnel/api/internal/domain"
)

func TestDefaultMatchesBuiltInPriceTable(t *testing.T) {
	cat, err := Default()
	if err != nil {
		t.Fatalf("Default returned error: %v", err)
	}
	builtin := domain.DefaultPriceTable()
	if cat.Prices.Currency != builtin.Currency || !cat.Prices.TaxRate.Equal(builtin.TaxRate) {
		t.Fatalf("unexpected header %s %s", cat.Prices.Currency, cat.Prices.TaxRate)
	}
	for _, category := range domain.ShippingCategories {
		for _, speed := range domain.ProcessingSpeeds {
			got, _, _ := cat.Prices.Fee(category, speed)
			want, _, _ := builtin.Fee(category, speed)
			if !got.Equal(want) {
				t.Errorf("%s/%s: got %s want %s", category, speed, got, want)
			}
		}
	}
	if len(cat.Coupons) != 1 || cat.Coupons[0].Code != "FREE" || !cat.Coupons[0].Value.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("unexpected coupons %+v", cat.Coupons)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := strings.Join([]string{
		"currency: usd",
		`taxRate: "0.05"`,
		`defaultUnitPrice: "25"`,
		"permits:",
		`  IDP: "30"`,
		"fees:",
		"  domestic: {standard: \"10\", fast: \"20\", fastest: \"30\"}",
		"  international: {standard: \"11\", fast: \"21\", fastest: \"31\"}",
		"  military: {standard: \"12\", fast: \"22\", fastest: \"32\"}",
		"coupons:",
		"  - code: ' spring10 '",
		"    kind: Fixed",
		`    value: "10"`,
		"    active: false",
		"    maxUses: 5",
		"    expiresAt: 2027-01-01T00:00:00Z",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cat.Prices.Currency != "USD" {
		t.Errorf("expected upper-cased currency, got %s", cat.Prices.Currency)
	}
	if !cat.Prices.UnitPrice("idp").Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected lower-cased permit id lookup, got %s", cat.Prices.UnitPrice("idp"))
	}
	coupon := cat.Coupons[0]
	if coupon.Code != "SPRING10" || coupon.Kind != domain.CouponFixed || coupon.Active {
		t.Fatalf("unexpected coupon %+v", coupon)
	}
	if coupon.MaxUses == nil || *coupon.MaxUses != 5 || coupon.ExpiresAt == nil || coupon.ExpiresAt.Year() != 2027 {
		t.Fatalf("unexpected coupon limits %+v", coupon)
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	cat, err := Load("  ")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cat.Prices.Currency != "USD" {
		t.Fatalf("expected default catalog, got %+v", cat.Prices)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	fees := "fees:\n  domestic: {standard: \"10\", fast: \"20\", fastest: \"30\"}\n  international: {standard: \"11\", fast: \"21\", fastest: \"31\"}\n  military: {standard: \"12\", fast: \"22\", fastest: \"32\"}\n"
	header := "currency: USD\ntaxRate: \"0.05\"\ndefaultUnitPrice: \"20\"\n"
	cases := map[string]string{
		"non monotonic fees": header + "fees:\n  domestic: {standard: \"50\", fast: \"20\", fastest: \"30\"}\n  international: {standard: \"11\", fast: \"21\", fastest: \"31\"}\n  military: {standard: \"12\", fast: \"22\", fastest: \"32\"}\n",
		"missing category":   header + "fees:\n  domestic: {standard: \"10\", fast: \"20\", fastest: \"30\"}\n",
		"unknown speed":      header + "fees:\n  domestic: {standard: \"10\", rush: \"20\"}\n",
		"negative price":     "currency: USD\ntaxRate: \"0.05\"\ndefaultUnitPrice: \"-1\"\n" + fees,
		"unknown coupon":     header + fees + "coupons:\n  - {code: X, kind: bogus, value: \"1\"}\n",
		"duplicate coupon":   header + fees + "coupons:\n  - {code: x, kind: fixed, value: \"1\"}\n  - {code: X, kind: fixed, value: \"2\"}\n",
		"percentage over":    header + fees + "coupons:\n  - {code: X, kind: percentage, value: \"150\"}\n",
		"not yaml":           "currency: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
