package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/idpfunnel/api/internal/domain"
)

type fakeCouponRepo struct {
	rules      map[string]domain.CouponRule
	findErr    error
	redeemErr  error
	redemption []string
}

func (r *fakeCouponRepo) FindByCode(_ context.Context, code string) (domain.CouponRule, error) {
	if r.findErr != nil {
		return domain.CouponRule{}, r.findErr
	}
	rule, ok := r.rules[code]
	if !ok {
		return domain.CouponRule{}, fakeRepositoryError{msg: "coupon missing", notFound: true}
	}
	return rule, nil
}

func (r *fakeCouponRepo) Upsert(_ context.Context, rule domain.CouponRule, _ bool) error {
	if r.rules == nil {
		r.rules = map[string]domain.CouponRule{}
	}
	r.rules[rule.Code] = rule
	return nil
}

func (r *fakeCouponRepo) IncrementUses(_ context.Context, code string) error {
	if r.redeemErr != nil {
		return r.redeemErr
	}
	r.redemption = append(r.redemption, code)
	return nil
}

func TestRepositoryCouponSourceLookup(t *testing.T) {
	repo := &fakeCouponRepo{rules: map[string]domain.CouponRule{"SAVE10": percentCoupon("SAVE10", 10)}}
	source, err := NewRepositoryCouponSource(repo)
	if err != nil {
		t.Fatalf("NewRepositoryCouponSource: %v", err)
	}

	rule, found, err := source.LookupCoupon(context.Background(), " save10 ")
	if err != nil || !found || rule.Code != "SAVE10" {
		t.Fatalf("expected SAVE10 to be found, got %+v %v %v", rule, found, err)
	}
	if _, found, err := source.LookupCoupon(context.Background(), "NOPE"); err != nil || found {
		t.Fatalf("expected unknown code to be reported as not found, got %v %v", found, err)
	}

	repo.findErr = fakeRepositoryError{msg: "db down", unavailable: true}
	if _, _, err := source.LookupCoupon(context.Background(), "SAVE10"); err == nil {
		t.Fatalf("expected repository failure to surface")
	}
}

func TestRepositoryCouponSourceRedeemNormalisesCode(t *testing.T) {
	repo := &fakeCouponRepo{}
	source, err := NewRepositoryCouponSource(repo)
	if err != nil {
		t.Fatalf("NewRepositoryCouponSource: %v", err)
	}
	if err := source.RedeemCoupon(context.Background(), "welcome5"); err != nil {
		t.Fatalf("RedeemCoupon: %v", err)
	}
	if len(repo.redemption) != 1 || repo.redemption[0] != "WELCOME5" {
		t.Fatalf("unexpected redemptions %v", repo.redemption)
	}
}

func TestNewRepositoryCouponSourceRequiresRepo(t *testing.T) {
	if _, err := NewRepositoryCouponSource(nil); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}

func TestFallbackCouponSource(t *testing.T) {
	primary := &stubCouponSource{rules: map[string]domain.CouponRule{"DB": percentCoupon("DB", 5)}}
	secondary := &stubCouponSource{rules: map[string]domain.CouponRule{
		"DB":     percentCoupon("DB", 50),
		"STATIC": fixedCoupon("STATIC", "3"),
	}}
	source := NewFallbackCouponSource(primary, secondary)
	ctx := context.Background()

	rule, found, err := source.LookupCoupon(ctx, "DB")
	if err != nil || !found || !rule.Value.Equal(percentCoupon("DB", 5).Value) {
		t.Fatalf("expected primary rule to win, got %+v", rule)
	}
	if secondary.calls != 0 {
		t.Fatalf("expected secondary to be skipped")
	}

	if rule, found, _ := source.LookupCoupon(ctx, "STATIC"); !found || rule.Kind != domain.CouponFixed {
		t.Fatalf("expected secondary rule, got %+v", rule)
	}
	if _, found, _ := source.LookupCoupon(ctx, "MISSING"); found {
		t.Fatalf("expected unknown code")
	}

	primary.err = errors.New("redis down")
	if _, _, err := source.LookupCoupon(ctx, "STATIC"); err == nil {
		t.Fatalf("expected primary error to be returned")
	}
}
