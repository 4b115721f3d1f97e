package services

import (
	"context"
	"errors"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/repositories"
)

// RepositoryCouponSource serves coupon rules and redemptions from the coupon repository.
type RepositoryCouponSource struct {
	repo repositories.CouponRepository
}

// NewRepositoryCouponSource wraps repo as a CouponSource.
func NewRepositoryCouponSource(repo repositories.CouponRepository) (*RepositoryCouponSource, error) {
	if repo == nil {
		return nil, errors.New("coupon source: coupon repository is required")
	}
	return &RepositoryCouponSource{repo: repo}, nil
}

// LookupCoupon implements CouponSource. Unknown codes are reported as not found rather than
// as errors.
func (s *RepositoryCouponSource) LookupCoupon(ctx context.Context, code string) (domain.CouponRule, bool, error) {
	rule, err := s.repo.FindByCode(ctx, domain.NormalizeCouponCode(code))
	if err != nil {
		if isRepoNotFound(err) {
			return domain.CouponRule{}, false, nil
		}
		return domain.CouponRule{}, false, err
	}
	return rule, true, nil
}

// RedeemCoupon implements CouponRedeemer.
func (s *RepositoryCouponSource) RedeemCoupon(ctx context.Context, code string) error {
	return s.repo.IncrementUses(ctx, domain.NormalizeCouponCode(code))
}

// FallbackCouponSource consults primary first and falls back to secondary for codes the
// primary does not know. Errors from primary are returned as is.
type FallbackCouponSource struct {
	primary   CouponSource
	secondary CouponSource
}

// NewFallbackCouponSource chains two coupon sources.
func NewFallbackCouponSource(primary, secondary CouponSource) *FallbackCouponSource {
	return &FallbackCouponSource{primary: primary, secondary: secondary}
}

// LookupCoupon implements CouponSource.
func (s *FallbackCouponSource) LookupCoupon(ctx context.Context, code string) (domain.CouponRule, bool, error) {
	if s.primary != nil {
		rule, found, err := s.primary.LookupCoupon(ctx, code)
		if err != nil || found {
			return rule, found, err
		}
	}
	if s.secondary == nil {
		return domain.CouponRule{}, false, nil
	}
	return s.secondary.LookupCoupon(ctx, code)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
