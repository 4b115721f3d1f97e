package repositories

import (
	"context"

	domain "github.com/idpfunnel/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ApplicationRepository persists IDP applications.
type ApplicationRepository interface {
	Insert(ctx context.Context, app domain.Application) error
	Update(ctx context.Context, app domain.Application) error
	FindByID(ctx context.Context, applicationID string) (domain.Application, error)
	FindByPaymentIntent(ctx context.Context, intentID string) (domain.Application, error)
}

// CouponRepository stores coupon rules and their redemption counters.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.CouponRule, error)
	Upsert(ctx context.Context, rule domain.CouponRule, overwrite bool) error
	IncrementUses(ctx context.Context, code string) error
}

// HealthRepository reports dependency status for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
