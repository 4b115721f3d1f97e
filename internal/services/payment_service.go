package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/payments"
	"github.com/idpfunnel/api/internal/repositories"
)

const paymentDescription = "International Driving Permit application"

var (
	// ErrPaymentInvalidInput indicates the pricing request failed validation.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentIntentLocked indicates the payment intent is processing or settled and its amount can no longer change.
	ErrPaymentIntentLocked = errors.New("payment: payment intent can no longer be changed")
	// ErrPaymentProviderUnavailable indicates the payment processor rejected or failed the call.
	ErrPaymentProviderUnavailable = errors.New("payment: provider unavailable")
)

// PaymentServiceDeps bundles the collaborators of the payment service.
type PaymentServiceDeps struct {
	Applications repositories.ApplicationRepository
	Pricing      *PricingEngine
	Provider     payments.Provider
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type paymentService struct {
	applications repositories.ApplicationRepository
	pricing      *PricingEngine
	provider     payments.Provider
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService wires pricing to the payment processor.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Applications == nil {
		return nil, errors.New("payment service: application repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("payment service: pricing engine is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment service: payment provider is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		applications: deps.Applications,
		pricing:      deps.Pricing,
		provider:     deps.Provider,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *paymentService) Quote(ctx context.Context, req OrderRequest) (domain.OrderBreakdown, error) {
	if len(req.Permits) > maxPermitsPerOrder {
		return domain.OrderBreakdown{}, fmt.Errorf("%w: at most %d permits per order", ErrPaymentInvalidInput, maxPermitsPerOrder)
	}
	return s.pricing.ComputeOrder(ctx, req), nil
}

func (s *paymentService) CreatePaymentIntent(ctx context.Context, applicationID string) (PaymentIntentResult, error) {
	app, err := s.loadPayable(ctx, applicationID)
	if err != nil {
		return PaymentIntentResult{}, err
	}

	breakdown := s.pricing.ComputeOrder(ctx, OrderRequest{
		Permits:          app.Permits,
		ShippingCategory: app.ShippingCategory,
		ProcessingSpeed:  app.ProcessingSpeed,
		CouponCode:       app.CouponCode,
	})
	if !breakdown.CouponApplied() {
		app.CouponCode = ""
	}

	var intent payments.Intent
	if app.PaymentIntentID != "" {
		intent, err = s.syncIntent(ctx, app, breakdown)
	} else {
		intent, err = s.provider.CreatePaymentIntent(ctx, payments.IntentRequest{
			Amount:         breakdown.AmountInMinorUnits,
			Currency:       breakdown.Currency,
			Description:    paymentDescription,
			ReceiptEmail:   app.Applicant.Email,
			Metadata:       intentMetadata(app, breakdown),
			IdempotencyKey: app.ID + ":" + strconv.FormatInt(breakdown.AmountInMinorUnits, 10),
		})
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
		}
	}
	if err != nil {
		return PaymentIntentResult{}, err
	}

	app.PaymentIntentID = intent.ID
	app.Pricing = &breakdown
	app.Status = domain.ApplicationStatusAwaitingPayment
	app.UpdatedAt = s.clock()
	if err := s.applications.Update(ctx, app); err != nil {
		s.logger(ctx, "payment.intent_persist_failed", map[string]any{
			"applicationId": app.ID,
			"paymentIntent": intent.ID,
			"error":         err.Error(),
		})
		return PaymentIntentResult{}, translateApplicationRepoError(err)
	}

	s.logger(ctx, "payment.intent_ready", map[string]any{
		"applicationId": app.ID,
		"paymentIntent": intent.ID,
		"amount":        breakdown.AmountInMinorUnits,
		"couponStatus":  string(breakdown.CouponStatus),
	})
	return PaymentIntentResult{
		Application:  app,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Breakdown:    breakdown,
	}, nil
}

func (s *paymentService) ApplyCoupon(ctx context.Context, applicationID, code string) (PaymentIntentResult, error) {
	app, err := s.loadPayable(ctx, applicationID)
	if err != nil {
		return PaymentIntentResult{}, err
	}

	base := app.Pricing
	if base == nil {
		computed := s.pricing.ComputeOrder(ctx, OrderRequest{
			Permits:          app.Permits,
			ShippingCategory: app.ShippingCategory,
			ProcessingSpeed:  app.ProcessingSpeed,
		})
		base = &computed
	}
	breakdown := s.pricing.ApplyCoupon(ctx, *base, code)
	app.CouponCode = ""
	if breakdown.CouponApplied() {
		app.CouponCode = breakdown.CouponCode
	}

	result := PaymentIntentResult{Breakdown: breakdown}
	if app.PaymentIntentID != "" {
		intent, err := s.syncIntent(ctx, app, breakdown)
		if err != nil {
			return PaymentIntentResult{}, err
		}
		result.IntentID = intent.ID
		result.ClientSecret = intent.ClientSecret
	}

	app.Pricing = &breakdown
	app.UpdatedAt = s.clock()
	if err := s.applications.Update(ctx, app); err != nil {
		return PaymentIntentResult{}, translateApplicationRepoError(err)
	}
	result.Application = app

	s.logger(ctx, "payment.coupon_applied", map[string]any{
		"applicationId": app.ID,
		"couponCode":    breakdown.CouponCode,
		"couponStatus":  string(breakdown.CouponStatus),
		"amount":        breakdown.AmountInMinorUnits,
	})
	return result, nil
}

// syncIntent brings an existing intent's amount in line with breakdown.
func (s *paymentService) syncIntent(ctx context.Context, app domain.Application, breakdown domain.OrderBreakdown) (payments.Intent, error) {
	intent, err := s.provider.LookupPaymentIntent(ctx, app.PaymentIntentID)
	if err != nil {
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}
	if !intent.Updatable() {
		return payments.Intent{}, fmt.Errorf("%w: intent %s is %s", ErrPaymentIntentLocked, intent.ID, intent.Status)
	}
	if intent.Amount == breakdown.AmountInMinorUnits {
		return intent, nil
	}
	updated, err := s.provider.UpdatePaymentIntent(ctx, payments.UpdateIntentRequest{
		IntentID: intent.ID,
		Amount:   breakdown.AmountInMinorUnits,
		Metadata: intentMetadata(app, breakdown),
	})
	if err != nil {
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrPaymentProviderUnavailable, err)
	}
	if updated.ClientSecret == "" {
		updated.ClientSecret = intent.ClientSecret
	}
	return updated, nil
}

func (s *paymentService) loadPayable(ctx context.Context, applicationID string) (domain.Application, error) {
	id := strings.TrimSpace(applicationID)
	if id == "" {
		return domain.Application{}, fmt.Errorf("%w: application id is required", ErrApplicationInvalidInput)
	}
	app, err := s.applications.FindByID(ctx, id)
	if err != nil {
		return domain.Application{}, translateApplicationRepoError(err)
	}
	if !app.Status.Editable() {
		return domain.Application{}, fmt.Errorf("%w: status %s", ErrApplicationLocked, app.Status)
	}
	if len(app.Permits) == 0 {
		return domain.Application{}, fmt.Errorf("%w: application has no permits", ErrApplicationInvalidInput)
	}
	return app, nil
}

func intentMetadata(app domain.Application, breakdown domain.OrderBreakdown) map[string]string {
	coupon := ""
	if breakdown.CouponApplied() {
		coupon = breakdown.CouponCode
	}
	// An empty value removes a coupon recorded by an earlier update.
	return map[string]string{
		payments.MetadataApplicationID: app.ID,
		"permits":                      strings.Join(app.Permits, ","),
		"shipping":                     string(breakdown.ShippingCategory) + "/" + string(breakdown.ProcessingSpeed),
		"coupon_code":                  coupon,
	}
}
