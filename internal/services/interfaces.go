package services

import (
	"context"
	"io"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/payments"
	"github.com/idpfunnel/api/internal/platform/storage"
)

// ApplicationService manages IDP applications from intake until payment.
type ApplicationService interface {
	CreateApplication(ctx context.Context, cmd CreateApplicationCommand) (domain.Application, error)
	UpdateApplication(ctx context.Context, cmd UpdateApplicationCommand) (domain.Application, error)
	GetApplication(ctx context.Context, applicationID string) (domain.Application, error)
	AttachDocument(ctx context.Context, cmd AttachDocumentCommand) (domain.Document, error)
}

// PaymentService prices applications and keeps their payment intents in step with the price.
type PaymentService interface {
	Quote(ctx context.Context, req OrderRequest) (domain.OrderBreakdown, error)
	CreatePaymentIntent(ctx context.Context, applicationID string) (PaymentIntentResult, error)
	ApplyCoupon(ctx context.Context, applicationID, code string) (PaymentIntentResult, error)
}

// FulfillmentService reacts to verified payment webhooks.
type FulfillmentService interface {
	HandlePaymentEvent(ctx context.Context, event payments.WebhookEvent) error
}

// SystemService exposes operational endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// CreateApplicationCommand carries the intake form submitted by the applicant.
type CreateApplicationCommand struct {
	Applicant        domain.Applicant
	Permits          []string
	TravelDate       string
	ShippingCategory string
	ProcessingSpeed  string
	ShippingAddress  domain.ShippingAddress
	CouponCode       string
}

// UpdateApplicationCommand applies a partial update; nil fields are left unchanged.
type UpdateApplicationCommand struct {
	ApplicationID    string
	Applicant        *domain.Applicant
	Permits          *[]string
	TravelDate       *string
	ShippingCategory *string
	ProcessingSpeed  *string
	ShippingAddress  *domain.ShippingAddress
}

// AttachDocumentCommand uploads one identity document for an application.
type AttachDocumentCommand struct {
	ApplicationID string
	Kind          string
	ContentType   string
	Body          io.Reader
}

// PaymentIntentResult is returned to the browser to confirm the payment client side.
type PaymentIntentResult struct {
	Application  domain.Application
	IntentID     string
	ClientSecret string
	Breakdown    domain.OrderBreakdown
}

// DocumentUploader stores application documents in object storage.
type DocumentUploader interface {
	Upload(ctx context.Context, req storage.UploadRequest) (storage.UploadResult, error)
}

// CouponRedeemer records a coupon use once an order has been paid.
type CouponRedeemer interface {
	RedeemCoupon(ctx context.Context, code string) error
}

// FulfillmentRelay forwards paid applications to the fulfillment automation webhook.
type FulfillmentRelay interface {
	Relay(ctx context.Context, payload FulfillmentPayload) error
}

// FulfillmentEventPublisher announces fulfillment requests to asynchronous consumers.
type FulfillmentEventPublisher interface {
	PublishFulfillmentEvent(ctx context.Context, message FulfillmentEventMessage) (string, error)
}
