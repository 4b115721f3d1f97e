package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised payment intent states.
type Status string

const (
	// StatusPending indicates the intent still awaits a payment method or customer action.
	StatusPending Status = "pending"
	// StatusProcessing indicates the processor is settling the payment.
	StatusProcessing Status = "processing"
	// StatusSucceeded indicates the payment has been captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the intent was canceled and cannot be paid.
	StatusFailed Status = "failed"
)

// Webhook event types the fulfillment flow reacts to.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

// MetadataApplicationID is the intent metadata key carrying the application id.
const MetadataApplicationID = "application_id"

var (
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent is returned when a verified webhook payload cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
)

// IntentRequest captures the data required to create a payment intent.
type IntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// UpdateIntentRequest changes the amount (and optionally metadata) of an open intent.
type UpdateIntentRequest struct {
	IntentID string
	Amount   int64
	Metadata map[string]string
}

// Intent is the processor's view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	Metadata     map[string]string
}

// Updatable reports whether the amount of the intent can still change.
func (i Intent) Updatable() bool {
	return i.Status == StatusPending
}

// WebhookEvent is a verified processor event reduced to the fields the API uses.
type WebhookEvent struct {
	ID           string
	Type         string
	IntentID     string
	Status       Status
	Amount       int64
	Currency     string
	Metadata     map[string]string
	FailureCause string
	Created      time.Time
}

// ApplicationID returns the application id recorded on the intent metadata.
func (e WebhookEvent) ApplicationID() string {
	return e.Metadata[MetadataApplicationID]
}

// Provider defines the payment intent operations the API depends on.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	UpdatePaymentIntent(ctx context.Context, req UpdateIntentRequest) (Intent, error)
	LookupPaymentIntent(ctx context.Context, intentID string) (Intent, error)
}

// WebhookVerifier authenticates and decodes webhook deliveries.
type WebhookVerifier interface {
	ParseWebhookEvent(payload []byte, signature string) (WebhookEvent, error)
}
