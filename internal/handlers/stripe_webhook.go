package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/idpfunnel/api/internal/payments"
	"github.com/idpfunnel/api/internal/platform/httpx"
	"github.com/idpfunnel/api/internal/platform/observability"
	"github.com/idpfunnel/api/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// StripeWebhookHandlers receive payment intent events from Stripe.
type StripeWebhookHandlers struct {
	verifier    payments.WebhookVerifier
	fulfillment services.FulfillmentService
}

// NewStripeWebhookHandlers constructs the webhook endpoint.
func NewStripeWebhookHandlers(verifier payments.WebhookVerifier, fulfillment services.FulfillmentService) *StripeWebhookHandlers {
	return &StripeWebhookHandlers{verifier: verifier, fulfillment: fulfillment}
}

// Routes registers webhook endpoints under the provided router.
func (h *StripeWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

type webhookAck struct {
	Received bool `json:"received"`
}

// handleStripe acknowledges every verified event with 200. Processing failures are logged and
// recorded on the application; Stripe redelivery is not relied on.
func (h *StripeWebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing is not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	event, err := h.verifier.ParseWebhookEvent(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		code := "invalid_payload"
		if errors.Is(err, payments.ErrInvalidSignature) {
			code = "invalid_signature"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusBadRequest))
		return
	}

	logger := observability.FromContext(ctx).With(
		zap.String("eventId", event.ID),
		zap.String("eventType", event.Type),
		zap.String("paymentIntent", event.IntentID),
	)
	if err := h.fulfillment.HandlePaymentEvent(ctx, event); err != nil {
		logger.Error("payment event processing failed", zap.Error(err))
	} else {
		logger.Info("payment event processed")
	}
	writeJSONResponse(w, r, http.StatusOK, webhookAck{Received: true})
}
