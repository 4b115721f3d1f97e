package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/idpfunnel/api/internal/platform/httpx"
	"github.com/idpfunnel/api/internal/platform/observability"
	"github.com/idpfunnel/api/internal/services"
)

// writeServiceError maps service sentinel errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		code   string
		status int
	)
	switch {
	case errors.Is(err, services.ErrApplicationInvalidInput), errors.Is(err, services.ErrPaymentInvalidInput):
		code, status = "invalid_request", http.StatusBadRequest
	case errors.Is(err, services.ErrApplicationNotFound):
		code, status = "application_not_found", http.StatusNotFound
	case errors.Is(err, services.ErrApplicationLocked):
		code, status = "application_locked", http.StatusConflict
	case errors.Is(err, services.ErrPaymentIntentLocked):
		code, status = "payment_intent_locked", http.StatusConflict
	case errors.Is(err, services.ErrApplicationConflict):
		code, status = "application_conflict", http.StatusConflict
	case errors.Is(err, services.ErrDocumentRejected):
		code, status = "document_rejected", http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrDocumentStorageUnavailable), errors.Is(err, services.ErrApplicationUnavailable):
		code, status = "service_unavailable", http.StatusServiceUnavailable
	case errors.Is(err, services.ErrPaymentProviderUnavailable):
		code, status = "payment_provider_error", http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code, status = "timeout", http.StatusGatewayTimeout
	default:
		code, status = "internal_error", http.StatusInternalServerError
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		observability.FromContext(ctx).Error("request failed", zap.String("code", code), zap.Error(err))
		if status == http.StatusInternalServerError {
			message = "internal server error"
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
