package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/idpfunnel/api/internal/platform/config"
	"github.com/idpfunnel/api/internal/services"
)

func TestWebhookRelayPostsPayload(t *testing.T) {
	var received services.FulfillmentPayload
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	relay, err := NewWebhookRelay(config.FulfillmentConfig{WebhookURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewWebhookRelay: %v", err)
	}

	payload := services.FulfillmentPayload{ApplicationID: "app_1", PaymentIntentID: "pi_1", Permits: []string{"idp"}}
	if err := relay.Relay(context.Background(), payload); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if received.ApplicationID != "app_1" || received.PaymentIntentID != "pi_1" {
		t.Fatalf("unexpected payload %+v", received)
	}
	if headers.Get("Content-Type") != "application/json" || headers.Get("Idempotency-Key") != "app_1" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestWebhookRelayDoesNotRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	relay, err := NewWebhookRelay(config.FulfillmentConfig{WebhookURL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhookRelay: %v", err)
	}

	err = relay.Relay(context.Background(), services.FulfillmentPayload{ApplicationID: "app_1"})
	var statusErr *RelayStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected RelayStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway || statusErr.Body != "boom" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestWebhookRelayRetriesWhenConfigured(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	relay, err := NewWebhookRelay(config.FulfillmentConfig{WebhookURL: srv.URL, RetryMax: 1})
	if err != nil {
		t.Fatalf("NewWebhookRelay: %v", err)
	}
	if err := relay.Relay(context.Background(), services.FulfillmentPayload{ApplicationID: "app_1"}); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two attempts, got %d", calls.Load())
	}
}

func TestNewWebhookRelayValidatesURL(t *testing.T) {
	if _, err := NewWebhookRelay(config.FulfillmentConfig{}); !errors.Is(err, ErrRelayNotConfigured) {
		t.Fatalf("expected ErrRelayNotConfigured, got %v", err)
	}
	if _, err := NewWebhookRelay(config.FulfillmentConfig{WebhookURL: "ftp://example.com"}); err == nil {
		t.Fatal("expected invalid url error")
	}
}
