package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/idpfunnel/api/internal/platform/config"
	"github.com/idpfunnel/api/internal/services"
)

const (
	defaultRelayTimeout = 15 * time.Second
	relayRetryWaitMin   = 200 * time.Millisecond
	relayRetryWaitMax   = 2 * time.Second
	maxErrorBodyBytes   = 2 << 10
	userAgent           = "idp-funnel-api/1"
)

// ErrRelayNotConfigured is returned when no webhook URL has been configured.
var ErrRelayNotConfigured = errors.New("webhook relay: url not configured")

// RelayStatusError reports a non-2xx answer from the automation webhook.
type RelayStatusError struct {
	StatusCode int
	Body       string
}

func (e *RelayStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook relay: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook relay: unexpected status %d: %s", e.StatusCode, e.Body)
}

// WebhookRelay POSTs fulfillment payloads to the workflow automation webhook.
type WebhookRelay struct {
	endpoint string
	client   *retryablehttp.Client
	marshal  func(any) ([]byte, error)
}

// RelayOption customises the relay.
type RelayOption func(*WebhookRelay)

// WithHTTPClient swaps the underlying transport client, mostly for tests.
func WithHTTPClient(client *http.Client) RelayOption {
	return func(r *WebhookRelay) {
		if client != nil {
			r.client.HTTPClient = client
		}
	}
}

// WithRetryLogger routes retry diagnostics to logger.
func WithRetryLogger(logger retryablehttp.Logger) RelayOption {
	return func(r *WebhookRelay) {
		if logger != nil {
			r.client.Logger = logger
		}
	}
}

// NewWebhookRelay builds a relay for cfg.WebhookURL. RetryMax defaults to zero, so a failed
// delivery is reported immediately.
func NewWebhookRelay(cfg config.FulfillmentConfig, opts ...RelayOption) (*WebhookRelay, error) {
	endpoint := strings.TrimSpace(cfg.WebhookURL)
	if endpoint == "" {
		return nil, ErrRelayNotConfigured
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return nil, fmt.Errorf("webhook relay: invalid url %q", endpoint)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if rc.RetryMax < 0 {
		rc.RetryMax = 0
	}
	rc.RetryWaitMin = relayRetryWaitMin
	rc.RetryWaitMax = relayRetryWaitMax
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}
	rc.HTTPClient.Timeout = timeout

	relay := &WebhookRelay{endpoint: endpoint, client: rc, marshal: json.Marshal}
	for _, opt := range opts {
		if opt != nil {
			opt(relay)
		}
	}
	return relay, nil
}

// Relay delivers payload. Any 2xx answer counts as accepted.
func (r *WebhookRelay) Relay(ctx context.Context, payload services.FulfillmentPayload) error {
	if r == nil || r.client == nil {
		return ErrRelayNotConfigured
	}
	body, err := r.marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal fulfillment payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if key := strings.TrimSpace(payload.ApplicationID); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &RelayStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
