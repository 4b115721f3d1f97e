package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/services"
)

type stubApplicationService struct {
	createCmd services.CreateApplicationCommand
	updateCmd services.UpdateApplicationCommand
	attachCmd services.AttachDocumentCommand
	attached  []byte

	app domain.Application
	doc domain.Document
	err error
}

func (s *stubApplicationService) CreateApplication(_ context.Context, cmd services.CreateApplicationCommand) (domain.Application, error) {
	s.createCmd = cmd
	return s.app, s.err
}

func (s *stubApplicationService) UpdateApplication(_ context.Context, cmd services.UpdateApplicationCommand) (domain.Application, error) {
	s.updateCmd = cmd
	return s.app, s.err
}

func (s *stubApplicationService) GetApplication(_ context.Context, applicationID string) (domain.Application, error) {
	if s.err != nil {
		return domain.Application{}, s.err
	}
	app := s.app
	app.ID = applicationID
	return app, nil
}

func (s *stubApplicationService) AttachDocument(_ context.Context, cmd services.AttachDocumentCommand) (domain.Document, error) {
	s.attachCmd = cmd
	if cmd.Body != nil {
		data, err := io.ReadAll(cmd.Body)
		if err != nil {
			return domain.Document{}, err
		}
		s.attached = data
	}
	return s.doc, s.err
}

type stubPaymentService struct {
	quoteReq    services.OrderRequest
	intentAppID string
	couponAppID string
	couponCode  string
	result      services.PaymentIntentResult
	quote       func(services.OrderRequest) domain.OrderBreakdown
	err         error
}

func (s *stubPaymentService) Quote(_ context.Context, req services.OrderRequest) (domain.OrderBreakdown, error) {
	s.quoteReq = req
	if s.err != nil {
		return domain.OrderBreakdown{}, s.err
	}
	if s.quote != nil {
		return s.quote(req), nil
	}
	return domain.OrderBreakdown{}, nil
}

func (s *stubPaymentService) CreatePaymentIntent(_ context.Context, applicationID string) (services.PaymentIntentResult, error) {
	s.intentAppID = applicationID
	return s.result, s.err
}

func (s *stubPaymentService) ApplyCoupon(_ context.Context, applicationID, code string) (services.PaymentIntentResult, error) {
	s.couponAppID = applicationID
	s.couponCode = code
	return s.result, s.err
}

var handlerNow = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

func sampleApplication() domain.Application {
	return domain.Application{
		ID:     "app_1",
		Status: domain.ApplicationStatusDraft,
		Applicant: domain.Applicant{
			FirstName: "Jane",
			LastName:  "Doe",
			Email:     "jane@example.com",
		},
		Permits:          []string{"idp"},
		TravelDate:       "2025-06-01",
		ShippingCategory: domain.ShippingDomestic,
		ProcessingSpeed:  domain.SpeedStandard,
		ShippingAddress: domain.ShippingAddress{
			RawText:     "350 Fifth Avenue, New York, NY 10118, USA",
			CountryHint: "US",
		},
		Documents: map[domain.DocumentKind]domain.Document{
			domain.DocumentPassportPhoto: {ID: "doc_2", Kind: domain.DocumentPassportPhoto, ContentType: "image/jpeg", UploadedAt: handlerNow},
			domain.DocumentLicenseFront:  {ID: "doc_1", Kind: domain.DocumentLicenseFront, ContentType: "image/jpeg", UploadedAt: handlerNow},
		},
		CreatedAt: handlerNow,
		UpdatedAt: handlerNow,
	}
}

func sampleBreakdown() domain.OrderBreakdown {
	return domain.OrderBreakdown{
		Currency:                "USD",
		Permits:                 []string{"idp"},
		ShippingCategory:        domain.ShippingDomestic,
		ProcessingSpeed:         domain.SpeedStandard,
		PermitTotal:             decimal.NewFromInt(20),
		ShippingProcessingPrice: decimal.NewFromInt(58),
		Subtotal:                decimal.NewFromInt(78),
		TaxRate:                 decimal.RequireFromString("0.0775"),
		TaxAmount:               decimal.RequireFromString("6.05"),
		TotalBeforeDiscount:     decimal.RequireFromString("84.05"),
		DiscountAmount:          decimal.Zero,
		FinalTotal:              decimal.RequireFromString("84.05"),
		AmountInMinorUnits:      8405,
	}
}

func newApplicationTestRouter(apps *stubApplicationService, payments *stubPaymentService, opts ...ApplicationHandlersOption) chi.Router {
	handler := NewApplicationHandlers(apps, payments, opts...)
	return NewRouter(WithApplicationRoutes(handler.Routes))
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body: %v (%s)", err, rr.Body.String())
	}
	code, _ := body["error"].(string)
	return code
}

func TestApplicationHandlers_Create(t *testing.T) {
	apps := &stubApplicationService{app: sampleApplication()}
	router := newApplicationTestRouter(apps, &stubPaymentService{})

	body := `{
		"applicant": {"firstName": "Jane", "lastName": "Doe", "email": "jane@example.com"},
		"permits": ["idp"],
		"travelDate": "2025-06-01",
		"shippingCategory": "domestic",
		"processingSpeed": "standard",
		"shippingAddress": {"text": "350 Fifth Avenue, New York, NY 10118, USA", "country": "US"},
		"couponCode": "save10"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/applications/app_1" {
		t.Fatalf("unexpected location %q", loc)
	}

	cmd := apps.createCmd
	if cmd.Applicant.FirstName != "Jane" || cmd.Applicant.Email != "jane@example.com" {
		t.Fatalf("unexpected applicant %+v", cmd.Applicant)
	}
	if cmd.ShippingAddress.RawText != "350 Fifth Avenue, New York, NY 10118, USA" || cmd.ShippingAddress.CountryHint != "US" {
		t.Fatalf("unexpected shipping address %+v", cmd.ShippingAddress)
	}
	if !cmd.ShippingAddress.Fields.IsZero() {
		t.Fatalf("expected no structured fields, got %+v", cmd.ShippingAddress.Fields)
	}
	if cmd.CouponCode != "save10" || cmd.ShippingCategory != "domestic" {
		t.Fatalf("unexpected command %+v", cmd)
	}

	var resp struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Documents []struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"documents"`
		CreatedAt string `json:"createdAt"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "app_1" || resp.Status != "draft" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.CreatedAt != "2025-04-02T09:30:00Z" {
		t.Fatalf("unexpected createdAt %q", resp.CreatedAt)
	}
	if len(resp.Documents) != 2 || resp.Documents[0].Kind != "license_front" || resp.Documents[1].Kind != "passport_photo" {
		t.Fatalf("expected documents in kind order, got %+v", resp.Documents)
	}
}

func TestApplicationHandlers_CreateRejectsBadBodies(t *testing.T) {
	cases := map[string]struct {
		body   string
		status int
	}{
		"empty":         {body: "", status: http.StatusBadRequest},
		"malformed":     {body: `{"applicant":`, status: http.StatusBadRequest},
		"unknown field": {body: `{"nickname":"jd"}`, status: http.StatusBadRequest},
		"too large":     {body: `{"travelDate":"` + strings.Repeat("x", maxJSONBodySize) + `"}`, status: http.StatusRequestEntityTooLarge},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			apps := &stubApplicationService{app: sampleApplication()}
			router := newApplicationTestRouter(apps, &stubPaymentService{})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != "invalid_request" {
				t.Fatalf("expected invalid_request, got %q", code)
			}
			if apps.createCmd.Applicant.FirstName != "" {
				t.Fatalf("service should not be called")
			}
		})
	}
}

func TestApplicationHandlers_ServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: email is required", services.ErrApplicationInvalidInput), http.StatusBadRequest, "invalid_request"},
		{services.ErrApplicationNotFound, http.StatusNotFound, "application_not_found"},
		{services.ErrApplicationLocked, http.StatusConflict, "application_locked"},
		{services.ErrApplicationUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			apps := &stubApplicationService{err: tc.err}
			router := newApplicationTestRouter(apps, &stubPaymentService{})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/app_1", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestApplicationHandlers_Get(t *testing.T) {
	app := sampleApplication()
	breakdown := sampleBreakdown()
	app.Pricing = &breakdown
	apps := &stubApplicationService{app: app}
	router := newApplicationTestRouter(apps, &stubPaymentService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/app_42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		ID      string `json:"id"`
		Pricing struct {
			FinalTotal string `json:"finalTotal"`
			TaxRate    string `json:"taxRate"`
		} `json:"pricing"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "app_42" {
		t.Fatalf("expected id from path, got %q", resp.ID)
	}
	if resp.Pricing.FinalTotal != "84.05" || resp.Pricing.TaxRate != "0.0775" {
		t.Fatalf("unexpected pricing %+v", resp.Pricing)
	}
}

func TestApplicationHandlers_UpdatePassesOnlyProvidedFields(t *testing.T) {
	apps := &stubApplicationService{app: sampleApplication()}
	router := newApplicationTestRouter(apps, &stubPaymentService{})

	body := `{"processingSpeed":"fast","shippingAddress":{"recipientName":"J. Doe","fields":{"line1":"1 Main St","city":"Springfield","state":"Illinois","postalCode":"62701","country":"US"}}}`
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/applications/app_1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cmd := apps.updateCmd
	if cmd.ApplicationID != "app_1" {
		t.Fatalf("unexpected application id %q", cmd.ApplicationID)
	}
	if cmd.Applicant != nil || cmd.Permits != nil || cmd.TravelDate != nil || cmd.ShippingCategory != nil {
		t.Fatalf("expected untouched fields to stay nil, got %+v", cmd)
	}
	if cmd.ProcessingSpeed == nil || *cmd.ProcessingSpeed != "fast" {
		t.Fatalf("expected processing speed fast, got %v", cmd.ProcessingSpeed)
	}
	if cmd.ShippingAddress == nil {
		t.Fatalf("expected shipping address")
	}
	if cmd.ShippingAddress.RecipientName != "J. Doe" || cmd.ShippingAddress.Fields.State != "Illinois" || cmd.ShippingAddress.Fields.Line1 != "1 Main St" {
		t.Fatalf("unexpected shipping address %+v", cmd.ShippingAddress)
	}
}

func buildMultipart(t *testing.T, kind, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if kind != "" {
		if err := writer.WriteField("kind", kind); err != nil {
			t.Fatalf("write kind: %v", err)
		}
	}
	if content != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="upload.bin"`)
		if contentType != "" {
			header.Set("Content-Type", contentType)
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestApplicationHandlers_UploadDocument(t *testing.T) {
	apps := &stubApplicationService{doc: domain.Document{
		ID:          "doc_1",
		Kind:        domain.DocumentLicenseFront,
		PublicURL:   "https://storage.example.com/idp-documents/applications/app_1/documents/license_front/doc_1.jpg",
		ContentType: "image/jpeg",
		Size:        4,
		UploadedAt:  handlerNow,
	}}
	router := newApplicationTestRouter(apps, &stubPaymentService{})

	body, contentType := buildMultipart(t, "license_front", "image/jpeg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if apps.attachCmd.ApplicationID != "app_1" || apps.attachCmd.Kind != "license_front" || apps.attachCmd.ContentType != "image/jpeg" {
		t.Fatalf("unexpected command %+v", apps.attachCmd)
	}
	if string(apps.attached) != "jpeg" {
		t.Fatalf("unexpected uploaded bytes %q", apps.attached)
	}

	var resp documentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "doc_1" || resp.URL == "" || resp.UploadedAt != "2025-04-02T09:30:00Z" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestApplicationHandlers_UploadDocumentSniffsContentType(t *testing.T) {
	apps := &stubApplicationService{doc: domain.Document{ID: "doc_1"}}
	router := newApplicationTestRouter(apps, &stubPaymentService{})

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	body, contentType := buildMultipart(t, "signature", "application/octet-stream", png)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if apps.attachCmd.ContentType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", apps.attachCmd.ContentType)
	}
	if !bytes.Equal(apps.attached, png) {
		t.Fatalf("expected the full file to reach the service")
	}
}

func TestApplicationHandlers_UploadDocumentRejections(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		apps := &stubApplicationService{}
		router := newApplicationTestRouter(apps, &stubPaymentService{})

		body, contentType := buildMultipart(t, "license_front", "", nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/documents", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		router := newApplicationTestRouter(&stubApplicationService{}, &stubPaymentService{})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/documents", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("file too large", func(t *testing.T) {
		apps := &stubApplicationService{}
		router := newApplicationTestRouter(apps, &stubPaymentService{}, WithMaxUploadBytes(16))

		body, contentType := buildMultipart(t, "license_front", "image/jpeg", bytes.Repeat([]byte("a"), 64))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/documents", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected status 413, got %d", rr.Code)
		}
		if apps.attachCmd.ApplicationID != "" {
			t.Fatalf("service should not be called")
		}
	})

	t.Run("rejected by service", func(t *testing.T) {
		apps := &stubApplicationService{err: fmt.Errorf("%w: unsupported content type", services.ErrDocumentRejected)}
		router := newApplicationTestRouter(apps, &stubPaymentService{})

		body, contentType := buildMultipart(t, "license_front", "text/plain", []byte("hello"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/documents", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d", rr.Code)
		}
		if code := decodeErrorCode(t, rr); code != "document_rejected" {
			t.Fatalf("expected document_rejected, got %q", code)
		}
	})
}

func TestApplicationHandlers_CreatePaymentIntent(t *testing.T) {
	app := sampleApplication()
	app.Status = domain.ApplicationStatusAwaitingPayment
	payments := &stubPaymentService{result: services.PaymentIntentResult{
		Application:  app,
		IntentID:     "pi_1",
		ClientSecret: "pi_1_secret",
		Breakdown:    sampleBreakdown(),
	}}
	router := newApplicationTestRouter(&stubApplicationService{}, payments)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/payment-intent", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if payments.intentAppID != "app_1" {
		t.Fatalf("unexpected application id %q", payments.intentAppID)
	}

	var resp struct {
		ApplicationID   string `json:"applicationId"`
		Status          string `json:"status"`
		PaymentIntentID string `json:"paymentIntentId"`
		ClientSecret    string `json:"clientSecret"`
		Pricing         struct {
			FinalTotal         string `json:"finalTotal"`
			AmountInMinorUnits int64  `json:"amountInMinorUnits"`
		} `json:"pricing"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ApplicationID != "app_1" || resp.Status != "awaiting_payment" || resp.PaymentIntentID != "pi_1" || resp.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Pricing.FinalTotal != "84.05" || resp.Pricing.AmountInMinorUnits != 8405 {
		t.Fatalf("unexpected pricing %+v", resp.Pricing)
	}
}

func TestApplicationHandlers_PaymentErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrPaymentIntentLocked, http.StatusConflict, "payment_intent_locked"},
		{services.ErrPaymentProviderUnavailable, http.StatusBadGateway, "payment_provider_error"},
		{fmt.Errorf("%w: no permits", services.ErrPaymentInvalidInput), http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := newApplicationTestRouter(&stubApplicationService{}, &stubPaymentService{err: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/payment-intent", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestApplicationHandlers_ApplyCoupon(t *testing.T) {
	breakdown := sampleBreakdown()
	breakdown.CouponCode = "SAVE10"
	breakdown.CouponStatus = domain.CouponStatusApplied
	breakdown.DiscountAmount = decimal.RequireFromString("8.41")
	breakdown.FinalTotal = decimal.RequireFromString("75.64")
	breakdown.AmountInMinorUnits = 7564
	payments := &stubPaymentService{result: services.PaymentIntentResult{
		Application: sampleApplication(),
		IntentID:    "pi_1",
		Breakdown:   breakdown,
	}}
	router := newApplicationTestRouter(&stubApplicationService{}, payments)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/app_1/coupon", strings.NewReader(`{"code":"save10"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if payments.couponAppID != "app_1" || payments.couponCode != "save10" {
		t.Fatalf("unexpected coupon call %q %q", payments.couponAppID, payments.couponCode)
	}

	var resp struct {
		ClientSecret string `json:"clientSecret"`
		Pricing      struct {
			CouponCode     string `json:"couponCode"`
			CouponStatus   string `json:"couponStatus"`
			DiscountAmount string `json:"discountAmount"`
			FinalTotal     string `json:"finalTotal"`
		} `json:"pricing"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ClientSecret != "" {
		t.Fatalf("expected no client secret on coupon response, got %q", resp.ClientSecret)
	}
	if resp.Pricing.CouponCode != "SAVE10" || resp.Pricing.CouponStatus != "applied" || resp.Pricing.DiscountAmount != "8.41" || resp.Pricing.FinalTotal != "75.64" {
		t.Fatalf("unexpected pricing %+v", resp.Pricing)
	}
}
