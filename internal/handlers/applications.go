package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/platform/httpx"
	"github.com/idpfunnel/api/internal/services"
)

const (
	defaultMaxUploadBytes = 10 << 20
	multipartMemory       = 1 << 20
	sniffLength           = 512
)

// ApplicationHandlers expose the application form, document uploads and checkout steps.
type ApplicationHandlers struct {
	applications   services.ApplicationService
	payments       services.PaymentService
	maxUploadBytes int64
}

// ApplicationHandlersOption customises ApplicationHandlers.
type ApplicationHandlersOption func(*ApplicationHandlers)

// WithMaxUploadBytes caps the size of a single uploaded document.
func WithMaxUploadBytes(limit int64) ApplicationHandlersOption {
	return func(h *ApplicationHandlers) {
		if limit > 0 {
			h.maxUploadBytes = limit
		}
	}
}

// NewApplicationHandlers constructs the application endpoints.
func NewApplicationHandlers(applications services.ApplicationService, payments services.PaymentService, opts ...ApplicationHandlersOption) *ApplicationHandlers {
	h := &ApplicationHandlers{
		applications:   applications,
		payments:       payments,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers application endpoints under the provided router.
func (h *ApplicationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createApplication)
	r.Route("/{applicationId}", func(app chi.Router) {
		app.Get("/", h.getApplication)
		app.Patch("/", h.updateApplication)
		app.Post("/documents", h.uploadDocument)
		app.Post("/payment-intent", h.createPaymentIntent)
		app.Post("/coupon", h.applyCoupon)
	})
}

type applicantPayload struct {
	FirstName             string `json:"firstName"`
	LastName              string `json:"lastName"`
	Email                 string `json:"email"`
	Phone                 string `json:"phone,omitempty"`
	DateOfBirth           string `json:"dateOfBirth,omitempty"`
	PlaceOfBirth          string `json:"placeOfBirth,omitempty"`
	LicenseNumber         string `json:"licenseNumber,omitempty"`
	LicenseIssuingCountry string `json:"licenseIssuingCountry,omitempty"`
	LicenseIssuingState   string `json:"licenseIssuingState,omitempty"`
	LicenseExpiry         string `json:"licenseExpiry,omitempty"`
}

type addressFieldsPayload struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type shippingAddressPayload struct {
	RecipientName string                `json:"recipientName,omitempty"`
	Text          string                `json:"text,omitempty"`
	Country       string                `json:"country,omitempty"`
	Fields        *addressFieldsPayload `json:"fields,omitempty"`
}

type createApplicationRequest struct {
	Applicant        applicantPayload       `json:"applicant"`
	Permits          []string               `json:"permits"`
	TravelDate       string                 `json:"travelDate"`
	ShippingCategory string                 `json:"shippingCategory"`
	ProcessingSpeed  string                 `json:"processingSpeed"`
	ShippingAddress  shippingAddressPayload `json:"shippingAddress"`
	CouponCode       string                 `json:"couponCode"`
}

type updateApplicationRequest struct {
	Applicant        *applicantPayload       `json:"applicant"`
	Permits          *[]string               `json:"permits"`
	TravelDate       *string                 `json:"travelDate"`
	ShippingCategory *string                 `json:"shippingCategory"`
	ProcessingSpeed  *string                 `json:"processingSpeed"`
	ShippingAddress  *shippingAddressPayload `json:"shippingAddress"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type documentResponse struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	UploadedAt  string `json:"uploadedAt"`
}

type applicationResponse struct {
	ID               string                 `json:"id"`
	Status           string                 `json:"status"`
	Applicant        applicantPayload       `json:"applicant"`
	Permits          []string               `json:"permits"`
	TravelDate       string                 `json:"travelDate,omitempty"`
	ShippingCategory string                 `json:"shippingCategory"`
	ProcessingSpeed  string                 `json:"processingSpeed"`
	ShippingAddress  shippingAddressPayload `json:"shippingAddress"`
	Documents        []documentResponse     `json:"documents"`
	Pricing          *breakdownResponse     `json:"pricing,omitempty"`
	CouponCode       string                 `json:"couponCode,omitempty"`
	PaymentIntentID  string                 `json:"paymentIntentId,omitempty"`
	CreatedAt        string                 `json:"createdAt"`
	UpdatedAt        string                 `json:"updatedAt"`
	PaidAt           string                 `json:"paidAt,omitempty"`
	FulfilledAt      string                 `json:"fulfilledAt,omitempty"`
}

type paymentIntentResponse struct {
	ApplicationID   string            `json:"applicationId"`
	Status          string            `json:"status"`
	PaymentIntentID string            `json:"paymentIntentId,omitempty"`
	ClientSecret    string            `json:"clientSecret,omitempty"`
	Pricing         breakdownResponse `json:"pricing"`
}

func (h *ApplicationHandlers) createApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createApplicationRequest
	if err := decodeJSONBody(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	app, err := h.applications.CreateApplication(ctx, services.CreateApplicationCommand{
		Applicant:        req.Applicant.toDomain(),
		Permits:          req.Permits,
		TravelDate:       req.TravelDate,
		ShippingCategory: req.ShippingCategory,
		ProcessingSpeed:  req.ProcessingSpeed,
		ShippingAddress:  req.ShippingAddress.toDomain(),
		CouponCode:       req.CouponCode,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+app.ID)
	writeJSONResponse(w, r, http.StatusCreated, newApplicationResponse(app))
}

func (h *ApplicationHandlers) getApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := h.applications.GetApplication(ctx, chi.URLParam(r, "applicationId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, r, http.StatusOK, newApplicationResponse(app))
}

func (h *ApplicationHandlers) updateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateApplicationRequest
	if err := decodeJSONBody(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}

	cmd := services.UpdateApplicationCommand{
		ApplicationID:    chi.URLParam(r, "applicationId"),
		Permits:          req.Permits,
		TravelDate:       req.TravelDate,
		ShippingCategory: req.ShippingCategory,
		ProcessingSpeed:  req.ProcessingSpeed,
	}
	if req.Applicant != nil {
		applicant := req.Applicant.toDomain()
		cmd.Applicant = &applicant
	}
	if req.ShippingAddress != nil {
		address := req.ShippingAddress.toDomain()
		cmd.ShippingAddress = &address
	}

	app, err := h.applications.UpdateApplication(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, r, http.StatusOK, newApplicationResponse(app))
}

func (h *ApplicationHandlers) uploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errBodyTooLarge.Error(), http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart form with a file field is required", http.StatusBadRequest))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "file is required", http.StatusBadRequest))
		return
	}
	defer file.Close()
	if header.Size > h.maxUploadBytes {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", errBodyTooLarge.Error(), http.StatusRequestEntityTooLarge))
		return
	}

	body, contentType, err := detectContentType(file, header.Header.Get("Content-Type"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "could not read file", http.StatusBadRequest))
		return
	}

	doc, err := h.applications.AttachDocument(ctx, services.AttachDocumentCommand{
		ApplicationID: chi.URLParam(r, "applicationId"),
		Kind:          r.FormValue("kind"),
		ContentType:   contentType,
		Body:          body,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, r, http.StatusCreated, newDocumentResponse(doc))
}

func (h *ApplicationHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result, err := h.payments.CreatePaymentIntent(ctx, chi.URLParam(r, "applicationId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, r, http.StatusOK, newPaymentIntentResponse(result))
}

func (h *ApplicationHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req couponRequest
	if err := decodeJSONBody(r, maxJSONBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), bodyErrorStatus(err)))
		return
	}
	result, err := h.payments.ApplyCoupon(ctx, chi.URLParam(r, "applicationId"), req.Code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, r, http.StatusOK, newPaymentIntentResponse(result))
}

// detectContentType trusts the part header unless it is missing or generic, in which case the
// first bytes are sniffed. The returned reader still yields the whole file.
func detectContentType(file io.Reader, declared string) (io.Reader, string, error) {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.EqualFold(declared, "application/octet-stream") {
		return file, declared, nil
	}
	head := make([]byte, sniffLength)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	head = head[:n]
	return io.MultiReader(bytes.NewReader(head), file), http.DetectContentType(head), nil
}

func (p applicantPayload) toDomain() domain.Applicant {
	return domain.Applicant{
		FirstName:             p.FirstName,
		LastName:              p.LastName,
		Email:                 p.Email,
		Phone:                 p.Phone,
		DateOfBirth:           p.DateOfBirth,
		PlaceOfBirth:          p.PlaceOfBirth,
		LicenseNumber:         p.LicenseNumber,
		LicenseIssuingCountry: p.LicenseIssuingCountry,
		LicenseIssuingState:   p.LicenseIssuingState,
		LicenseExpiry:         p.LicenseExpiry,
	}
}

func (p shippingAddressPayload) toDomain() domain.ShippingAddress {
	addr := domain.ShippingAddress{
		RecipientName: p.RecipientName,
		RawText:       p.Text,
		CountryHint:   p.Country,
	}
	if p.Fields != nil {
		addr.Fields = domain.AddressFields{
			Line1:      p.Fields.Line1,
			Line2:      p.Fields.Line2,
			City:       p.Fields.City,
			State:      p.Fields.State,
			PostalCode: p.Fields.PostalCode,
			Country:    p.Fields.Country,
		}
	}
	return addr
}

func newApplicationResponse(app domain.Application) applicationResponse {
	resp := applicationResponse{
		ID:     app.ID,
		Status: string(app.Status),
		Applicant: applicantPayload{
			FirstName:             app.Applicant.FirstName,
			LastName:              app.Applicant.LastName,
			Email:                 app.Applicant.Email,
			Phone:                 app.Applicant.Phone,
			DateOfBirth:           app.Applicant.DateOfBirth,
			PlaceOfBirth:          app.Applicant.PlaceOfBirth,
			LicenseNumber:         app.Applicant.LicenseNumber,
			LicenseIssuingCountry: app.Applicant.LicenseIssuingCountry,
			LicenseIssuingState:   app.Applicant.LicenseIssuingState,
			LicenseExpiry:         app.Applicant.LicenseExpiry,
		},
		Permits:          app.Permits,
		TravelDate:       app.TravelDate,
		ShippingCategory: string(app.ShippingCategory),
		ProcessingSpeed:  string(app.ProcessingSpeed),
		ShippingAddress: shippingAddressPayload{
			RecipientName: app.ShippingAddress.RecipientName,
			Text:          app.ShippingAddress.RawText,
			Country:       app.ShippingAddress.CountryHint,
		},
		Documents:       make([]documentResponse, 0, len(app.Documents)),
		CouponCode:      app.CouponCode,
		PaymentIntentID: app.PaymentIntentID,
		CreatedAt:       formatTime(app.CreatedAt),
		UpdatedAt:       formatTime(app.UpdatedAt),
		PaidAt:          formatTimePtr(app.PaidAt),
		FulfilledAt:     formatTimePtr(app.FulfilledAt),
	}
	if resp.Permits == nil {
		resp.Permits = []string{}
	}
	if f := app.ShippingAddress.Fields; !f.IsZero() {
		resp.ShippingAddress.Fields = &addressFieldsPayload{
			Line1:      f.Line1,
			Line2:      f.Line2,
			City:       f.City,
			State:      f.State,
			PostalCode: f.PostalCode,
			Country:    f.Country,
		}
	}
	for _, kind := range domain.DocumentKinds {
		if doc, ok := app.Documents[kind]; ok {
			resp.Documents = append(resp.Documents, newDocumentResponse(doc))
		}
	}
	if app.Pricing != nil {
		pricing := newBreakdownResponse(*app.Pricing)
		resp.Pricing = &pricing
	}
	return resp
}

func newDocumentResponse(doc domain.Document) documentResponse {
	return documentResponse{
		ID:          doc.ID,
		Kind:        string(doc.Kind),
		URL:         doc.PublicURL,
		ContentType: doc.ContentType,
		Size:        doc.Size,
		UploadedAt:  formatTime(doc.UploadedAt),
	}
}

func newPaymentIntentResponse(result services.PaymentIntentResult) paymentIntentResponse {
	return paymentIntentResponse{
		ApplicationID:   result.Application.ID,
		Status:          string(result.Application.Status),
		PaymentIntentID: result.IntentID,
		ClientSecret:    result.ClientSecret,
		Pricing:         newBreakdownResponse(result.Breakdown),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
