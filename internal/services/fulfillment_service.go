package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/idpfunnel/api/internal/domain"
	"github.com/idpfunnel/api/internal/payments"
	"github.com/idpfunnel/api/internal/platform/storage"
	"github.com/idpfunnel/api/internal/repositories"
)

// FulfillmentEventRequested is published once an application has been handed to fulfillment.
const FulfillmentEventRequested = "fulfillment.requested"

const maxFulfillmentErrorLength = 500

// ErrFulfillmentInvalidEvent indicates a payment event without the identifiers needed to find
// its application.
var ErrFulfillmentInvalidEvent = errors.New("fulfillment: event has no application reference")

// FulfillmentPayload is the JSON document posted to the fulfillment automation webhook.
type FulfillmentPayload struct {
	ApplicationID   string                  `json:"applicationId"`
	PaymentIntentID string                  `json:"paymentIntentId"`
	SubmittedAt     time.Time               `json:"submittedAt"`
	PaidAt          time.Time               `json:"paidAt"`
	Permits         []string                `json:"permits"`
	TravelDate      string                  `json:"travelDate,omitempty"`
	Applicant       FulfillmentApplicant    `json:"applicant"`
	Shipping        FulfillmentShipping     `json:"shipping"`
	Address         domain.CanonicalAddress `json:"address"`
	Documents       []FulfillmentDocument   `json:"documents"`
	Pricing         FulfillmentPricing      `json:"pricing"`
}

// FulfillmentApplicant carries the details printed on the permit.
type FulfillmentApplicant struct {
	FirstName             string `json:"firstName"`
	LastName              string `json:"lastName"`
	FullName              string `json:"fullName"`
	Email                 string `json:"email"`
	Phone                 string `json:"phone,omitempty"`
	DateOfBirth           string `json:"dateOfBirth,omitempty"`
	PlaceOfBirth          string `json:"placeOfBirth,omitempty"`
	LicenseNumber         string `json:"licenseNumber,omitempty"`
	LicenseIssuingCountry string `json:"licenseIssuingCountry,omitempty"`
	LicenseIssuingState   string `json:"licenseIssuingState,omitempty"`
	LicenseExpiry         string `json:"licenseExpiry,omitempty"`
}

// FulfillmentShipping describes the service level and recipient of the shipment.
type FulfillmentShipping struct {
	RecipientName string `json:"recipientName"`
	Category      string `json:"category"`
	Speed         string `json:"speed"`
	RawAddress    string `json:"rawAddress,omitempty"`
}

// FulfillmentDocument links one uploaded document.
type FulfillmentDocument struct {
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// FulfillmentPricing repeats the charged breakdown; amounts are decimal strings in major units.
type FulfillmentPricing struct {
	Currency                string `json:"currency"`
	PermitTotal             string `json:"permitTotal"`
	ShippingProcessingPrice string `json:"shippingProcessingPrice"`
	Subtotal                string `json:"subtotal"`
	TaxAmount               string `json:"taxAmount"`
	DiscountAmount          string `json:"discountAmount"`
	FinalTotal              string `json:"finalTotal"`
	AmountMinor             int64  `json:"amountMinor"`
	CouponCode              string `json:"couponCode,omitempty"`
}

// FulfillmentEventMessage is the Pub/Sub message announcing a fulfillment request.
type FulfillmentEventMessage struct {
	Type            string    `json:"type"`
	ApplicationID   string    `json:"applicationId"`
	PaymentIntentID string    `json:"paymentIntentId"`
	Country         string    `json:"country"`
	AmountMinor     int64     `json:"amountMinor"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	Relayed         bool      `json:"relayed"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// FulfillmentServiceDeps bundles the collaborators of the fulfillment service. Publisher,
// Coupons and Archive are optional.
type FulfillmentServiceDeps struct {
	Applications repositories.ApplicationRepository
	Addresses    *AddressNormalizer
	Relay        FulfillmentRelay
	Publisher    FulfillmentEventPublisher
	Coupons      CouponRedeemer
	Archive      DocumentUploader
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
}

type fulfillmentService struct {
	applications repositories.ApplicationRepository
	addresses    *AddressNormalizer
	relay        FulfillmentRelay
	publisher    FulfillmentEventPublisher
	coupons      CouponRedeemer
	archive      DocumentUploader
	clock        func() time.Time
	logger       func(context.Context, string, map[string]any)
}

var _ FulfillmentService = (*fulfillmentService)(nil)

// NewFulfillmentService wires payment webhooks to the fulfillment relay.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Applications == nil {
		return nil, errors.New("fulfillment service: application repository is required")
	}
	if deps.Relay == nil {
		return nil, errors.New("fulfillment service: relay is required")
	}
	addresses := deps.Addresses
	if addresses == nil {
		addresses = NewAddressNormalizer()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &fulfillmentService{
		applications: deps.Applications,
		addresses:    addresses,
		relay:        deps.Relay,
		publisher:    deps.Publisher,
		coupons:      deps.Coupons,
		archive:      deps.Archive,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *fulfillmentService) HandlePaymentEvent(ctx context.Context, event payments.WebhookEvent) error {
	switch event.Type {
	case payments.EventPaymentIntentSucceeded:
		return s.handleSucceeded(ctx, event)
	case payments.EventPaymentIntentFailed:
		return s.handleFailed(ctx, event)
	default:
		s.logger(ctx, "fulfillment.event_ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
		})
		return nil
	}
}

func (s *fulfillmentService) handleSucceeded(ctx context.Context, event payments.WebhookEvent) error {
	app, err := s.findApplication(ctx, event)
	if err != nil {
		return err
	}
	switch app.Status {
	case domain.ApplicationStatusFulfilled, domain.ApplicationStatusFulfillmentFailed:
		s.logger(ctx, "fulfillment.duplicate_event", map[string]any{
			"applicationId": app.ID,
			"eventId":       event.ID,
			"status":        string(app.Status),
		})
		return nil
	}

	paidAt := event.Created
	if paidAt.IsZero() {
		paidAt = s.clock()
	}
	app.Status = domain.ApplicationStatusPaid
	app.PaidAt = &paidAt
	if event.IntentID != "" {
		app.PaymentIntentID = event.IntentID
	}
	app.UpdatedAt = s.clock()
	if err := s.applications.Update(ctx, app); err != nil {
		return translateApplicationRepoError(err)
	}

	payload := s.buildPayload(app, paidAt)
	s.archivePayload(ctx, payload)

	relayErr := s.relay.Relay(ctx, payload)
	now := s.clock()
	if relayErr != nil {
		app.Status = domain.ApplicationStatusFulfillmentFailed
		app.FulfillmentError = truncate(relayErr.Error(), maxFulfillmentErrorLength)
		s.logger(ctx, "fulfillment.relay_failed", map[string]any{
			"applicationId": app.ID,
			"error":         relayErr.Error(),
		})
	} else {
		app.Status = domain.ApplicationStatusFulfilled
		app.FulfilledAt = &now
		app.FulfillmentError = ""
	}

	s.redeemCoupon(ctx, app)
	s.publish(ctx, app, payload, relayErr == nil, now)

	app.UpdatedAt = now
	if err := s.applications.Update(ctx, app); err != nil {
		return translateApplicationRepoError(err)
	}
	s.logger(ctx, "fulfillment.completed", map[string]any{
		"applicationId": app.ID,
		"status":        string(app.Status),
		"country":       payload.Address.Country,
	})
	return nil
}

func (s *fulfillmentService) handleFailed(ctx context.Context, event payments.WebhookEvent) error {
	app, err := s.findApplication(ctx, event)
	if err != nil {
		return err
	}
	if !app.Status.Editable() {
		s.logger(ctx, "fulfillment.failure_after_payment", map[string]any{
			"applicationId": app.ID,
			"status":        string(app.Status),
		})
		return nil
	}
	app.Status = domain.ApplicationStatusPaymentFailed
	app.UpdatedAt = s.clock()
	if err := s.applications.Update(ctx, app); err != nil {
		return translateApplicationRepoError(err)
	}
	s.logger(ctx, "fulfillment.payment_failed", map[string]any{
		"applicationId": app.ID,
		"paymentIntent": event.IntentID,
		"cause":         event.FailureCause,
	})
	return nil
}

// findApplication resolves the application from the intent metadata, falling back to the
// intent id recorded when the intent was created.
func (s *fulfillmentService) findApplication(ctx context.Context, event payments.WebhookEvent) (domain.Application, error) {
	if id := strings.TrimSpace(event.ApplicationID()); id != "" {
		app, err := s.applications.FindByID(ctx, id)
		if err == nil {
			return app, nil
		}
		if !isRepoNotFound(err) {
			return domain.Application{}, translateApplicationRepoError(err)
		}
	}
	if strings.TrimSpace(event.IntentID) == "" {
		return domain.Application{}, ErrFulfillmentInvalidEvent
	}
	app, err := s.applications.FindByPaymentIntent(ctx, event.IntentID)
	if err != nil {
		return domain.Application{}, translateApplicationRepoError(err)
	}
	return app, nil
}

func (s *fulfillmentService) normalizeAddress(addr domain.ShippingAddress) domain.CanonicalAddress {
	if !addr.Fields.IsZero() {
		fields := addr.Fields
		if strings.TrimSpace(fields.Country) == "" {
			fields.Country = addr.CountryHint
		}
		return s.addresses.NormalizeFields(fields)
	}
	return s.addresses.Normalize(addr.RawText, addr.CountryHint)
}

func (s *fulfillmentService) buildPayload(app domain.Application, paidAt time.Time) FulfillmentPayload {
	recipient := app.ShippingAddress.RecipientName
	if recipient == "" {
		recipient = app.Applicant.FullName()
	}
	payload := FulfillmentPayload{
		ApplicationID:   app.ID,
		PaymentIntentID: app.PaymentIntentID,
		SubmittedAt:     app.CreatedAt,
		PaidAt:          paidAt,
		Permits:         append([]string(nil), app.Permits...),
		TravelDate:      app.TravelDate,
		Applicant: FulfillmentApplicant{
			FirstName:             app.Applicant.FirstName,
			LastName:              app.Applicant.LastName,
			FullName:              app.Applicant.FullName(),
			Email:                 app.Applicant.Email,
			Phone:                 app.Applicant.Phone,
			DateOfBirth:           app.Applicant.DateOfBirth,
			PlaceOfBirth:          app.Applicant.PlaceOfBirth,
			LicenseNumber:         app.Applicant.LicenseNumber,
			LicenseIssuingCountry: app.Applicant.LicenseIssuingCountry,
			LicenseIssuingState:   app.Applicant.LicenseIssuingState,
			LicenseExpiry:         app.Applicant.LicenseExpiry,
		},
		Shipping: FulfillmentShipping{
			RecipientName: recipient,
			Category:      string(app.ShippingCategory),
			Speed:         string(app.ProcessingSpeed),
			RawAddress:    app.ShippingAddress.RawText,
		},
		Address:   s.normalizeAddress(app.ShippingAddress),
		Documents: make([]FulfillmentDocument, 0, len(app.Documents)),
	}
	if payload.Permits == nil {
		payload.Permits = []string{}
	}
	for _, kind := range domain.DocumentKinds {
		doc, ok := app.Documents[kind]
		if !ok {
			continue
		}
		payload.Documents = append(payload.Documents, FulfillmentDocument{
			Kind:        string(kind),
			URL:         doc.PublicURL,
			ContentType: doc.ContentType,
		})
	}
	if b := app.Pricing; b != nil {
		payload.Pricing = FulfillmentPricing{
			Currency:                b.Currency,
			PermitTotal:             b.PermitTotal.StringFixed(2),
			ShippingProcessingPrice: b.ShippingProcessingPrice.StringFixed(2),
			Subtotal:                b.Subtotal.StringFixed(2),
			TaxAmount:               b.TaxAmount.StringFixed(2),
			DiscountAmount:          b.DiscountAmount.StringFixed(2),
			FinalTotal:              b.FinalTotal.StringFixed(2),
			AmountMinor:             b.AmountInMinorUnits,
		}
		if b.CouponApplied() {
			payload.Pricing.CouponCode = b.CouponCode
		}
	}
	return payload
}

func (s *fulfillmentService) archivePayload(ctx context.Context, payload FulfillmentPayload) {
	if s.archive == nil {
		return
	}
	object, err := storage.BuildObjectPath(storage.PurposeFulfillmentPayload, storage.PathParams{
		ApplicationID: payload.ApplicationID,
		FileName:      fmt.Sprintf("payload-%d.json", payload.PaidAt.Unix()),
	})
	if err == nil {
		var data []byte
		if data, err = json.Marshal(payload); err == nil {
			_, err = s.archive.Upload(ctx, storage.UploadRequest{
				Object:      object,
				ContentType: "application/json",
				Body:        bytes.NewReader(data),
			})
		}
	}
	if err != nil {
		s.logger(ctx, "fulfillment.archive_failed", map[string]any{
			"applicationId": payload.ApplicationID,
			"error":         err.Error(),
		})
	}
}

func (s *fulfillmentService) redeemCoupon(ctx context.Context, app domain.Application) {
	if s.coupons == nil || app.Pricing == nil || !app.Pricing.CouponApplied() {
		return
	}
	if err := s.coupons.RedeemCoupon(ctx, app.Pricing.CouponCode); err != nil {
		s.logger(ctx, "fulfillment.coupon_redeem_failed", map[string]any{
			"applicationId": app.ID,
			"couponCode":    app.Pricing.CouponCode,
			"error":         err.Error(),
		})
	}
}

func (s *fulfillmentService) publish(ctx context.Context, app domain.Application, payload FulfillmentPayload, relayed bool, at time.Time) {
	if s.publisher == nil {
		return
	}
	message := FulfillmentEventMessage{
		Type:            FulfillmentEventRequested,
		ApplicationID:   app.ID,
		PaymentIntentID: app.PaymentIntentID,
		Country:         payload.Address.Country,
		AmountMinor:     payload.Pricing.AmountMinor,
		Currency:        payload.Pricing.Currency,
		Status:          string(app.Status),
		Relayed:         relayed,
		OccurredAt:      at,
	}
	if _, err := s.publisher.PublishFulfillmentEvent(ctx, message); err != nil {
		s.logger(ctx, "fulfillment.publish_failed", map[string]any{
			"applicationId": app.ID,
			"error":         err.Error(),
		})
	}
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return value[:limit]
}
