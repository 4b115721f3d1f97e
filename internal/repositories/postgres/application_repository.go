package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/idpfunnel/api/internal/domain"
	ppostgres "github.com/idpfunnel/api/internal/platform/postgres"
	"github.com/idpfunnel/api/internal/repositories"
)

const applicationColumns = `id, status, applicant, permits, travel_date, shipping_category, processing_speed,
	shipping_address, documents, pricing, coupon_code, payment_intent_id, fulfillment_error,
	created_at, updated_at, paid_at, fulfilled_at`

// ApplicationRepository persists applications in Postgres with nested values stored as JSONB.
type ApplicationRepository struct {
	client *ppostgres.Client
}

var _ repositories.ApplicationRepository = (*ApplicationRepository)(nil)

// NewApplicationRepository constructs a Postgres-backed application repository.
func NewApplicationRepository(client *ppostgres.Client) (*ApplicationRepository, error) {
	if client == nil || client.DB() == nil {
		return nil, errors.New("application repository requires postgres client")
	}
	return &ApplicationRepository{client: client}, nil
}

// Insert stores a new application. A duplicate id or payment intent yields a conflict error.
func (r *ApplicationRepository) Insert(ctx context.Context, app domain.Application) error {
	row, err := encodeApplicationRow(app)
	if err != nil {
		return err
	}
	_, err = r.client.DB().ExecContext(ctx, `INSERT INTO applications (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		row.args()...)
	return ppostgres.WrapError("applications.insert", err)
}

// Update replaces the stored application. Missing rows yield a not-found error.
func (r *ApplicationRepository) Update(ctx context.Context, app domain.Application) error {
	row, err := encodeApplicationRow(app)
	if err != nil {
		return err
	}
	res, err := r.client.DB().ExecContext(ctx, `UPDATE applications SET
			status = $2, applicant = $3, permits = $4, travel_date = $5, shipping_category = $6,
			processing_speed = $7, shipping_address = $8, documents = $9, pricing = $10,
			coupon_code = $11, payment_intent_id = $12, fulfillment_error = $13,
			created_at = $14, updated_at = $15, paid_at = $16, fulfilled_at = $17
		WHERE id = $1`, row.args()...)
	if err != nil {
		return ppostgres.WrapError("applications.update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return ppostgres.WrapError("applications.update", err)
	}
	if affected == 0 {
		return ppostgres.NotFound("applications.update")
	}
	return nil
}

// FindByID loads an application by id.
func (r *ApplicationRepository) FindByID(ctx context.Context, applicationID string) (domain.Application, error) {
	id := strings.TrimSpace(applicationID)
	if id == "" {
		return domain.Application{}, errors.New("application id is required")
	}
	row := r.client.DB().QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		return domain.Application{}, ppostgres.WrapError("applications.find", err)
	}
	return app, nil
}

// FindByPaymentIntent loads the application bound to a payment intent.
func (r *ApplicationRepository) FindByPaymentIntent(ctx context.Context, intentID string) (domain.Application, error) {
	id := strings.TrimSpace(intentID)
	if id == "" {
		return domain.Application{}, errors.New("payment intent id is required")
	}
	row := r.client.DB().QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE payment_intent_id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		return domain.Application{}, ppostgres.WrapError("applications.find_by_intent", err)
	}
	return app, nil
}

type applicationRow struct {
	id               string
	status           string
	applicant        []byte
	permits          []byte
	travelDate       string
	shippingCategory string
	processingSpeed  string
	shippingAddress  []byte
	documents        []byte
	pricing          []byte
	couponCode       string
	paymentIntentID  sql.NullString
	fulfillmentError string
	createdAt        time.Time
	updatedAt        time.Time
	paidAt           sql.NullTime
	fulfilledAt      sql.NullTime
}

func (r applicationRow) args() []any {
	var pricing any
	if r.pricing != nil {
		pricing = r.pricing
	}
	return []any{
		r.id, r.status, r.applicant, r.permits, r.travelDate, r.shippingCategory, r.processingSpeed,
		r.shippingAddress, r.documents, pricing, r.couponCode, r.paymentIntentID, r.fulfillmentError,
		r.createdAt, r.updatedAt, r.paidAt, r.fulfilledAt,
	}
}

func encodeApplicationRow(app domain.Application) (applicationRow, error) {
	id := strings.TrimSpace(app.ID)
	if id == "" {
		return applicationRow{}, errors.New("application id is required")
	}
	row := applicationRow{
		id:               id,
		status:           string(app.Status),
		travelDate:       app.TravelDate,
		shippingCategory: string(app.ShippingCategory),
		processingSpeed:  string(app.ProcessingSpeed),
		couponCode:       app.CouponCode,
		fulfillmentError: app.FulfillmentError,
		createdAt:        app.CreatedAt.UTC(),
		updatedAt:        app.UpdatedAt.UTC(),
	}
	if intent := strings.TrimSpace(app.PaymentIntentID); intent != "" {
		row.paymentIntentID = sql.NullString{String: intent, Valid: true}
	}
	if app.PaidAt != nil {
		row.paidAt = sql.NullTime{Time: app.PaidAt.UTC(), Valid: true}
	}
	if app.FulfilledAt != nil {
		row.fulfilledAt = sql.NullTime{Time: app.FulfilledAt.UTC(), Valid: true}
	}

	permits := app.Permits
	if permits == nil {
		permits = []string{}
	}
	var err error
	if row.applicant, err = json.Marshal(encodeApplicant(app.Applicant)); err != nil {
		return applicationRow{}, fmt.Errorf("encode applicant: %w", err)
	}
	if row.permits, err = json.Marshal(permits); err != nil {
		return applicationRow{}, fmt.Errorf("encode permits: %w", err)
	}
	if row.shippingAddress, err = json.Marshal(encodeAddress(app.ShippingAddress)); err != nil {
		return applicationRow{}, fmt.Errorf("encode shipping address: %w", err)
	}
	if row.documents, err = json.Marshal(encodeDocuments(app.Documents)); err != nil {
		return applicationRow{}, fmt.Errorf("encode documents: %w", err)
	}
	if pricing := encodePricing(app.Pricing); pricing != nil {
		if row.pricing, err = json.Marshal(pricing); err != nil {
			return applicationRow{}, fmt.Errorf("encode pricing: %w", err)
		}
	}
	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(scanner rowScanner) (domain.Application, error) {
	var row applicationRow
	if err := scanner.Scan(
		&row.id, &row.status, &row.applicant, &row.permits, &row.travelDate, &row.shippingCategory,
		&row.processingSpeed, &row.shippingAddress, &row.documents, &row.pricing, &row.couponCode,
		&row.paymentIntentID, &row.fulfillmentError, &row.createdAt, &row.updatedAt, &row.paidAt,
		&row.fulfilledAt,
	); err != nil {
		return domain.Application{}, err
	}
	return decodeApplicationRow(row)
}

func decodeApplicationRow(row applicationRow) (domain.Application, error) {
	app := domain.Application{
		ID:               row.id,
		Status:           domain.ApplicationStatus(row.status),
		TravelDate:       row.travelDate,
		ShippingCategory: domain.ShippingCategory(row.shippingCategory),
		ProcessingSpeed:  domain.ProcessingSpeed(row.processingSpeed),
		CouponCode:       row.couponCode,
		PaymentIntentID:  row.paymentIntentID.String,
		FulfillmentError: row.fulfillmentError,
		CreatedAt:        row.createdAt.UTC(),
		UpdatedAt:        row.updatedAt.UTC(),
	}
	if row.paidAt.Valid {
		paid := row.paidAt.Time.UTC()
		app.PaidAt = &paid
	}
	if row.fulfilledAt.Valid {
		fulfilled := row.fulfilledAt.Time.UTC()
		app.FulfilledAt = &fulfilled
	}

	var applicant applicantRecord
	if err := json.Unmarshal(row.applicant, &applicant); err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s applicant: %w", row.id, err)
	}
	app.Applicant = decodeApplicant(applicant)

	if err := json.Unmarshal(row.permits, &app.Permits); err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s permits: %w", row.id, err)
	}

	var address addressRecord
	if err := json.Unmarshal(row.shippingAddress, &address); err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s address: %w", row.id, err)
	}
	app.ShippingAddress = decodeAddress(address)

	var documents map[string]documentRecord
	if err := json.Unmarshal(row.documents, &documents); err != nil {
		return domain.Application{}, fmt.Errorf("decode application %s documents: %w", row.id, err)
	}
	app.Documents = decodeDocuments(documents)

	if len(row.pricing) > 0 {
		var pricing pricingRecord
		if err := json.Unmarshal(row.pricing, &pricing); err != nil {
			return domain.Application{}, fmt.Errorf("decode application %s pricing: %w", row.id, err)
		}
		app.Pricing = decodePricing(&pricing)
	}
	return app, nil
}
