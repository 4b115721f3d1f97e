package domain

import "time"

// ApplicationStatus tracks an application through payment and fulfillment.
type ApplicationStatus string

const (
	ApplicationStatusDraft             ApplicationStatus = "draft"
	ApplicationStatusAwaitingPayment   ApplicationStatus = "awaiting_payment"
	ApplicationStatusPaid              ApplicationStatus = "paid"
	ApplicationStatusPaymentFailed     ApplicationStatus = "payment_failed"
	ApplicationStatusFulfilled         ApplicationStatus = "fulfilled"
	ApplicationStatusFulfillmentFailed ApplicationStatus = "fulfillment_failed"
)

// Editable reports whether applicant data may still change.
func (s ApplicationStatus) Editable() bool {
	switch s {
	case ApplicationStatusDraft, ApplicationStatusAwaitingPayment, ApplicationStatusPaymentFailed:
		return true
	default:
		return false
	}
}

// Applicant holds the personal and driving licence details printed on the permit.
type Applicant struct {
	FirstName             string
	LastName              string
	Email                 string
	Phone                 string
	DateOfBirth           string
	PlaceOfBirth          string
	LicenseNumber         string
	LicenseIssuingCountry string
	LicenseIssuingState   string
	LicenseExpiry         string
}

// FullName joins first and last name.
func (a Applicant) FullName() string {
	switch {
	case a.FirstName == "":
		return a.LastName
	case a.LastName == "":
		return a.FirstName
	default:
		return a.FirstName + " " + a.LastName
	}
}

// DocumentKind enumerates the uploads an application needs.
type DocumentKind string

const (
	DocumentLicenseFront  DocumentKind = "license_front"
	DocumentLicenseBack   DocumentKind = "license_back"
	DocumentPassportPhoto DocumentKind = "passport_photo"
	DocumentSignature     DocumentKind = "signature"
)

// DocumentKinds lists every accepted document kind.
var DocumentKinds = []DocumentKind{DocumentLicenseFront, DocumentLicenseBack, DocumentPassportPhoto, DocumentSignature}

// ParseDocumentKind validates a document kind supplied by a client.
func ParseDocumentKind(value string) (DocumentKind, bool) {
	kind := DocumentKind(value)
	for _, known := range DocumentKinds {
		if kind == known {
			return kind, true
		}
	}
	return kind, false
}

// Document references an uploaded file in object storage.
type Document struct {
	ID          string
	Kind        DocumentKind
	ObjectPath  string
	PublicURL   string
	ContentType string
	Size        int64
	UploadedAt  time.Time
}

// Application is a single IDP order from intake through fulfillment.
type Application struct {
	ID               string
	Status           ApplicationStatus
	Applicant        Applicant
	Permits          []string
	TravelDate       string
	ShippingCategory ShippingCategory
	ProcessingSpeed  ProcessingSpeed
	ShippingAddress  ShippingAddress
	Documents        map[DocumentKind]Document
	Pricing          *OrderBreakdown
	CouponCode       string
	PaymentIntentID  string
	FulfillmentError string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	FulfilledAt      *time.Time
}
