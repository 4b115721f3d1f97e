package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/idpfunnel/api/internal/domain"
)

type applicantRecord struct {
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

type addressRecord struct {
	RecipientName string `json:"recipientName,omitempty"`
	RawText       string `json:"rawText,omitempty"`
	CountryHint   string `json:"countryHint,omitempty"`
	Line1         string `json:"line1,omitempty"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty"`
}

type documentRecord struct {
	ID          string    `json:"id"`
	ObjectPath  string    `json:"objectPath"`
	PublicURL   string    `json:"publicUrl,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type pricingRecord struct {
	Currency                string          `json:"currency"`
	Permits                 []string        `json:"permits"`
	ShippingCategory        string          `json:"shippingCategory"`
	ProcessingSpeed         string          `json:"processingSpeed"`
	PermitTotal             decimal.Decimal `json:"permitTotal"`
	ShippingProcessingPrice decimal.Decimal `json:"shippingProcessingPrice"`
	Subtotal                decimal.Decimal `json:"subtotal"`
	TaxRate                 decimal.Decimal `json:"taxRate"`
	TaxAmount               decimal.Decimal `json:"taxAmount"`
	TotalBeforeDiscount     decimal.Decimal `json:"totalBeforeDiscount"`
	CouponCode              string          `json:"couponCode,omitempty"`
	CouponStatus            string          `json:"couponStatus,omitempty"`
	DiscountAmount          decimal.Decimal `json:"discountAmount"`
	FinalTotal              decimal.Decimal `json:"finalTotal"`
	AmountInMinorUnits      int64           `json:"amountInMinorUnits"`
	MinimumChargeApplied    bool            `json:"minimumChargeApplied,omitempty"`
}

func encodeApplicant(a domain.Applicant) applicantRecord {
	return applicantRecord(a)
}

func decodeApplicant(r applicantRecord) domain.Applicant {
	return domain.Applicant(r)
}

func encodeAddress(a domain.ShippingAddress) addressRecord {
	return addressRecord{
		RecipientName: a.RecipientName,
		RawText:       a.RawText,
		CountryHint:   a.CountryHint,
		Line1:         a.Fields.Line1,
		Line2:         a.Fields.Line2,
		City:          a.Fields.City,
		State:         a.Fields.State,
		PostalCode:    a.Fields.PostalCode,
		Country:       a.Fields.Country,
	}
}

func decodeAddress(r addressRecord) domain.ShippingAddress {
	return domain.ShippingAddress{
		RecipientName: r.RecipientName,
		RawText:       r.RawText,
		CountryHint:   r.CountryHint,
		Fields: domain.AddressFields{
			Line1:      r.Line1,
			Line2:      r.Line2,
			City:       r.City,
			State:      r.State,
			PostalCode: r.PostalCode,
			Country:    r.Country,
		},
	}
}

func encodeDocuments(docs map[domain.DocumentKind]domain.Document) map[string]documentRecord {
	out := make(map[string]documentRecord, len(docs))
	for kind, doc := range docs {
		out[string(kind)] = documentRecord{
			ID:          doc.ID,
			ObjectPath:  doc.ObjectPath,
			PublicURL:   doc.PublicURL,
			ContentType: doc.ContentType,
			Size:        doc.Size,
			UploadedAt:  doc.UploadedAt.UTC(),
		}
	}
	return out
}

func decodeDocuments(records map[string]documentRecord) map[domain.DocumentKind]domain.Document {
	out := make(map[domain.DocumentKind]domain.Document, len(records))
	for kind, rec := range records {
		out[domain.DocumentKind(kind)] = domain.Document{
			ID:          rec.ID,
			Kind:        domain.DocumentKind(kind),
			ObjectPath:  rec.ObjectPath,
			PublicURL:   rec.PublicURL,
			ContentType: rec.ContentType,
			Size:        rec.Size,
			UploadedAt:  rec.UploadedAt,
		}
	}
	return out
}

func encodePricing(b *domain.OrderBreakdown) *pricingRecord {
	if b == nil {
		return nil
	}
	return &pricingRecord{
		Currency:                b.Currency,
		Permits:                 append([]string(nil), b.Permits...),
		ShippingCategory:        string(b.ShippingCategory),
		ProcessingSpeed:         string(b.ProcessingSpeed),
		PermitTotal:             b.PermitTotal,
		ShippingProcessingPrice: b.ShippingProcessingPrice,
		Subtotal:                b.Subtotal,
		TaxRate:                 b.TaxRate,
		TaxAmount:               b.TaxAmount,
		TotalBeforeDiscount:     b.TotalBeforeDiscount,
		CouponCode:              b.CouponCode,
		CouponStatus:            string(b.CouponStatus),
		DiscountAmount:          b.DiscountAmount,
		FinalTotal:              b.FinalTotal,
		AmountInMinorUnits:      b.AmountInMinorUnits,
		MinimumChargeApplied:    b.MinimumChargeApplied,
	}
}

func decodePricing(r *pricingRecord) *domain.OrderBreakdown {
	if r == nil {
		return nil
	}
	return &domain.OrderBreakdown{
		Currency:                r.Currency,
		Permits:                 r.Permits,
		ShippingCategory:        domain.ShippingCategory(r.ShippingCategory),
		ProcessingSpeed:         domain.ProcessingSpeed(r.ProcessingSpeed),
		PermitTotal:             r.PermitTotal,
		ShippingProcessingPrice: r.ShippingProcessingPrice,
		Subtotal:                r.Subtotal,
		TaxRate:                 r.TaxRate,
		TaxAmount:               r.TaxAmount,
		TotalBeforeDiscount:     r.TotalBeforeDiscount,
		CouponCode:              r.CouponCode,
		CouponStatus:            domain.CouponStatus(r.CouponStatus),
		DiscountAmount:          r.DiscountAmount,
		FinalTotal:              r.FinalTotal,
		AmountInMinorUnits:      r.AmountInMinorUnits,
		MinimumChargeApplied:    r.MinimumChargeApplied,
	}
}
