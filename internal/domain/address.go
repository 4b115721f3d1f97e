package domain

// CanonicalAddress is the normalised shipping address forwarded to fulfillment.
// StateOrProvince is nil when the destination country does not take a state,
// and points at an empty string when it does but none could be found.
type CanonicalAddress struct {
	Line1           string  `json:"line1"`
	Line2           string  `json:"line2"`
	City            string  `json:"city"`
	PostalCode      string  `json:"postalCode"`
	Country         string  `json:"country"`
	StateOrProvince *string `json:"stateOrProvince,omitempty"`
}

// RequiresState reports whether the address carries a state or province field.
func (a CanonicalAddress) RequiresState() bool {
	return a.StateOrProvince != nil
}

// State returns the state or province code, or "" when absent.
func (a CanonicalAddress) State() string {
	if a.StateOrProvince == nil {
		return ""
	}
	return *a.StateOrProvince
}

// AddressFields carries a structured address as entered in the application form.
type AddressFields struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// IsZero reports whether no structured field was provided.
func (f AddressFields) IsZero() bool {
	return f == AddressFields{}
}

// ShippingAddress captures the address the applicant wants the permit shipped to.
type ShippingAddress struct {
	RecipientName string
	RawText       string
	CountryHint   string
	Fields        AddressFields
}
