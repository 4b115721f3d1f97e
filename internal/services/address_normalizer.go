package services

import (
	"strings"

	domain "github.com/idpfunnel/api/internal/domain"
)

// AddressNormalizer turns free-text or structured shipping addresses into canonical records for
// the fulfillment webhook. It never fails: anything it cannot determine is left empty.
type AddressNormalizer struct{}

// NewAddressNormalizer returns a normalizer backed by the static country, postal and state tables.
func NewAddressNormalizer() *AddressNormalizer {
	return &AddressNormalizer{}
}

// Normalize parses raw address text. countryHint may be a two letter code or a country name;
// when it does not resolve the country is looked for in the text itself.
func (n *AddressNormalizer) Normalize(raw string, countryHint string) domain.CanonicalAddress {
	lines := splitLines(raw)
	segments := lines
	if len(lines) == 1 {
		segments = splitParts(lines[0])
	}

	country := resolveCountryHint(countryHint)
	if country == "" {
		country = extractCountry(segments)
	}

	var addr domain.CanonicalAddress
	switch {
	case len(lines) == 0:
	case len(lines) == 1:
		addr = parseSingleLine(segments, country)
	default:
		addr = parseMultiLine(lines, country)
	}

	addr.Country = country
	addr.PostalCode = ReformatPostalCode(addr.PostalCode, country)
	if RequiresState(country) {
		state := findSubdivision(country, raw)
		addr.StateOrProvince = &state
	}
	return addr
}

// NormalizeFields normalises an address entered field by field. Missing fields are recovered
// from the others where possible, so a postal code typed into the city box is still split out.
func (n *AddressNormalizer) NormalizeFields(fields domain.AddressFields) domain.CanonicalAddress {
	country := resolveCountryHint(fields.Country)
	joined := joinNonEmpty(", ", fields.Line1, fields.Line2, fields.City, strings.TrimSpace(fields.State+" "+fields.PostalCode), fields.Country)
	if country == "" {
		country = extractCountry(splitParts(joined))
	}

	addr := domain.CanonicalAddress{
		Line1:      strings.TrimSpace(fields.Line1),
		Line2:      strings.TrimSpace(fields.Line2),
		City:       strings.TrimSpace(fields.City),
		PostalCode: strings.TrimSpace(fields.PostalCode),
		Country:    country,
	}
	if addr.PostalCode == "" && addr.City != "" {
		if postal, rest, ok := extractPostalCode(addr.City); ok && rest != "" {
			addr.PostalCode = postal
			addr.City = rest
		}
	}
	addr.PostalCode = ReformatPostalCode(addr.PostalCode, country)

	if RequiresState(country) {
		state, ok := canonicalSubdivision(country, fields.State)
		if !ok {
			state = findSubdivision(country, joined)
		}
		addr.StateOrProvince = &state
	}
	return addr
}

// ReformatPostalCode exposes the per-country postal code layout rules.
func (n *AddressNormalizer) ReformatPostalCode(code, country string) string {
	return ReformatPostalCode(code, country)
}

// RequiresState reports whether the country takes a state or province.
func (n *AddressNormalizer) RequiresState(country string) bool {
	return RequiresState(country)
}

func parseSingleLine(parts []string, country string) domain.CanonicalAddress {
	var addr domain.CanonicalAddress
	if len(parts) < 2 {
		return addr
	}
	addr.Line1 = parts[0]
	rest := parts[1:]
	if len(rest) > 0 && isCountrySegment(rest[len(rest)-1]) {
		rest = rest[:len(rest)-1]
	}
	if len(rest) == 0 {
		return addr
	}

	last := rest[len(rest)-1]
	rest = rest[:len(rest)-1]
	postal, remainder, ok := extractPostalCode(last)
	switch {
	case !ok:
		addr.City = last
	case remainder != "" && !(len(rest) > 0 && isSubdivisionOf(country, remainder)):
		addr.PostalCode = postal
		addr.City = stripSubdivision(country, remainder)
	default:
		addr.PostalCode = postal
		if len(rest) > 0 {
			addr.City = rest[len(rest)-1]
			rest = rest[:len(rest)-1]
		} else {
			addr.City = remainder
		}
	}
	addr.Line2 = strings.Join(rest, ", ")
	return addr
}

func parseMultiLine(lines []string, country string) domain.CanonicalAddress {
	addr := domain.CanonicalAddress{Line1: lines[0]}

	cityIdx := len(lines) - 1
	if isCountrySegment(lines[cityIdx]) {
		cityIdx--
	}
	if cityIdx >= 1 {
		cityLine := lines[cityIdx]
		if postal, remainder, ok := extractPostalCode(cityLine); ok {
			addr.PostalCode = postal
			addr.City = stripSubdivision(country, remainder)
		} else {
			addr.City = cityLine
		}
	}
	if len(lines) > 1 && cityIdx > 1 {
		addr.Line2 = lines[1]
	}
	return addr
}

// stripSubdivision drops a trailing state or province from "City ST" so the city stays clean.
func stripSubdivision(country, fragment string) string {
	fragment = cleanFragment(fragment)
	if !RequiresState(country) {
		return fragment
	}
	if idx := strings.LastIndexAny(fragment, " ,"); idx > 0 {
		if isSubdivisionOf(country, fragment[idx+1:]) {
			return cleanFragment(fragment[:idx])
		}
	}
	return fragment
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	out := make([]string, 0, 4)
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitParts(line string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(line, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinNonEmpty(sep string, values ...string) string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return strings.Join(out, sep)
}
