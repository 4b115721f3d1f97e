package services

import (
	"regexp"
	"strings"
)

type postalPattern struct {
	name string
	re   *regexp.Regexp
	// group selects the submatch holding the code; 0 is the whole match.
	group int
	// needsDigit rejects matches made only of letters.
	needsDigit bool
}

// postalPatterns is tried in order and the first matching pattern wins. Several patterns overlap
// (the 4-digit rule shadows the Norwegian one and spaced Dutch codes), so the order is part of
// the parsing behaviour. The 4-digit rules never start after a hyphen so the "+4" of a ZIP+4
// code is left to the 5-digit rule.
var postalPatterns = []postalPattern{
	{name: "uk", re: regexp.MustCompile(`(?i)\b[A-Z]{1,2}[0-9][A-Z0-9]?\s*[0-9][A-Z]{2}\b`)},
	{name: "canada", re: regexp.MustCompile(`(?i)\b[A-Z][0-9][A-Z]\s?[0-9][A-Z][0-9]\b`)},
	{name: "four_digit", re: regexp.MustCompile(`(?:^|[^-\w])([0-9]{4})\b`), group: 1},
	{name: "five_digit", re: regexp.MustCompile(`\b[0-9]{5}(?:-[0-9]{4})?\b`)},
	{name: "netherlands", re: regexp.MustCompile(`(?i)\b[0-9]{4}\s?[A-Z]{2}\b`)},
	{name: "sweden", re: regexp.MustCompile(`\b[0-9]{3}\s[0-9]{2}\b`)},
	{name: "norway", re: regexp.MustCompile(`(?:^|[^-\w])([0-9]{4})\b`), group: 1},
	{name: "ireland", re: regexp.MustCompile(`(?i)\b[A-Z][0-9][0-9W]\s?[A-Z0-9]{4}\b`)},
	{name: "catch_all", re: regexp.MustCompile(`(?i)\b[A-Z0-9][A-Z0-9-]{1,8}[A-Z0-9]\b`), needsDigit: true},
}

// extractPostalCode splits a "city + postal code" fragment. ok is false when no pattern matches.
func extractPostalCode(part string) (postal string, rest string, ok bool) {
	part = strings.TrimSpace(part)
	if part == "" {
		return "", "", false
	}
	for _, pattern := range postalPatterns {
		for _, loc := range pattern.re.FindAllStringSubmatchIndex(part, -1) {
			start, end := loc[2*pattern.group], loc[2*pattern.group+1]
			match := part[start:end]
			if pattern.needsDigit && !strings.ContainsAny(match, "0123456789") {
				continue
			}
			return strings.TrimSpace(match), cleanFragment(part[:start] + " " + part[end:]), true
		}
	}
	return "", part, false
}

// cleanFragment collapses whitespace and trims separators left behind after excising a match.
func cleanFragment(value string) string {
	value = strings.Join(strings.Fields(value), " ")
	return strings.Trim(value, " ,;-")
}

type postalFormat struct {
	compact *regexp.Regexp
	split   int
	sep     string
}

func (f postalFormat) apply(compact string) (string, bool) {
	if !f.compact.MatchString(compact) {
		return "", false
	}
	at := f.split
	if at < 0 {
		at = len(compact) + at
	}
	return compact[:at] + f.sep + compact[at:], true
}

// postalFormats reformats a compacted (no spaces or dashes, upper-case) code.
var postalFormats = map[string]postalFormat{
	"GB": {compact: regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]?[0-9][A-Z]{2}$`), split: -3, sep: " "},
	"CA": {compact: regexp.MustCompile(`^[A-Z][0-9][A-Z][0-9][A-Z][0-9]$`), split: 3, sep: " "},
	"NL": {compact: regexp.MustCompile(`^[0-9]{4}[A-Z]{2}$`), split: 4, sep: " "},
	"IE": {compact: regexp.MustCompile(`^[A-Z][0-9][0-9W][A-Z0-9]{4}$`), split: 3, sep: " "},
	"SE": {compact: regexp.MustCompile(`^[0-9]{5}$`), split: 3, sep: " "},
	"PT": {compact: regexp.MustCompile(`^[0-9]{7}$`), split: 4, sep: "-"},
}

var fourDigitPostalCountries = map[string]struct{}{
	"AU": {}, "NZ": {}, "NO": {}, "DK": {}, "AT": {}, "BE": {}, "CH": {}, "LU": {}, "HU": {}, "ZA": {},
}

var fiveDigitPostalCountries = map[string]struct{}{
	"US": {}, "MX": {}, "DE": {}, "FR": {}, "ES": {}, "IT": {}, "FI": {}, "GR": {}, "CZ": {}, "KR": {}, "IL": {},
}

// ReformatPostalCode applies the destination country's postal code layout. Codes for unknown
// countries, and codes that do not fit their country's layout, are only trimmed.
func ReformatPostalCode(code, country string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if format, ok := postalFormats[country]; ok {
		compact := strings.NewReplacer(" ", "", "-", "").Replace(strings.ToUpper(code))
		if formatted, ok := format.apply(compact); ok {
			return formatted
		}
		return code
	}
	if _, ok := fourDigitPostalCountries[country]; ok {
		return strings.ToUpper(code)
	}
	if _, ok := fiveDigitPostalCountries[country]; ok {
		return strings.ToUpper(code)
	}
	return code
}
