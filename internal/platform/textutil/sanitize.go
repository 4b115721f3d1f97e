package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stripe rejects metadata values longer than this.
const maxMetadataValueLength = 500

var strictPolicy = bluemonday.StrictPolicy()

// PlainText removes markup from applicant supplied text and collapses runs of whitespace.
func PlainText(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}

// PersonName cleans a name field. Names typed entirely in upper or lower case are title cased;
// mixed case input such as "McDonald" or "van der Berg" is kept as entered.
func PersonName(value string) string {
	cleaned := PlainText(value)
	if cleaned == "" {
		return ""
	}
	hasUpper, hasLower := false, false
	for _, r := range cleaned {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}
	if hasUpper && hasLower {
		return cleaned
	}
	return cases.Title(language.Und).String(cleaned)
}

// CleanMetadata trims keys and values, strips markup from values and drops entries with empty
// keys. Values are truncated to the payment processor's metadata limit.
func CleanMetadata(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		cleaned := PlainText(value)
		if len(cleaned) > maxMetadataValueLength {
			cleaned = truncateRunes(cleaned, maxMetadataValueLength)
		}
		result[trimmedKey] = cleaned
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func truncateRunes(value string, maxBytes int) string {
	if len(value) <= maxBytes {
		return value
	}
	cut := 0
	for idx := range value {
		if idx > maxBytes {
			break
		}
		cut = idx
	}
	return value[:cut]
}
