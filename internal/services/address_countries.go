package services

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type countryName struct {
	name string
	code string
}

// countryNames covers the fulfillment destinations plus the aliases applicants type most often.
// Names are stored in folded form (see foldKey).
var countryNames = []countryName{
	{"united states of america", "US"},
	{"united states", "US"},
	{"usa", "US"},
	{"u s a", "US"},
	{"america", "US"},
	{"canada", "CA"},
	{"mexico", "MX"},
	{"australia", "AU"},
	{"new zealand", "NZ"},
	{"united kingdom", "GB"},
	{"great britain", "GB"},
	{"britain", "GB"},
	{"uk", "GB"},
	{"u k", "GB"},
	{"england", "GB"},
	{"scotland", "GB"},
	{"wales", "GB"},
	{"northern ireland", "GB"},
	{"republic of ireland", "IE"},
	{"ireland", "IE"},
	{"eire", "IE"},
	{"germany", "DE"},
	{"deutschland", "DE"},
	{"france", "FR"},
	{"spain", "ES"},
	{"espana", "ES"},
	{"portugal", "PT"},
	{"italy", "IT"},
	{"italia", "IT"},
	{"the netherlands", "NL"},
	{"netherlands", "NL"},
	{"holland", "NL"},
	{"belgium", "BE"},
	{"luxembourg", "LU"},
	{"switzerland", "CH"},
	{"austria", "AT"},
	{"denmark", "DK"},
	{"sweden", "SE"},
	{"norway", "NO"},
	{"finland", "FI"},
	{"iceland", "IS"},
	{"poland", "PL"},
	{"czech republic", "CZ"},
	{"czechia", "CZ"},
	{"greece", "GR"},
	{"hungary", "HU"},
	{"japan", "JP"},
	{"south korea", "KR"},
	{"korea", "KR"},
	{"singapore", "SG"},
	{"india", "IN"},
	{"south africa", "ZA"},
	{"brazil", "BR"},
	{"israel", "IL"},
	{"united arab emirates", "AE"},
	{"uae", "AE"},
}

// twoLetterAliases maps two letter tokens that are not ISO codes onto the code they mean.
var twoLetterAliases = map[string]string{
	"UK": "GB",
}

var (
	countryByName = func() map[string]string {
		out := make(map[string]string, len(countryNames))
		for _, entry := range countryNames {
			out[entry.name] = entry.code
		}
		return out
	}()

	// countryNamesByLength orders names longest first so "northern ireland" wins over "ireland".
	countryNamesByLength = func() []countryName {
		out := make([]countryName, len(countryNames))
		copy(out, countryNames)
		sort.SliceStable(out, func(i, j int) bool {
			return len(out[i].name) > len(out[j].name)
		})
		return out
	}()
)

// foldKey lower-cases text, strips diacritics and collapses punctuation into single spaces.
func foldKey(value string) string {
	if value == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, value)
	if err != nil {
		folded = value
	}
	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func isTwoLetterCode(value string) bool {
	if len(value) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		c := value[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// countryCodeFromToken accepts a two letter token as a country code.
func countryCodeFromToken(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if !isTwoLetterCode(value) {
		return "", false
	}
	code := strings.ToUpper(value)
	if alias, ok := twoLetterAliases[code]; ok {
		code = alias
	}
	return code, true
}

// lookupCountryName resolves an exact (folded) country name.
func lookupCountryName(value string) (string, bool) {
	key := foldKey(value)
	if key == "" {
		return "", false
	}
	code, ok := countryByName[key]
	return code, ok
}

// resolveCountryHint applies the hint rules: two letter code, then the name table.
func resolveCountryHint(hint string) string {
	if code, ok := countryCodeFromToken(hint); ok {
		return code
	}
	if code, ok := lookupCountryName(hint); ok {
		return code
	}
	return ""
}

// containsWords reports whether needle occurs in haystack on word boundaries.
// Both arguments must already be folded.
func containsWords(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

func letterCount(value string) int {
	n := 0
	for _, r := range value {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

// matchCountrySegment tests one segment against the name table, loosely.
func matchCountrySegment(segment string) (string, bool) {
	key := foldKey(segment)
	if key == "" {
		return "", false
	}
	if code, ok := countryByName[key]; ok {
		return code, true
	}
	for _, entry := range countryNamesByLength {
		if containsWords(key, entry.name) {
			return entry.code, true
		}
	}
	if letterCount(key) >= 4 {
		for _, entry := range countryNamesByLength {
			if containsWords(entry.name, key) {
				return entry.code, true
			}
		}
	}
	if code, ok := countryCodeFromToken(segment); ok {
		return code, true
	}
	return "", false
}

// extractCountry finds a country in address segments, checking the last segment strictly
// before scanning every segment from the end.
func extractCountry(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	last := segments[len(segments)-1]
	if code, ok := countryCodeFromToken(last); ok {
		return code
	}
	if code, ok := lookupCountryName(last); ok {
		return code
	}
	for i := len(segments) - 1; i >= 0; i-- {
		if code, ok := matchCountrySegment(segments[i]); ok {
			return code
		}
	}
	return ""
}

// isCountrySegment reports whether a segment is only a country name or two letter code.
func isCountrySegment(segment string) bool {
	if _, ok := countryCodeFromToken(segment); ok {
		return true
	}
	_, ok := lookupCountryName(segment)
	return ok
}
