package services

import (
	"strings"
	"unicode"
)

type subdivision struct {
	code  string
	names []string
}

// Subdivision tables are scanned in order and the first entry whose name or code appears in
// the address wins. Entries whose names contain another entry's name come first.
var subdivisionsByCountry = map[string][]subdivision{
	"US": {
		{"DC", []string{"district of columbia", "washington dc"}},
		{"AA", []string{"armed forces americas"}},
		{"AE", []string{"armed forces europe"}},
		{"AP", []string{"armed forces pacific"}},
		{"AL", []string{"alabama"}},
		{"AK", []string{"alaska"}},
		{"AZ", []string{"arizona"}},
		{"AR", []string{"arkansas"}},
		{"CA", []string{"california"}},
		{"CO", []string{"colorado"}},
		{"CT", []string{"connecticut"}},
		{"DE", []string{"delaware"}},
		{"FL", []string{"florida"}},
		{"GA", []string{"georgia"}},
		{"HI", []string{"hawaii"}},
		{"ID", []string{"idaho"}},
		{"IL", []string{"illinois"}},
		{"IN", []string{"indiana"}},
		{"IA", []string{"iowa"}},
		{"KS", []string{"kansas"}},
		{"KY", []string{"kentucky"}},
		{"LA", []string{"louisiana"}},
		{"ME", []string{"maine"}},
		{"MD", []string{"maryland"}},
		{"MA", []string{"massachusetts"}},
		{"MI", []string{"michigan"}},
		{"MN", []string{"minnesota"}},
		{"MS", []string{"mississippi"}},
		{"MO", []string{"missouri"}},
		{"MT", []string{"montana"}},
		{"NE", []string{"nebraska"}},
		{"NV", []string{"nevada"}},
		{"NH", []string{"new hampshire"}},
		{"NJ", []string{"new jersey"}},
		{"NM", []string{"new mexico"}},
		{"NY", []string{"new york"}},
		{"NC", []string{"north carolina"}},
		{"ND", []string{"north dakota"}},
		{"OH", []string{"ohio"}},
		{"OK", []string{"oklahoma"}},
		{"OR", []string{"oregon"}},
		{"PA", []string{"pennsylvania"}},
		{"RI", []string{"rhode island"}},
		{"SC", []string{"south carolina"}},
		{"SD", []string{"south dakota"}},
		{"TN", []string{"tennessee"}},
		{"TX", []string{"texas"}},
		{"UT", []string{"utah"}},
		{"VT", []string{"vermont"}},
		{"WV", []string{"west virginia"}},
		{"VA", []string{"virginia"}},
		{"WA", []string{"washington"}},
		{"WI", []string{"wisconsin"}},
		{"WY", []string{"wyoming"}},
		{"PR", []string{"puerto rico"}},
	},
	"CA": {
		{"AB", []string{"alberta"}},
		{"BC", []string{"british columbia"}},
		{"MB", []string{"manitoba"}},
		{"NB", []string{"new brunswick"}},
		{"NL", []string{"newfoundland and labrador", "newfoundland", "labrador"}},
		{"NS", []string{"nova scotia"}},
		{"NT", []string{"northwest territories"}},
		{"NU", []string{"nunavut"}},
		{"ON", []string{"ontario"}},
		{"PE", []string{"prince edward island"}},
		{"QC", []string{"quebec"}},
		{"SK", []string{"saskatchewan"}},
		{"YT", []string{"yukon"}},
	},
	"AU": {
		{"ACT", []string{"australian capital territory"}},
		{"NSW", []string{"new south wales"}},
		{"VIC", []string{"victoria"}},
		{"QLD", []string{"queensland"}},
		{"SA", []string{"south australia"}},
		{"WA", []string{"western australia"}},
		{"TAS", []string{"tasmania"}},
		{"NT", []string{"northern territory"}},
	},
	"MX": {
		{"AGU", []string{"aguascalientes"}},
		{"BCS", []string{"baja california sur"}},
		{"BCN", []string{"baja california"}},
		{"CAM", []string{"campeche"}},
		{"CHP", []string{"chiapas"}},
		{"CHH", []string{"chihuahua"}},
		{"CMX", []string{"ciudad de mexico", "mexico city", "cdmx", "distrito federal"}},
		{"COA", []string{"coahuila"}},
		{"COL", []string{"colima"}},
		{"DUR", []string{"durango"}},
		{"GUA", []string{"guanajuato"}},
		{"GRO", []string{"guerrero"}},
		{"HID", []string{"hidalgo"}},
		{"JAL", []string{"jalisco"}},
		{"MEX", []string{"estado de mexico"}},
		{"MIC", []string{"michoacan"}},
		{"MOR", []string{"morelos"}},
		{"NAY", []string{"nayarit"}},
		{"NLE", []string{"nuevo leon"}},
		{"OAX", []string{"oaxaca"}},
		{"PUE", []string{"puebla"}},
		{"QUE", []string{"queretaro"}},
		{"ROO", []string{"quintana roo"}},
		{"SLP", []string{"san luis potosi"}},
		{"SIN", []string{"sinaloa"}},
		{"SON", []string{"sonora"}},
		{"TAB", []string{"tabasco"}},
		{"TAM", []string{"tamaulipas"}},
		{"TLA", []string{"tlaxcala"}},
		{"VER", []string{"veracruz"}},
		{"YUC", []string{"yucatan"}},
		{"ZAC", []string{"zacatecas"}},
	},
}

// RequiresState reports whether addresses in country carry a state or province field.
func RequiresState(country string) bool {
	_, ok := subdivisionsByCountry[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}

// findSubdivision searches the whole address. Names match case-insensitively on word boundaries;
// codes only match as standalone upper-case words so "on" or "in" inside prose are ignored.
func findSubdivision(country, text string) string {
	table := subdivisionsByCountry[country]
	if len(table) == 0 || strings.TrimSpace(text) == "" {
		return ""
	}
	folded := foldKey(text)
	codes := upperCaseWords(text)
	for _, entry := range table {
		for _, name := range entry.names {
			if containsWords(folded, name) {
				return entry.code
			}
		}
		if _, ok := codes[entry.code]; ok {
			return entry.code
		}
	}
	return ""
}

// canonicalSubdivision maps a user-entered state (code or name) onto the table code.
func canonicalSubdivision(country, value string) (string, bool) {
	table := subdivisionsByCountry[country]
	value = strings.TrimSpace(value)
	if len(table) == 0 || value == "" {
		return "", false
	}
	upper := strings.ToUpper(value)
	key := foldKey(value)
	for _, entry := range table {
		if entry.code == upper {
			return entry.code, true
		}
		for _, name := range entry.names {
			if name == key {
				return entry.code, true
			}
		}
	}
	return "", false
}

// isSubdivisionOf reports whether a fragment is exactly a state or province of country.
func isSubdivisionOf(country, fragment string) bool {
	_, ok := canonicalSubdivision(country, fragment)
	return ok
}

func upperCaseWords(text string) map[string]struct{} {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := make(map[string]struct{}, len(words))
	for _, word := range words {
		if len(word) < 2 || len(word) > 3 || strings.ToUpper(word) != word {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}
