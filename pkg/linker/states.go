package linker

import "strings"

// usStateToAbbr maps lowercase full state names to their 2-letter codes.
// Inventory rows may carry either form, so queries match both.
var usStateToAbbr = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY",
}

// NormalizeState uppercases 2-letter tokens and maps full US state names to
// their 2-letter code. Unknown names are uppercased as-is.
func NormalizeState(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 2 {
		return strings.ToUpper(s)
	}
	if abbr, ok := usStateToAbbr[strings.ToLower(s)]; ok {
		return abbr
	}
	return strings.ToUpper(s)
}

// stateQueryForms returns the lowercase forms a state column may hold for the
// given normalized 2-letter code: the code itself plus any full name that
// maps to it.
func stateQueryForms(abbr string) []string {
	forms := []string{strings.ToLower(abbr)}
	for name, a := range usStateToAbbr {
		if a == abbr {
			forms = append(forms, name)
		}
	}
	return forms
}
