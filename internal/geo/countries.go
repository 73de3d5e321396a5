package geo

// countryNames maps common ISO 3166-1 alpha-2 codes to display names for
// databases that carry only the code. Unknown codes fall back to the code
// itself.
var countryNames = map[string]string{
	"US": "United States",
	"GB": "United Kingdom",
	"CA": "Canada",
	"AU": "Australia",
	"DE": "Germany",
	"FR": "France",
	"ES": "Spain",
	"IT": "Italy",
	"NL": "Netherlands",
	"BE": "Belgium",
	"CH": "Switzerland",
	"AT": "Austria",
	"SE": "Sweden",
	"NO": "Norway",
	"DK": "Denmark",
	"FI": "Finland",
	"IE": "Ireland",
	"PT": "Portugal",
	"PL": "Poland",
	"CZ": "Czechia",
	"RU": "Russia",
	"UA": "Ukraine",
	"TR": "Turkey",
	"BR": "Brazil",
	"MX": "Mexico",
	"AR": "Argentina",
	"CL": "Chile",
	"CO": "Colombia",
	"JP": "Japan",
	"KR": "South Korea",
	"CN": "China",
	"TW": "Taiwan",
	"HK": "Hong Kong",
	"SG": "Singapore",
	"IN": "India",
	"ID": "Indonesia",
	"TH": "Thailand",
	"VN": "Vietnam",
	"PH": "Philippines",
	"MY": "Malaysia",
	"AE": "United Arab Emirates",
	"SA": "Saudi Arabia",
	"IL": "Israel",
	"EG": "Egypt",
	"ZA": "South Africa",
	"NG": "Nigeria",
	"KE": "Kenya",
	"NZ": "New Zealand",
}

// CountryName returns the display name for an ISO country code, falling
// back to the code itself.
func CountryName(code string) string {
	if name, ok := countryNames[code]; ok {
		return name
	}
	return code
}
