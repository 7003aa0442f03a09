package language

import "strings"

// Code is a portal language code (ISO 639 style, lowercase).
type Code string

const (
	English       Code = "en"
	Hindi         Code = "hi"
	Bengali       Code = "bn"
	Telugu        Code = "te"
	Marathi       Code = "mr"
	Tamil         Code = "ta"
	Gujarati      Code = "gu"
	Urdu          Code = "ur"
	Kannada       Code = "kn"
	Odia          Code = "or"
	Malayalam     Code = "ml"
	Punjabi       Code = "pa"
	Assamese      Code = "as"
	Maithili      Code = "mai"
	Santali       Code = "sat"
	Kashmiri      Code = "ks"
	Nepali        Code = "ne"
	Sindhi        Code = "sd"
	Konkani       Code = "kok"
	Dogri         Code = "doi"
	Manipuri      Code = "mni"
	Bodo          Code = "brx"
	Bhojpuri      Code = "bho"
	Marwari       Code = "mwr"
	Chhattisgarhi Code = "hne"
	Haryanvi      Code = "bgc"
)

var labels = map[Code]string{
	English:       "English",
	Hindi:         "हिन्दी (Hindi)",
	Bengali:       "বাংলা (Bengali)",
	Telugu:        "తెలుగు (Telugu)",
	Marathi:       "मराठी (Marathi)",
	Tamil:         "தமிழ் (Tamil)",
	Gujarati:      "ગુજરાતી (Gujarati)",
	Urdu:          "اردو (Urdu)",
	Kannada:       "ಕನ್ನಡ (Kannada)",
	Odia:          "ଓଡ଼ିଆ (Odia)",
	Malayalam:     "മലയാളം (Malayalam)",
	Punjabi:       "ਪੰਜਾਬੀ (Punjabi)",
	Assamese:      "অসমীয়া (Assamese)",
	Maithili:      "मैथिली (Maithili)",
	Santali:       "Santali",
	Kashmiri:      "कॉशुर (Kashmiri)",
	Nepali:        "नेपाली (Nepali)",
	Sindhi:        "سنڌي (Sindhi)",
	Konkani:       "कोंकणी (Konkani)",
	Dogri:         "डोगरी (Dogri)",
	Manipuri:      "ꯃꯩꯇꯩꯂꯣꯟ (Manipuri)",
	Bodo:          "बड़ो (Bodo)",
	Bhojpuri:      "भोजपुरी (Bhojpuri)",
	Marwari:       "मारवाड़ी (Marwari)",
	Chhattisgarhi: "छत्तीसगढ़ी (Chhattisgarhi)",
	Haryanvi:      "हरियाणवी (Haryanvi)",
}

// Parse normalizes raw into a known Code. Unknown or empty input yields ok=false.
func Parse(raw string) (Code, bool) {
	c := Code(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := labels[c]; !ok {
		return "", false
	}
	return c, true
}

// ParseOrDefault is Parse with a fallback for unknown input.
func ParseOrDefault(raw string, fallback Code) Code {
	if c, ok := Parse(raw); ok {
		return c
	}
	return fallback
}

// Label returns the display label, e.g. "हिन्दी (Hindi)". Unknown codes fall back to English.
func (c Code) Label() string {
	if l, ok := labels[c]; ok {
		return l
	}
	return labels[English]
}

// All returns every supported code.
func All() []Code {
	out := make([]Code, 0, len(labels))
	for c := range labels {
		out = append(out, c)
	}
	return out
}
