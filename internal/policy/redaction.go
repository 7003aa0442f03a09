package policy

import "regexp"

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	cardPattern    = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	aadhaarPattern = regexp.MustCompile(`\b[2-9]\d{3}[ -]?\d{4}[ -]?\d{4}\b`)
	panPattern     = regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
	phonePattern   = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: longer digit runs are claimed before the phone pattern can
// swallow them.
var rules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{cardPattern, "[REDACTED_CARD]"},
	{aadhaarPattern, "[REDACTED_AADHAAR]"},
	{panPattern, "[REDACTED_PAN]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks email addresses, card, Aadhaar, PAN and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
