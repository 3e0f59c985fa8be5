package policy

import (
	"regexp"
	"strings"
)

// Kind names one class of personal data masked from stored transcripts.
type Kind string

const (
	KindEmail Kind = "email"
	KindRRN   Kind = "rrn"
	KindCard  Kind = "card"
	KindPhone Kind = "phone"
)

type rule struct {
	kind    Kind
	pattern *regexp.Regexp
	mask    string
	// accept filters candidate matches; nil accepts all.
	accept func(match string) bool
}

// Rules run in order; specific formats come before the generic phone rule
// so that digits are claimed by the most precise kind.
var rules = []rule{
	{
		kind:    KindEmail,
		pattern: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		mask:    "[REDACTED_EMAIL]",
	},
	{
		// Korean resident registration number: YYMMDD-GNNNNNN.
		kind:    KindRRN,
		pattern: regexp.MustCompile(`\b\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])-?[1-8]\d{6}\b`),
		mask:    "[REDACTED_RRN]",
	},
	{
		kind:    KindCard,
		pattern: regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
		mask:    "[REDACTED_CARD]",
		accept:  luhnValid,
	},
	{
		kind:    KindPhone,
		pattern: regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`),
		mask:    "[REDACTED_PHONE]",
	},
}

// Redact masks personal data in text and reports which kinds were found.
func Redact(text string) (string, []Kind) {
	var found []Kind
	out := text
	for _, r := range rules {
		hit := false
		out = r.pattern.ReplaceAllStringFunc(out, func(m string) string {
			if r.accept != nil && !r.accept(m) {
				return m
			}
			hit = true
			return r.mask
		})
		if hit {
			found = append(found, r.kind)
		}
	}
	return out, found
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out, kinds := Redact(input)
	return out, len(kinds) > 0
}

func luhnValid(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
