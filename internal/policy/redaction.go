package policy

import "regexp"

type rule struct {
	kind    string
	pattern *regexp.Regexp
	marker  string
}

// Rules run in order: secrets and cards first so that their digits are not
// classified as phone numbers.
var rules = []rule{
	{"secret", regexp.MustCompile(`\b(?:sk|rk|pk)-[A-Za-z0-9_\-]{16,}\b`), "[REDACTED_SECRET]"},
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redaction is the result of masking a transcript.
type Redaction struct {
	Text string
	// Kinds lists which rules matched, in rule order.
	Kinds []string
}

// Redact masks secrets, emails, card numbers and phone numbers.
func Redact(input string) Redaction {
	out := Redaction{Text: input}
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out.Text, r.marker)
		if next != out.Text {
			out.Kinds = append(out.Kinds, r.kind)
			out.Text = next
		}
	}
	return out
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	r := Redact(input)
	return r.Text, len(r.Kinds) > 0
}
