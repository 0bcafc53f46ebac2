package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\b\+?\d[\d\s\-]{7,}\d\b`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	mrnRe   = regexp.MustCompile(`(?i)\bmrn[:#\s]*\d{5,}\b`)
)

// SetEnabled toggles PHI redaction for log output.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Text redacts emails, phone numbers, SSNs and medical record numbers
// when enabled. Consultation transcripts pass through here before any
// log statement sees them.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	out = phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
	out = ssnRe.ReplaceAllString(out, "[REDACTED_SSN]")
	out = mrnRe.ReplaceAllString(out, "[REDACTED_MRN]")
	return out
}
