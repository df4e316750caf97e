package acmerunner

import (
	"regexp"
	"strings"
	"time"
)

// Outcome is the textual classification of one ACME client run, derived
// from substring markers in its captured stdout/stderr (spec §4.1). The
// Runner itself does not classify; Classify is exposed here because the
// marker strings are the Runner's domain knowledge, but callers (the
// coordinator) decide what each Outcome means for the state machine.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeEABRequired  Outcome = "eab_required"
	OutcomeReusedSkip   Outcome = "reused_skip"
	OutcomeNotManaged   Outcome = "not_managed"
	OutcomeUnknown      Outcome = "unknown"
)

var retryAfterRE = regexp.MustCompile(`retry after (\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) UTC`)

var likelySuccessMarkers = []string{
	"is already verified, skipping http-01.",
	"Verification finished, beginning signing.",
	"Downloading cert.",
	"Cert success.",
	"Installing cert to:",
	"Your cert is in:",
	"full-chain cert is in:",
}

// Classify inspects combined stdout/stderr and returns the outcome plus,
// for rate_limited, the parsed retry time if a marker carried one.
func Classify(output string, renewPath bool) (outcome Outcome, retryAfter time.Time) {
	if strings.Contains(output, "acme:error:rateLimited") || strings.Contains(output, "too many certificates") {
		if m := retryAfterRE.FindStringSubmatch(output); m != nil {
			if t, err := time.Parse("2006-01-02 15:04:05", m[1]); err == nil {
				retryAfter = t.UTC()
			}
		}
		return OutcomeRateLimited, retryAfter
	}
	if strings.Contains(output, "externalAccountRequired") {
		return OutcomeEABRequired, time.Time{}
	}
	if renewPath && strings.Contains(output, "is not an issued domain") {
		return OutcomeNotManaged, time.Time{}
	}
	if strings.Contains(output, "Skipping. Next renewal time is:") || strings.Contains(output, "Domains not changed.") {
		return OutcomeReusedSkip, time.Time{}
	}
	for _, marker := range likelySuccessMarkers {
		if strings.Contains(output, marker) {
			return OutcomeSuccess, time.Time{}
		}
	}
	return OutcomeUnknown, time.Time{}
}
