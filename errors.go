package masswhois

import "fmt"

// LookupTimeoutError is returned when a DNS lookup exceeds its deadline.
type LookupTimeoutError struct {
	Name string
}

func (e LookupTimeoutError) Error() string {
	return fmt.Sprintf("dns lookup for %q timed out", e.Name)
}

// ReferralCapError is recorded (not returned to the caller) when a slot's
// referral chain exceeds the configured hop cap. It is exposed on the
// slot's Result so handlers and tests can detect the condition.
type ReferralCapError struct {
	Query string
	Hops  int
}

func (e ReferralCapError) Error() string {
	return fmt.Sprintf("referral cap of %d hops exceeded for %q", e.Hops, e.Query)
}

// ConfigError wraps a fatal configuration problem: a malformed data-file
// line, an invalid regular expression, or a bad CLI argument.
type ConfigError struct {
	Source string // file or flag the error originates from
	Detail string
}

func (e ConfigError) Error() string {
	if e.Source == "" {
		return e.Detail
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Detail)
}
