// Package flow implements the multi-factor authentication state machine:
// the transient per-attempt session, the factor ordering, and the guard that
// keeps requests on the current step.
package flow

import "fmt"

// Factor identifies one authentication factor. The set is closed; handlers
// are wired to factors through a table in the api package so that a factor
// without a handler is a compile-time visible gap, not a runtime surprise.
type Factor string

const (
	FactorPassword Factor = "password"
	FactorOTP      Factor = "otp"
	FactorEmail    Factor = "email"
	FactorSMS      Factor = "sms"
	FactorFIDO2    Factor = "fido2"
)

// AllFactors lists every factor the system knows about, in no particular
// order. Configuration selects and orders a subset of these.
var AllFactors = []Factor{FactorPassword, FactorOTP, FactorEmail, FactorSMS, FactorFIDO2}

// ParseFactor validates a factor name coming from configuration or a URL.
func ParseFactor(s string) (Factor, error) {
	f := Factor(s)
	for _, known := range AllFactors {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown authentication factor %q", s)
}

// ParseFactors validates an ordered factor list, rejecting duplicates.
func ParseFactors(names []string) ([]Factor, error) {
	seen := make(map[Factor]bool, len(names))
	factors := make([]Factor, 0, len(names))
	for _, name := range names {
		f, err := ParseFactor(name)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			return nil, fmt.Errorf("duplicate authentication factor %q", name)
		}
		seen[f] = true
		factors = append(factors, f)
	}
	if len(factors) == 0 {
		return nil, fmt.Errorf("at least one authentication factor is required")
	}
	return factors, nil
}
