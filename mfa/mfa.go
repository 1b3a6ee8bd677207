// Package mfa implements the one-time-password verifiers: authenticator-app
// HOTP/TOTP with drift tolerance, and the short numeric codes delivered by
// email or SMS together with their resend throttle.
package mfa

import (
	"encoding/base32"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"

	"github.com/jmcleod/gatehouse/internal/util"
)

// Method selects the authenticator-app algorithm.
type Method string

const (
	MethodTOTP Method = "TOTP"
	MethodHOTP Method = "HOTP"
)

const (
	// Digits is the authenticator-app code length (RFC 6238 default).
	Digits = 6
	// Period is the TOTP time step in seconds.
	Period = 30
	// DefaultLookAhead is the HOTP look-ahead window: how far the server
	// chases a token whose counter has drifted ahead.
	DefaultLookAhead = 10
	// DefaultCodeDigits is the email/SMS one-time-code length.
	DefaultCodeDigits = 6
	// DefaultResetCodeDigits is the password-reset code length.
	DefaultResetCodeDigits = 8
	// DefaultResendDelay is the minimum interval between code emissions.
	DefaultResendDelay = 60 * time.Second

	secretBytes = 20
)

// ParseMethod validates a configured OTP method name.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToUpper(s)) {
	case MethodTOTP:
		return MethodTOTP, nil
	case MethodHOTP:
		return MethodHOTP, nil
	}
	return "", fmt.Errorf("unknown OTP method %q", s)
}

// GenerateSecret returns a fresh base32 shared secret.
func GenerateSecret() (string, error) {
	raw, err := util.RandomBytes(secretBytes)
	if err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

func normalizeCode(code string) string {
	return strings.TrimSpace(strings.ReplaceAll(code, " ", ""))
}

// VerifyTOTP checks a time-based code against the secret at the given
// instant. A single time-step window, no state mutation.
func VerifyTOTP(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(normalizeCode(code), secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// VerifyHOTP checks a counter-based code, tolerating a token whose counter
// has drifted up to window steps ahead of the stored one. On a match the
// returned counter is matched+1. On a total miss the counter still advances
// by one: an attacker probing codes pays one counter step per guess, which
// bounds online brute force. Callers must persist the returned counter
// before reporting the outcome.
func VerifyHOTP(secret, code string, counter uint64, window int) (bool, uint64) {
	code = normalizeCode(code)
	for c := counter; c <= counter+uint64(window); c++ {
		ok, err := hotp.ValidateCustom(code, c, secret, hotp.ValidateOpts{
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err == nil && ok {
			return true, c + 1
		}
	}
	return false, counter + 1
}

// GenerateHOTPCode produces the code for a specific counter. Used by
// enrolment flows and tests; verification goes through VerifyHOTP.
func GenerateHOTPCode(secret string, counter uint64) (string, error) {
	return hotp.GenerateCodeCustom(secret, counter, hotp.ValidateOpts{
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateTOTPCode produces the code valid at the given instant.
func GenerateTOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      0,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// SetupURI builds the otpauth:// enrolment URI for authenticator apps.
func SetupURI(method Method, secret, account, issuer string, counter uint64) string {
	kind := "totp"
	values := url.Values{}
	values.Set("secret", secret)
	values.Set("issuer", issuer)
	values.Set("algorithm", "SHA1")
	values.Set("digits", strconv.Itoa(Digits))
	if method == MethodHOTP {
		kind = "hotp"
		values.Set("counter", strconv.FormatUint(counter, 10))
	} else {
		values.Set("period", strconv.Itoa(Period))
	}
	label := url.PathEscape(issuer + ":" + account)
	return "otpauth://" + kind + "/" + label + "?" + values.Encode()
}

// GenerateCode returns a random numeric code of the given length for
// email/SMS delivery.
func GenerateCode(digits int) (string, error) {
	var sb strings.Builder
	for i := 0; i < digits; i++ {
		n, err := util.RandomIntn(10)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n))
	}
	return sb.String(), nil
}

// VerifyCode compares a delivered code exactly (whitespace trimmed, no case
// folding — codes are numeric).
func VerifyCode(stored, supplied string) bool {
	return stored != "" && stored == strings.TrimSpace(supplied)
}

// CanResend reports whether a new code may be emitted, and if not, how long
// until the next emission is allowed. Rejected attempts do not reset the
// delay window.
func CanResend(lastEmission *time.Time, now time.Time, delay time.Duration) (bool, time.Duration) {
	if lastEmission == nil {
		return true, 0
	}
	next := lastEmission.Add(delay)
	if now.Before(next) {
		return false, next.Sub(now)
	}
	return true, 0
}
