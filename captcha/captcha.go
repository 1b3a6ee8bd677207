// Package captcha issues and verifies the human-verification challenges
// that gate the login form once an account accumulates password failures.
// Challenges are short digit strings rendered as a PNG image and a WAV audio
// clip; the expected answer lives server-side keyed by a random token and is
// consumed on the first verification attempt whatever the outcome.
package captcha

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	dchest "github.com/dchest/captcha"

	"github.com/jmcleod/gatehouse/internal/util"
)

const (
	// DefaultLength is the challenge answer length.
	DefaultLength = 6
	// ImageWidth and ImageHeight size the rendered challenge.
	ImageWidth  = 240
	ImageHeight = 80

	tokenBytes = 16
	audioLang  = "en"
)

// Challenge is a freshly issued CAPTCHA.
type Challenge struct {
	Token string
	// ImageDataURI is the PNG rendering, inlined for direct embedding.
	ImageDataURI string

	answer string
}

// Answer exposes the expected answer for tests and audio rendering.
func (c Challenge) Answer() string { return c.answer }

// Service issues challenges against a Store.
type Service struct {
	store  Store
	length int
}

// NewService creates a challenge issuer. length <= 0 selects DefaultLength.
func NewService(store Store, length int) *Service {
	if length <= 0 {
		length = DefaultLength
	}
	return &Service{store: store, length: length}
}

// New generates a challenge, stores its upper-cased answer keyed by a random
// URL-safe token, and returns the token plus the inline image.
func (s *Service) New() (Challenge, error) {
	raw, err := util.RandomBytes(tokenBytes)
	if err != nil {
		return Challenge{}, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	digits := dchest.RandomDigits(s.length)
	answer := digitsToString(digits)

	if err := s.store.Set(token, strings.ToUpper(answer)); err != nil {
		return Challenge{}, fmt.Errorf("storing captcha answer: %w", err)
	}

	var buf bytes.Buffer
	if _, err := dchest.NewImage(token, digits, ImageWidth, ImageHeight).WriteTo(&buf); err != nil {
		return Challenge{}, fmt.Errorf("rendering captcha image: %w", err)
	}
	return Challenge{
		Token:        token,
		ImageDataURI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		answer:       answer,
	}, nil
}

// Audio renders the WAV clip for an active challenge. The answer is read
// without being consumed; only verification burns the token.
func (s *Service) Audio(token string) ([]byte, bool) {
	answer, ok := s.store.Get(token, false)
	if !ok {
		return nil, false
	}
	var buf bytes.Buffer
	if _, err := dchest.NewAudio(token, stringToDigits(answer), audioLang).WriteTo(&buf); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// Verify consumes the token and compares the response: surrounding
// whitespace is stripped and the comparison is case-insensitive. The token
// is gone after the first call regardless of the outcome.
func (s *Service) Verify(token, response string) bool {
	if token == "" || response == "" {
		// Still consume a known token so an empty guess can't keep it alive.
		s.store.Get(token, true)
		return false
	}
	expected, ok := s.store.Get(token, true)
	if !ok {
		return false
	}
	return strings.ToUpper(strings.TrimSpace(response)) == expected
}

// Required implements the sticky gating policy: once the failure count
// reaches the threshold the CAPTCHA stays required until a successful login
// clears the counter, however much time passes. A zero threshold means the
// CAPTCHA is always required.
func Required(failures, threshold int) bool {
	if threshold == 0 {
		return true
	}
	return failures >= threshold
}

func digitsToString(digits []byte) string {
	var sb strings.Builder
	for _, d := range digits {
		sb.WriteByte('0' + d)
	}
	return sb.String()
}

func stringToDigits(s string) []byte {
	digits := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, byte(r-'0'))
		}
	}
	return digits
}
