// Package links issues and validates the signed single-purpose tokens that
// back emailed action links: account invitations, first-login onboarding and
// password resets. Tokens are HS256 JWTs carrying a purpose claim so a token
// minted for one action can never authorize another. The signing key lives in
// a memguard enclave and is only opened for the duration of a sign or verify.
package links

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/gatehouse/internal/util"
)

// Purpose scopes a token to one action.
type Purpose string

const (
	PurposeInvite     Purpose = "invite"
	PurposeFirstLogin Purpose = "first-login"
	PurposeReset      Purpose = "reset"
)

// DefaultInviteTTL is how long invitation and onboarding links stay valid.
const DefaultInviteTTL = 48 * time.Hour

// DefaultResetTTL bounds password-reset links more tightly.
const DefaultResetTTL = 2 * time.Hour

var (
	ErrExpired = errors.New("link has expired")
	ErrInvalid = errors.New("link is not valid")
)

type claims struct {
	Purpose Purpose `json:"pur"`
	// State snapshots the account state the link acts on (the password
	// stamp). Verification requires the current value, so the link dies as
	// soon as the action it authorized is performed.
	State string `json:"st,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies purpose-scoped link tokens.
type Codec struct {
	key *memguard.Enclave
	now func() time.Time
}

// NewCodec wraps the signing key. The caller's copy of key can be wiped after
// this returns; the enclave keeps its own protected copy.
func NewCodec(key []byte) *Codec {
	return &Codec{key: memguard.NewEnclave(key), now: time.Now}
}

// Sign mints a token binding subject (a user id) and its current state to the
// given purpose for ttl.
func (c *Codec) Sign(purpose Purpose, subject, state string, ttl time.Duration) (string, error) {
	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Purpose: purpose,
		State:   state,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(buf.Bytes())
}

// Verify checks the signature, expiry, purpose and state, returning the
// subject. A token signed for a different purpose, or against state that has
// since changed, is rejected outright.
func (c *Codec) Verify(purpose Purpose, token, state string) (string, error) {
	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening signing key: %w", err)
	}
	defer buf.Destroy()

	var parsed claims
	_, err = jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return buf.Bytes(), nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpired
		}
		return "", ErrInvalid
	}
	if parsed.Purpose != purpose || parsed.Subject == "" || parsed.State != state {
		return "", ErrInvalid
	}
	return parsed.Subject, nil
}

// RandomToken returns an unsigned, URL-safe random token for flows that store
// the expected value server-side instead of relying on a signature.
func RandomToken() (string, error) {
	raw, err := util.RandomBytes(24)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
