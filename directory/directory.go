// Package directory defines the boundary to the user store. The
// authentication core consumes users through the Directory interface and
// never assumes anything about the backend's schema; the memory and bbolt
// implementations in the subpackages exist for tests and single-node
// deployments.
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no user matches the given identifier.
var ErrNotFound = errors.New("user not found")

// Credential is one WebAuthn credential bound to a user.
type Credential struct {
	ID         []byte     `json:"id"`
	PublicKey  []byte     `json:"public_key"`
	SignCount  uint32     `json:"sign_count"`
	Transports []string   `json:"transports,omitempty"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// User is the subset of the directory record the authentication core reads
// and writes. Password hashes stay behind the Directory interface; the OTP
// and WebAuthn material lives here because the verifiers own its lifecycle.
type User struct {
	ID            string   `json:"id"`
	UserName      string   `json:"user_name"`
	FormattedName string   `json:"formatted_name,omitempty"`
	Emails        []string `json:"emails,omitempty"`
	PhoneNumbers  []string `json:"phone_numbers,omitempty"`

	// LockDate, when set and in the past, disables the account uniformly.
	LockDate *time.Time `json:"lock_date,omitempty"`

	// HasPassword distinguishes accounts awaiting first-login password
	// initialization from regular accounts.
	HasPassword bool `json:"has_password"`
	// PasswordStamp is an opaque value the backend rotates whenever the
	// password changes. Emailed reset links embed it, so a used link is
	// invalid the moment the reset completes.
	PasswordStamp string `json:"password_stamp,omitempty"`

	// OTPSecret is the shared HOTP/TOTP secret (base32). HOTPCounter is the
	// server-side counter for HOTP.
	OTPSecret    string     `json:"otp_secret,omitempty"`
	HOTPCounter  uint64     `json:"hotp_counter,omitempty"`
	LastOTPLogin *time.Time `json:"last_otp_login,omitempty"`

	// OneTimeCode is the transient email/SMS code together with its emission
	// timestamp; a new emission supersedes the previous code.
	OneTimeCode         string     `json:"one_time_code,omitempty"`
	OneTimeCodeEmission *time.Time `json:"one_time_code_emission,omitempty"`

	// PasswordFailureTimestamps drives the CAPTCHA gate. Cleared on the next
	// successful login.
	PasswordFailureTimestamps []time.Time `json:"password_failure_timestamps,omitempty"`

	WebAuthnCredentials []Credential `json:"webauthn_credentials,omitempty"`
}

// Locked reports whether the account is administratively locked.
func (u *User) Locked() bool {
	return u.LockDate != nil && u.LockDate.Before(time.Now())
}

// PreferredEmail returns the address one-time codes and links are sent to.
func (u *User) PreferredEmail() string {
	if len(u.Emails) == 0 {
		return ""
	}
	return u.Emails[0]
}

// PreferredPhone returns the number SMS codes are sent to.
func (u *User) PreferredPhone() string {
	if len(u.PhoneNumbers) == 0 {
		return ""
	}
	return u.PhoneNumbers[0]
}

// CredentialByID finds a WebAuthn credential by its raw id.
func (u *User) CredentialByID(id []byte) *Credential {
	for i := range u.WebAuthnCredentials {
		if string(u.WebAuthnCredentials[i].ID) == string(id) {
			return &u.WebAuthnCredentials[i]
		}
	}
	return nil
}

// Directory is the narrow interface the authentication core needs from the
// user store. CheckPassword returns an optional human-readable reason that
// is only ever surfaced on the failure path.
type Directory interface {
	// GetUserByLogin resolves a typed identifier (user name or email).
	GetUserByLogin(ctx context.Context, login string) (*User, error)
	// GetUser resolves a stable user id.
	GetUser(ctx context.Context, id string) (*User, error)
	// SaveUser persists the mutable authentication fields of the user.
	SaveUser(ctx context.Context, user *User) error
	// CheckPassword compares the supplied password against the stored
	// secret. The backend may bind or hash-compare; either way the outcome
	// is a plain verdict, never an error for a wrong password.
	CheckPassword(ctx context.Context, user *User, password string) (ok bool, reason string, err error)
	// SetPassword replaces the stored password.
	SetPassword(ctx context.Context, user *User, password string) error
}
