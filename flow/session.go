package flow

import (
	"errors"
	"time"
)

// ErrWrongStep is returned when a factor is finished out of order.
var ErrWrongStep = errors.New("factor is not the current step")

// Session is the transient state of one in-progress login attempt. It lives
// in a sealed client-side cookie between requests; nothing in it is trusted
// until the factors in Remaining have been verified.
type Session struct {
	// UserName is the identifier the user typed. It is resolved against the
	// directory on every step and may name a user that does not exist.
	UserName string `json:"user_name"`
	// Remember requests that the user be added to the login history on
	// completion.
	Remember bool `json:"remember,omitempty"`

	// Remaining holds the factors still to satisfy, in order. Remaining and
	// Achieved always partition the factor list fixed at attempt start.
	Remaining []Factor `json:"remaining"`
	// Achieved holds the factors already satisfied, in completion order.
	Achieved []Factor `json:"achieved,omitempty"`

	CurrentStepStart time.Time `json:"current_step_start"`
	CurrentStepTry   time.Time `json:"current_step_try,omitempty"`

	// Data is per-factor scratch state: a WebAuthn challenge, an OTP secret
	// awaiting its enrolment proof, and the like.
	Data map[string]string `json:"data,omitempty"`

	// WelcomeFlash controls whether a "connection successful" notice is
	// shown when the attempt completes.
	WelcomeFlash bool `json:"welcome_flash"`
}

// NewSession starts an authentication attempt for the given identifier with
// the configured factor order.
func NewSession(userName string, factors []Factor, remember bool) *Session {
	return &Session{
		UserName:         userName,
		Remember:         remember,
		Remaining:        append([]Factor(nil), factors...),
		CurrentStepStart: time.Now().UTC(),
		Data:             make(map[string]string),
		WelcomeFlash:     true,
	}
}

// Current returns the factor the attempt is waiting on. ok is false once
// every factor has been achieved.
func (s *Session) Current() (Factor, bool) {
	if s == nil || len(s.Remaining) == 0 {
		return "", false
	}
	return s.Remaining[0], true
}

// Complete reports whether every configured factor has been achieved. A
// complete session is meaningless: it must be finalized into a user session
// and discarded.
func (s *Session) Complete() bool {
	return s != nil && len(s.Remaining) == 0
}

// Finish marks the given factor achieved and advances to the next step,
// resetting the step timers. It fails if the factor is not the current step;
// callers are expected to have passed Guard first.
func (s *Session) Finish(factor Factor) error {
	current, ok := s.Current()
	if !ok || current != factor {
		return ErrWrongStep
	}
	s.Remaining = s.Remaining[1:]
	s.Achieved = append(s.Achieved, factor)
	s.CurrentStepStart = time.Now().UTC()
	s.CurrentStepTry = time.Time{}
	return nil
}

// MarkTry records a verification attempt against the current step.
func (s *Session) MarkTry() {
	s.CurrentStepTry = time.Now().UTC()
}

// SetData stores per-factor scratch state.
func (s *Session) SetData(key, value string) {
	if s.Data == nil {
		s.Data = make(map[string]string)
	}
	s.Data[key] = value
}

// TakeData returns and removes scratch state, so single-use values such as
// ceremony challenges cannot be replayed within the attempt.
func (s *Session) TakeData(key string) (string, bool) {
	v, ok := s.Data[key]
	if ok {
		delete(s.Data, key)
	}
	return v, ok
}

// Decision is the outcome of guarding a factor endpoint.
type Decision struct {
	Allowed bool
	// RedirectTo names the step the caller should be sent to when the
	// request targets the wrong factor. Empty together with Allowed=false
	// means the attempt is already complete.
	RedirectTo Factor
}

// Guard decides whether a request for the given factor belongs to the
// current step of the attempt. It is a pure function over (session,
// requested); a mismatch yields a redirect to the correct step and never
// mutates the session — skipping steps by direct URL access is therefore
// impossible.
func Guard(s *Session, requested Factor) Decision {
	current, ok := s.Current()
	if !ok {
		return Decision{}
	}
	if current != requested {
		return Decision{RedirectTo: current}
	}
	return Decision{Allowed: true}
}
