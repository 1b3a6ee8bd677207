// Package session models the signed-in state carried by the browser: the
// stack of concurrently signed-in accounts, and the long-lived login history
// used to pre-fill the identifier form. Both are plain values serialized into
// cookies by the HTTP layer; nothing here touches storage except Prune, which
// consults the directory to drop sessions whose account has disappeared or
// been locked since sign-in.
package session

import (
	"context"
	"time"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
)

// HistoryLimit caps the remembered-accounts list, most recent first.
const HistoryLimit = 6

// UserSession records one signed-in account.
type UserSession struct {
	UserID    string        `json:"uid"`
	UserName  string        `json:"sub"`
	LastLogin time.Time     `json:"llg"`
	Methods   []flow.Factor `json:"mth"`
}

// Stack holds every signed-in account, last entry current. Methods never
// mutate the receiver's backing array in place in a way visible to callers;
// the HTTP layer round-trips the value through a sealed cookie anyway.
type Stack struct {
	Sessions []UserSession `json:"s"`
}

// Current returns the active session, nil when signed out.
func (s *Stack) Current() *UserSession {
	if len(s.Sessions) == 0 {
		return nil
	}
	return &s.Sessions[len(s.Sessions)-1]
}

// Add pushes a fresh sign-in to the top. If the account is already in the
// stack its old entry is dropped first, so each account appears once.
func (s *Stack) Add(us UserSession) {
	s.remove(us.UserID)
	s.Sessions = append(s.Sessions, us)
}

// Remove signs out one account. The next remaining entry becomes current.
func (s *Stack) Remove(userID string) {
	s.remove(userID)
}

func (s *Stack) remove(userID string) {
	kept := s.Sessions[:0]
	for _, us := range s.Sessions {
		if us.UserID != userID {
			kept = append(kept, us)
		}
	}
	s.Sessions = kept
}

// SwitchTo makes an already-signed-in account current without any new
// authentication. Reports false when the account is not in the stack.
func (s *Stack) SwitchTo(userID string) bool {
	for i, us := range s.Sessions {
		if us.UserID == userID {
			found := us
			s.Sessions = append(s.Sessions[:i], s.Sessions[i+1:]...)
			s.Sessions = append(s.Sessions, found)
			return true
		}
	}
	return false
}

// Clear signs out every account.
func (s *Stack) Clear() {
	s.Sessions = nil
}

// Prune drops sessions whose account no longer exists or has been locked
// since sign-in. Directory errors other than not-found keep the entry; a
// flaky backend must not sign everyone out.
func (s *Stack) Prune(ctx context.Context, dir directory.Directory) {
	kept := s.Sessions[:0]
	for _, us := range s.Sessions {
		user, err := dir.GetUser(ctx, us.UserID)
		if err != nil {
			if err == directory.ErrNotFound {
				continue
			}
			kept = append(kept, us)
			continue
		}
		if user.Locked() {
			continue
		}
		kept = append(kept, us)
	}
	s.Sessions = kept
}

// History is the remembered-accounts list shown on the identifier form,
// most recent first. It outlives sign-out on purpose.
type History struct {
	UserNames []string `json:"u"`
}

// Touch moves (or inserts) a user name at the front, evicting past the cap.
func (h *History) Touch(userName string) {
	names := make([]string, 0, len(h.UserNames)+1)
	names = append(names, userName)
	for _, n := range h.UserNames {
		if n != userName {
			names = append(names, n)
		}
	}
	if len(names) > HistoryLimit {
		names = names[:HistoryLimit]
	}
	h.UserNames = names
}

// Forget removes one user name from the list.
func (h *History) Forget(userName string) {
	kept := h.UserNames[:0]
	for _, n := range h.UserNames {
		if n != userName {
			kept = append(kept, n)
		}
	}
	h.UserNames = kept
}
