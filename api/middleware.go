package api

import (
	"net/http"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
)

// securityHeaders sets standard security response headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cache-Control", "no-store")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func factorPath(f flow.Factor) string {
	return "/auth/" + string(f)
}

// guardFactor loads the attempt state and decides whether the request may
// target the given factor. On any mismatch it writes the redirect itself and
// returns nil: a missing attempt goes back to /login with a generic notice,
// an out-of-step request is pointed at the correct step without any state
// change, and a complete attempt is sent home.
func (a *API) guardFactor(w http.ResponseWriter, r *http.Request, factor flow.Factor) *flow.Session {
	if !a.factorEnabled(factor) {
		http.NotFound(w, r)
		return nil
	}
	s := a.readAuthSession(r)
	if s == nil {
		writeJSON(w, http.StatusUnauthorized, FlowResponse{
			Redirect: "/login",
			Message:  msgLostAttempt,
		})
		return nil
	}
	decision := flow.Guard(s, factor)
	if !decision.Allowed {
		if decision.RedirectTo == "" {
			writeJSON(w, http.StatusConflict, FlowResponse{Redirect: "/"})
			return nil
		}
		writeJSON(w, http.StatusConflict, FlowResponse{
			Redirect: factorPath(decision.RedirectTo),
		})
		return nil
	}
	return s
}

// attemptUser resolves the identifier on the attempt against the directory.
// The identifier is attacker-supplied, so every step re-resolves it rather
// than trusting anything cached in the cookie.
func (a *API) attemptUser(r *http.Request, s *flow.Session) *directory.User {
	user, err := a.dir.GetUserByLogin(r.Context(), s.UserName)
	if err != nil {
		return nil
	}
	return user
}

// advance marks the factor achieved and either points the client at the next
// step or finalizes the attempt into a user session.
func (a *API) advance(w http.ResponseWriter, r *http.Request, s *flow.Session, user *directory.User, factor flow.Factor) {
	if err := s.Finish(factor); err != nil {
		writeJSON(w, http.StatusConflict, FlowResponse{Redirect: "/login"})
		return
	}
	if !s.Complete() {
		a.writeAuthSession(w, s)
		next, _ := s.Current()
		writeJSON(w, http.StatusOK, FlowResponse{Redirect: factorPath(next)})
		return
	}
	a.finalize(w, r, s, user)
}

// finalize turns a completed attempt into a user session: push onto the
// stack, record the login history, clear the password-failure list that
// drives the CAPTCHA gate, and discard the attempt cookie.
func (a *API) finalize(w http.ResponseWriter, r *http.Request, s *flow.Session, user *directory.User) {
	if len(user.PasswordFailureTimestamps) > 0 {
		user.PasswordFailureTimestamps = nil
		if err := a.dir.SaveUser(r.Context(), user); err != nil {
			mapError(w, err)
			return
		}
	}

	stack := a.readStack(r)
	stack.Add(newUserSession(user, s, a.now()))
	a.writeStack(w, stack, s.Remember)

	if s.Remember {
		history := a.readHistory(r)
		history.Touch(user.UserName)
		a.writeHistory(w, history)
	}

	a.clearAuthSession(w)
	a.audit.event(AuditLoginComplete, r, user.UserName)

	resp := FlowResponse{Redirect: "/", Complete: true}
	if s.WelcomeFlash {
		resp.Welcome = true
		resp.Message = msgWelcome
	}
	writeJSON(w, http.StatusOK, resp)
}
