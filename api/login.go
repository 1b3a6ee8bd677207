package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/gatehouse/captcha"
	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
	"github.com/jmcleod/gatehouse/session"
)

func newUserSession(user *directory.User, s *flow.Session, now time.Time) session.UserSession {
	return session.UserSession{
		UserID:    user.ID,
		UserName:  user.UserName,
		LastLogin: now,
		Methods:   append([]flow.Factor(nil), s.Achieved...),
	}
}

// StartLogin handles POST /login: the identifier form. It resolves the
// CAPTCHA gate, opens a fresh attempt and points the client at the first
// factor. Whether or not the identifier resolves, the response looks the
// same; an unknown user simply fails the password step later.
func (a *API) StartLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Login == "" {
		writeError(w, http.StatusBadRequest, "login is required")
		return
	}

	user := a.lookupUser(r, req.Login)

	if a.cfg.CaptchaEnabled {
		failures := 0
		if user != nil {
			failures = len(user.PasswordFailureTimestamps)
		}
		if captcha.Required(failures, a.cfg.CaptchaThreshold) {
			if !a.captcha.Verify(req.CaptchaToken, req.CaptchaAnswer) {
				a.audit.event(AuditCaptchaFailed, r, req.Login)
				writeJSON(w, http.StatusForbidden, ErrorResponse{
					Error:           msgBadCaptcha,
					CaptchaRequired: true,
				})
				return
			}
		}
	}

	a.beginAttempt(w, r, req.Login, req.Remember, user)
}

// LoginAs handles GET /login/{username}: either switches to an account that
// is already signed in on this browser, or starts a fresh attempt with the
// identifier pre-filled from the login history.
func (a *API) LoginAs(w http.ResponseWriter, r *http.Request) {
	userName := chi.URLParam(r, "username")

	stack := a.readStack(r)
	stack.Prune(r.Context(), a.dir)
	for _, us := range stack.Sessions {
		if us.UserName == userName {
			stack.SwitchTo(us.UserID)
			a.writeStack(w, stack, true)
			a.audit.event(AuditSessionSwitch, r, userName)
			writeJSON(w, http.StatusOK, FlowResponse{Redirect: "/", Complete: true})
			return
		}
	}

	a.beginAttempt(w, r, userName, true, a.lookupUser(r, userName))
}

func (a *API) lookupUser(r *http.Request, login string) *directory.User {
	user, err := a.dir.GetUserByLogin(r.Context(), login)
	if err != nil {
		return nil
	}
	return user
}

func (a *API) beginAttempt(w http.ResponseWriter, r *http.Request, login string, remember bool, user *directory.User) {
	// An account awaiting its first password goes to the initialization flow
	// instead of the password form; that flow e-mails a set-password link.
	if user != nil && !user.HasPassword && a.mailer != nil {
		writeJSON(w, http.StatusOK, FlowResponse{Redirect: "/firstlogin/" + user.UserName})
		return
	}

	s := flow.NewSession(login, a.cfg.Factors, remember)
	a.writeAuthSession(w, s)
	a.audit.event(AuditLoginStarted, r, login)

	first, _ := s.Current()
	writeJSON(w, http.StatusOK, FlowResponse{Redirect: factorPath(first)})
}

// Logout handles GET /logout: sign out every account at once.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	stack := a.readStack(r)
	stack.Clear()
	a.writeStack(w, stack, false)
	a.clearAuthSession(w)
	a.audit.event(AuditLogout, r, "")
	writeJSON(w, http.StatusOK, FlowResponse{Redirect: "/login", Message: msgSignedOut})
}

// LogoutUser handles GET /logout/{username}: sign out one account, leaving
// the rest of the stack signed in. The next remaining account becomes
// current.
func (a *API) LogoutUser(w http.ResponseWriter, r *http.Request) {
	userName := chi.URLParam(r, "username")

	stack := a.readStack(r)
	for _, us := range stack.Sessions {
		if us.UserName == userName {
			stack.Remove(us.UserID)
			break
		}
	}
	a.writeStack(w, stack, true)
	a.audit.event(AuditLogout, r, userName)

	redirect := "/login"
	if stack.Current() != nil {
		redirect = "/"
	}
	writeJSON(w, http.StatusOK, FlowResponse{Redirect: redirect, Message: msgSignedOut})
}

// Sessions handles GET /sessions: the pruned stack plus the login history,
// both filtered against the directory so deleted or locked accounts vanish
// lazily instead of needing server-side cleanup.
func (a *API) Sessions(w http.ResponseWriter, r *http.Request) {
	stack := a.readStack(r)
	stack.Prune(r.Context(), a.dir)

	resp := SessionsResponse{Sessions: make([]SessionInfo, 0, len(stack.Sessions))}
	for i, us := range stack.Sessions {
		methods := make([]string, len(us.Methods))
		for j, m := range us.Methods {
			methods[j] = string(m)
		}
		resp.Sessions = append(resp.Sessions, SessionInfo{
			UserName:  us.UserName,
			LastLogin: us.LastLogin,
			Methods:   methods,
			Current:   i == len(stack.Sessions)-1,
		})
	}

	history := a.readHistory(r)
	for _, name := range history.UserNames {
		if user := a.lookupUser(r, name); user != nil && !user.Locked() {
			resp.History = append(resp.History, name)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Forget handles GET /forget/{username}: drop an account from the login
// history shown on the identifier form.
func (a *API) Forget(w http.ResponseWriter, r *http.Request) {
	userName := chi.URLParam(r, "username")
	history := a.readHistory(r)
	history.Forget(userName)
	a.writeHistory(w, history)
	writeJSON(w, http.StatusOK, FlowResponse{Redirect: "/login"})
}
