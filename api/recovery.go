package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
	"github.com/jmcleod/gatehouse/links"
	"github.com/jmcleod/gatehouse/messaging"
	"github.com/jmcleod/gatehouse/mfa"
	"github.com/jmcleod/gatehouse/session"
)

// FirstLogin handles POST /firstlogin/{username}: e-mail a set-password link
// to an account that has no password yet. Unless RevealUnknownLogins is set,
// the response is the same whether or not the account exists or already has a
// password.
func (a *API) FirstLogin(w http.ResponseWriter, r *http.Request) {
	if a.mailer == nil {
		http.NotFound(w, r)
		return
	}
	if blocked, retryAfter := a.deliveryLimiter.check(a.clientIP(r)); blocked {
		writeRateLimited(w, retryAfter)
		return
	}
	a.deliveryLimiter.recordFailure(a.clientIP(r))

	userName := chi.URLParam(r, "username")
	user := a.lookupUser(r, userName)
	if user == nil && a.cfg.RevealUnknownLogins {
		writeError(w, http.StatusNotFound, fmt.Sprintf("The login %q does not exist.", userName))
		return
	}
	if user != nil && !user.HasPassword && user.PreferredEmail() != "" {
		token, err := a.links.Sign(links.PurposeFirstLogin, user.ID, user.PasswordStamp, a.cfg.InviteTTL)
		if err != nil {
			mapError(w, err)
			return
		}
		link := a.cfg.BaseURL + "/reset/" + user.UserName + "/" + token
		subject, body := messaging.LinkMailBody(a.cfg.Issuer, "set your password", link)
		if err := a.mailer.SendMail(r.Context(), user.PreferredEmail(), subject, body); err != nil {
			mapError(w, err)
			return
		}
		a.audit.event(AuditFirstLoginSent, r, user.UserName)
	}

	writeJSON(w, http.StatusOK, FlowResponse{Message: msgFirstLoginSent})
}

// ForgottenPassword handles POST /reset: start password recovery. With an
// email on file the user gets a signed link; with only a phone number a
// short-lived code is persisted on the record and sent by SMS. Unless
// RevealUnknownLogins is set, the response reveals nothing about the account.
func (a *API) ForgottenPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Login == "" {
		writeError(w, http.StatusBadRequest, "login is required")
		return
	}
	if blocked, retryAfter := a.deliveryLimiter.check(a.clientIP(r)); blocked {
		writeRateLimited(w, retryAfter)
		return
	}
	a.deliveryLimiter.recordFailure(a.clientIP(r))

	user := a.lookupUser(r, req.Login)
	if user == nil && a.cfg.RevealUnknownLogins {
		writeError(w, http.StatusNotFound, fmt.Sprintf("The login %q does not exist.", req.Login))
		return
	}
	if user == nil || user.Locked() {
		writeJSON(w, http.StatusOK, FlowResponse{Message: msgResetSent})
		return
	}

	switch {
	case a.mailer != nil && user.PreferredEmail() != "":
		token, err := a.links.Sign(links.PurposeReset, user.ID, user.PasswordStamp, a.cfg.ResetTTL)
		if err != nil {
			mapError(w, err)
			return
		}
		link := a.cfg.BaseURL + "/reset/" + user.UserName + "/" + token
		subject, body := messaging.LinkMailBody(a.cfg.Issuer, "reset your password", link)
		if err := a.mailer.SendMail(r.Context(), user.PreferredEmail(), subject, body); err != nil {
			mapError(w, err)
			return
		}
		a.audit.event(AuditResetRequested, r, user.UserName)

	case a.smser != nil && user.PreferredPhone() != "":
		code, err := mfa.GenerateCode(a.cfg.ResetCodeDigits)
		if err != nil {
			mapError(w, err)
			return
		}
		now := a.now()
		user.OneTimeCode = code
		user.OneTimeCodeEmission = &now
		if err := a.dir.SaveUser(r.Context(), user); err != nil {
			mapError(w, err)
			return
		}
		if err := a.smser.SendSMS(r.Context(), user.PreferredPhone(), messaging.CodeSMSBody(a.cfg.Issuer, code)); err != nil {
			mapError(w, err)
			return
		}
		a.audit.event(AuditResetRequested, r, user.UserName)
	}

	writeJSON(w, http.StatusOK, FlowResponse{Message: msgResetSent})
}

// ResetPassword handles POST /reset/{username}/{token}: complete a reset or
// first-login flow. The token is either a signed link token or the SMS reset
// code persisted on the record. A successful reset invalidates the token,
// sets the password and signs the user in directly.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	userName := chi.URLParam(r, "username")
	token := chi.URLParam(r, "token")

	// Token guesses feed the per-IP limiter: the persisted SMS code is short
	// enough that unthrottled attempts would make it guessable.
	clientIP := a.clientIP(r)
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.event(AuditLoginRateLimited, r, userName)
		writeRateLimited(w, retryAfter)
		return
	}

	user := a.lookupUser(r, userName)
	if user == nil || user.Locked() || !a.resetTokenValid(user, token) {
		a.ipLimiter.recordFailure(clientIP)
		a.audit.failure(r, "reset", userName, "invalid reset token")
		writeError(w, http.StatusForbidden, msgBadCredentials)
		return
	}
	a.ipLimiter.recordSuccess(clientIP)

	if err := a.dir.SetPassword(r.Context(), user, req.Password); err != nil {
		mapError(w, err)
		return
	}
	user.OneTimeCode = ""
	user.OneTimeCodeEmission = nil
	user.PasswordFailureTimestamps = nil
	if err := a.dir.SaveUser(r.Context(), user); err != nil {
		mapError(w, err)
		return
	}
	a.audit.event(AuditResetCompleted, r, user.UserName)

	// The reset proves control of the account's recovery channel; complete
	// it by signing the user in rather than bouncing through the full chain.
	stack := a.readStack(r)
	stack.Add(session.UserSession{
		UserID:    user.ID,
		UserName:  user.UserName,
		LastLogin: a.now(),
		Methods:   []flow.Factor{flow.FactorPassword},
	})
	a.writeStack(w, stack, false)
	a.clearAuthSession(w)

	writeJSON(w, http.StatusOK, FlowResponse{
		Redirect: "/",
		Complete: true,
		Message:  msgPasswordUpdated,
	})
}

// resetTokenValid accepts a signed reset or first-login token for this user,
// or the persisted SMS code while it is still fresh. Signed tokens embed the
// password stamp, so completing a reset invalidates every link issued before
// it; a first-login link additionally dies once the account has a password.
func (a *API) resetTokenValid(user *directory.User, token string) bool {
	if subject, err := a.links.Verify(links.PurposeReset, token, user.PasswordStamp); err == nil {
		return subject == user.ID
	}
	if !user.HasPassword {
		if subject, err := a.links.Verify(links.PurposeFirstLogin, token, user.PasswordStamp); err == nil {
			return subject == user.ID
		}
	}
	if user.OneTimeCode != "" && user.OneTimeCodeEmission != nil &&
		a.now().Sub(*user.OneTimeCodeEmission) <= a.cfg.ResetTTL {
		return mfa.VerifyCode(user.OneTimeCode, token)
	}
	return false
}
