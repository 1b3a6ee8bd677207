package api

import (
	"encoding/json"
	"net/http"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
)

// passwordVerify checks the password step. Every failure path produces the
// same generic message and records the failure with the online-guessing
// limiters; an existing user additionally gets a failure timestamp appended,
// which is what arms the CAPTCHA gate.
func (a *API) passwordVerify(w http.ResponseWriter, r *http.Request, s *flow.Session) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	clientIP := a.clientIP(r)
	accountKey := directory.CanonicalLogin(s.UserName)
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.event(AuditLoginRateLimited, r, s.UserName)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.event(AuditLoginRateLimited, r, s.UserName)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.accountLimiter.check(accountKey); blocked {
		a.audit.event(AuditLoginRateLimited, r, s.UserName)
		writeRateLimited(w, retryAfter)
		return
	}

	s.MarkTry()

	fail := func(user *directory.User, reason, message string) {
		a.globalLimiter.recordFailure()
		a.ipLimiter.recordFailure(clientIP)
		a.accountLimiter.recordFailure(accountKey)
		if user != nil {
			user.PasswordFailureTimestamps = append(user.PasswordFailureTimestamps, a.now())
			if err := a.dir.SaveUser(r.Context(), user); err != nil {
				mapError(w, err)
				return
			}
		}
		a.audit.failure(r, string(flow.FactorPassword), s.UserName, reason)
		a.writeAuthSession(w, s)
		if message == "" {
			message = msgBadCredentials
		}
		writeError(w, http.StatusUnauthorized, message)
	}

	user := a.attemptUser(r, s)
	if user == nil {
		fail(nil, "unknown user", "")
		return
	}
	if user.Locked() {
		a.audit.event(AuditLockedAccount, r, user.UserName)
		fail(user, "account locked", "")
		return
	}

	ok, reason, err := a.dir.CheckPassword(r.Context(), user, req.Password)
	if err != nil {
		mapError(w, err)
		return
	}
	if !ok {
		fail(user, "wrong password", reason)
		return
	}

	a.accountLimiter.recordSuccess(accountKey)
	a.ipLimiter.recordSuccess(clientIP)
	a.audit.success(r, string(flow.FactorPassword), user.UserName)
	a.advance(w, r, s, user, flow.FactorPassword)
}
