package api

import (
	"encoding/json"
	"net/http"

	"github.com/jmcleod/gatehouse/flow"
	"github.com/jmcleod/gatehouse/mfa"
)

const dataNewOTPSecret = "otp_new_secret"

// otpChallenge handles arrival at the authenticator-app step. A user without
// an enrolled secret is sent to the setup flow instead.
func (a *API) otpChallenge(w http.ResponseWriter, r *http.Request, s *flow.Session) {
	user := a.attemptUser(r, s)
	if user != nil && user.OTPSecret == "" {
		writeJSON(w, http.StatusOK, FlowResponse{Redirect: "/auth/otp-setup"})
		return
	}
	writeJSON(w, http.StatusOK, ChallengeResponse{Factor: string(flow.FactorOTP)})
}

// otpVerify checks a TOTP or HOTP code depending on configuration. For HOTP
// the advanced counter is persisted before the response is written, whatever
// the outcome; if that write fails the authentication fails with it, because
// responding success on an unpersisted counter would open a replay window.
func (a *API) otpVerify(w http.ResponseWriter, r *http.Request, s *flow.Session) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.MarkTry()

	user := a.attemptUser(r, s)
	if user == nil || user.Locked() || user.OTPSecret == "" {
		a.audit.failure(r, string(flow.FactorOTP), s.UserName, "no otp material")
		a.writeAuthSession(w, s)
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	var ok bool
	switch a.cfg.OTPMethod {
	case mfa.MethodHOTP:
		var next uint64
		ok, next = mfa.VerifyHOTP(user.OTPSecret, req.Code, user.HOTPCounter, a.cfg.HOTPLookAhead)
		user.HOTPCounter = next
		if err := a.dir.SaveUser(r.Context(), user); err != nil {
			mapError(w, err)
			return
		}
	default:
		ok = mfa.VerifyTOTP(user.OTPSecret, req.Code, a.now())
	}

	if !ok {
		a.audit.failure(r, string(flow.FactorOTP), user.UserName, "wrong code")
		a.writeAuthSession(w, s)
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	now := a.now()
	user.LastOTPLogin = &now
	if err := a.dir.SaveUser(r.Context(), user); err != nil {
		mapError(w, err)
		return
	}

	a.audit.success(r, string(flow.FactorOTP), user.UserName)
	a.advance(w, r, s, user, flow.FactorOTP)
}

// OTPSetupChallenge handles GET /auth/otp-setup: mint a candidate secret and
// hand back the otpauth URI. The secret lives only in the attempt state
// until the user proves possession; re-fetching mints a fresh one.
func (a *API) OTPSetupChallenge(w http.ResponseWriter, r *http.Request) {
	s := a.guardFactor(w, r, flow.FactorOTP)
	if s == nil {
		return
	}

	secret, err := mfa.GenerateSecret()
	if err != nil {
		mapError(w, err)
		return
	}
	s.SetData(dataNewOTPSecret, secret)
	a.writeAuthSession(w, s)

	writeJSON(w, http.StatusOK, OTPSetupResponse{
		Secret: secret,
		URI:    mfa.SetupURI(a.cfg.OTPMethod, secret, s.UserName, a.cfg.Issuer, 0),
	})
}

// OTPSetupVerify handles POST /auth/otp-setup: the possession proof. Only a
// correct code persists the candidate secret onto the account; until then
// the previous secret (if any) stays in force.
func (a *API) OTPSetupVerify(w http.ResponseWriter, r *http.Request) {
	s := a.guardFactor(w, r, flow.FactorOTP)
	if s == nil {
		return
	}
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	secret, ok := s.Data[dataNewOTPSecret]
	if !ok || secret == "" {
		writeJSON(w, http.StatusConflict, FlowResponse{Redirect: "/auth/otp-setup"})
		return
	}

	s.MarkTry()

	user := a.attemptUser(r, s)
	if user == nil || user.Locked() {
		a.audit.failure(r, string(flow.FactorOTP), s.UserName, "no user for enrolment")
		a.writeAuthSession(w, s)
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	verified, counter := a.verifyEnrolment(secret, req.Code)
	if !verified {
		a.audit.failure(r, string(flow.FactorOTP), user.UserName, "enrolment proof failed")
		a.writeAuthSession(w, s)
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	s.TakeData(dataNewOTPSecret)
	user.OTPSecret = secret
	user.HOTPCounter = counter
	now := a.now()
	user.LastOTPLogin = &now
	if err := a.dir.SaveUser(r.Context(), user); err != nil {
		mapError(w, err)
		return
	}

	a.audit.event(AuditOTPSetup, r, user.UserName)
	a.audit.success(r, string(flow.FactorOTP), user.UserName)
	a.advance(w, r, s, user, flow.FactorOTP)
}

func (a *API) verifyEnrolment(secret, code string) (bool, uint64) {
	if a.cfg.OTPMethod == mfa.MethodHOTP {
		return mfa.VerifyHOTP(secret, code, 0, a.cfg.HOTPLookAhead)
	}
	return mfa.VerifyTOTP(secret, code, a.now()), 0
}
