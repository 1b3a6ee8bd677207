package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
	"github.com/jmcleod/gatehouse/messaging"
	"github.com/jmcleod/gatehouse/mfa"
)

// codeChallenge handles arrival at the email or sms step. The first arrival
// of the attempt emits a code automatically: an emission older than the step
// start belongs to a previous attempt and is superseded. Later arrivals just
// restate the masked destination.
func (a *API) codeChallenge(w http.ResponseWriter, r *http.Request, s *flow.Session, factor flow.Factor) {
	user := a.attemptUser(r, s)
	if user == nil {
		// Keep the response shape identical for unknown identifiers.
		writeJSON(w, http.StatusOK, ChallengeResponse{Factor: string(factor)})
		return
	}

	if user.OneTimeCodeEmission == nil || user.OneTimeCodeEmission.Before(s.CurrentStepStart) {
		if err := a.sendCode(r, user, factor); err != nil {
			mapError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, ChallengeResponse{
		Factor: string(factor),
		Hint:   a.codeHint(user, factor),
	})
}

func (a *API) codeHint(user *directory.User, factor flow.Factor) string {
	if factor == flow.FactorSMS {
		return messaging.MaskPhone(user.PreferredPhone())
	}
	return messaging.MaskEmail(user.PreferredEmail())
}

// sendCode generates, persists and delivers a fresh one-time code. The code
// is stored before delivery so a crashed send never leaves a code the server
// does not know about.
func (a *API) sendCode(r *http.Request, user *directory.User, factor flow.Factor) error {
	code, err := mfa.GenerateCode(a.cfg.CodeDigits)
	if err != nil {
		return err
	}
	now := a.now()
	user.OneTimeCode = code
	user.OneTimeCodeEmission = &now
	if err := a.dir.SaveUser(r.Context(), user); err != nil {
		return err
	}

	switch factor {
	case flow.FactorSMS:
		to := user.PreferredPhone()
		if to == "" {
			return fmt.Errorf("user has no phone number")
		}
		if err := a.smser.SendSMS(r.Context(), to, messaging.CodeSMSBody(a.cfg.Issuer, code)); err != nil {
			return err
		}
	default:
		to := user.PreferredEmail()
		if to == "" {
			return fmt.Errorf("user has no email address")
		}
		subject, body := messaging.CodeMailBody(a.cfg.Issuer, code)
		if err := a.mailer.SendMail(r.Context(), to, subject, body); err != nil {
			return err
		}
	}
	a.audit.event(AuditCodeSent, r, user.UserName)
	return nil
}

// codeVerify checks the submitted one-time code. The stored code is cleared
// on success so it cannot satisfy a later step or attempt.
func (a *API) codeVerify(w http.ResponseWriter, r *http.Request, s *flow.Session, factor flow.Factor) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.MarkTry()

	user := a.attemptUser(r, s)
	if user == nil || user.Locked() || !mfa.VerifyCode(user.OneTimeCode, req.Code) {
		a.audit.failure(r, string(factor), s.UserName, "wrong code")
		a.writeAuthSession(w, s)
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	user.OneTimeCode = ""
	user.OneTimeCodeEmission = nil
	if err := a.dir.SaveUser(r.Context(), user); err != nil {
		mapError(w, err)
		return
	}

	a.audit.success(r, string(factor), user.UserName)
	a.advance(w, r, s, user, factor)
}

// ResendEmailCode handles POST /auth/email/resend.
func (a *API) ResendEmailCode(w http.ResponseWriter, r *http.Request) {
	a.resendCode(w, r, flow.FactorEmail)
}

// ResendSMSCode handles POST /auth/sms/resend.
func (a *API) ResendSMSCode(w http.ResponseWriter, r *http.Request) {
	a.resendCode(w, r, flow.FactorSMS)
}

// resendCode re-delivers a code, gated by the minimum emission delay. A
// rejected request does not touch the emission timestamp, so hammering the
// button never pushes the next allowed send further away.
func (a *API) resendCode(w http.ResponseWriter, r *http.Request, factor flow.Factor) {
	s := a.guardFactor(w, r, factor)
	if s == nil {
		return
	}
	user := a.attemptUser(r, s)
	if user == nil {
		writeJSON(w, http.StatusOK, FlowResponse{Message: msgCodeSent})
		return
	}

	if ok, wait := mfa.CanResend(user.OneTimeCodeEmission, a.now(), a.cfg.ResendDelay); !ok {
		a.audit.event(AuditCodeResendThrottle, r, user.UserName)
		secs := int(wait.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("Please wait %d seconds before requesting a new code.", secs))
		return
	}
	if err := a.sendCode(r, user, factor); err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FlowResponse{Message: msgCodeSent})
}
