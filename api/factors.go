package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/gatehouse/flow"
)

// FactorChallenge handles GET /auth/{factor}: describe the current step to
// the client, delivering a code or a ceremony challenge where the factor
// needs one. Requests for a factor that is not the current step are
// redirected without touching any state.
func (a *API) FactorChallenge(w http.ResponseWriter, r *http.Request) {
	factor, err := flow.ParseFactor(chi.URLParam(r, "factor"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s := a.guardFactor(w, r, factor)
	if s == nil {
		return
	}
	switch factor {
	case flow.FactorPassword:
		writeJSON(w, http.StatusOK, ChallengeResponse{Factor: string(factor)})
	case flow.FactorOTP:
		a.otpChallenge(w, r, s)
	case flow.FactorEmail, flow.FactorSMS:
		a.codeChallenge(w, r, s, factor)
	case flow.FactorFIDO2:
		a.webauthnChallenge(w, r, s)
	}
}

// FactorVerify handles POST /auth/{factor}: check the submitted proof and
// either advance the attempt or report a generic failure.
func (a *API) FactorVerify(w http.ResponseWriter, r *http.Request) {
	factor, err := flow.ParseFactor(chi.URLParam(r, "factor"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s := a.guardFactor(w, r, factor)
	if s == nil {
		return
	}
	switch factor {
	case flow.FactorPassword:
		a.passwordVerify(w, r, s)
	case flow.FactorOTP:
		a.otpVerify(w, r, s)
	case flow.FactorEmail, flow.FactorSMS:
		a.codeVerify(w, r, s, factor)
	case flow.FactorFIDO2:
		a.webauthnVerify(w, r, s)
	}
}
