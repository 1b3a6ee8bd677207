package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/links"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, links.ErrExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, links.ErrInvalid):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Messages shown to users. Deliberately generic on the failure paths so
// responses do not reveal whether an identifier resolves.
const (
	msgLostAttempt     = "Cannot remember the login you attempted to sign in with."
	msgBadCredentials  = "Login failed, please check your information."
	msgBadCaptcha      = "The captcha response is incorrect, please try again."
	msgWelcome         = "Connection successful. Welcome!"
	msgCodeSent        = "A verification code has been sent."
	msgResetSent       = "If an account matches this identifier, a password reset message has been sent."
	msgFirstLoginSent  = "If an account matches this identifier, instructions to set a password have been sent."
	msgPasswordUpdated = "Your password has been updated."
	msgSignedOut       = "You have been disconnected."
)
