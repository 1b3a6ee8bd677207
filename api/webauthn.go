package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
)

const dataWebAuthnCeremony = "webauthn_ceremony"

// webauthnUser adapts a directory user to the webauthn.User interface.
type webauthnUser struct {
	user *directory.User
}

func (u webauthnUser) WebAuthnID() []byte          { return []byte(u.user.ID) }
func (u webauthnUser) WebAuthnName() string        { return u.user.UserName }
func (u webauthnUser) WebAuthnDisplayName() string { return u.user.FormattedName }

func (u webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.user.WebAuthnCredentials))
	for _, c := range u.user.WebAuthnCredentials {
		transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
		for _, t := range c.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		creds = append(creds, webauthn.Credential{
			ID:        c.ID,
			PublicKey: c.PublicKey,
			Transport: transports,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		})
	}
	return creds
}

func (u webauthnUser) exclusions() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(u.user.WebAuthnCredentials))
	for _, c := range u.user.WebAuthnCredentials {
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
		})
	}
	return out
}

// webauthnChallenge starts the assertion ceremony for the fido2 step. A user
// without registered credentials is sent to enrolment instead; an unknown
// identifier gets the same redirect so the step leaks nothing.
func (a *API) webauthnChallenge(w http.ResponseWriter, r *http.Request, s *flow.Session) {
	user := a.attemptUser(r, s)
	if user == nil || len(user.WebAuthnCredentials) == 0 {
		writeJSON(w, http.StatusOK, FlowResponse{Redirect: "/auth/fido2-setup"})
		return
	}

	options, ceremony, err := a.webauthn.BeginLogin(webauthnUser{user})
	if err != nil {
		mapError(w, err)
		return
	}
	raw, err := json.Marshal(ceremony)
	if err != nil {
		mapError(w, err)
		return
	}
	s.SetData(dataWebAuthnCeremony, string(raw))
	a.writeAuthSession(w, s)

	writeJSON(w, http.StatusOK, ChallengeResponse{
		Factor:  string(flow.FactorFIDO2),
		Options: options,
	})
}

// webauthnVerify finishes the assertion ceremony. The request body is the
// authenticator's assertion response verbatim. The stored sign counter is
// advanced and persisted before the success response; a counter that failed
// to move forward marks a cloned authenticator and fails the step.
func (a *API) webauthnVerify(w http.ResponseWriter, r *http.Request, s *flow.Session) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webauthn response")
		return
	}

	s.MarkTry()

	fail := func(userName, reason string) {
		a.audit.failure(r, string(flow.FactorFIDO2), userName, reason)
		a.writeAuthSession(w, s)
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
	}

	raw, ok := s.TakeData(dataWebAuthnCeremony)
	if !ok {
		fail(s.UserName, "no ceremony in progress")
		return
	}
	var ceremony webauthn.SessionData
	if err := json.Unmarshal([]byte(raw), &ceremony); err != nil {
		fail(s.UserName, "corrupt ceremony state")
		return
	}

	user := a.attemptUser(r, s)
	if user == nil || user.Locked() {
		fail(s.UserName, "no user")
		return
	}

	cred, err := a.validateLogin(webauthnUser{user}, ceremony, parsed)
	if err != nil {
		fail(user.UserName, "assertion validation failed")
		return
	}
	if cred.Authenticator.CloneWarning {
		fail(user.UserName, "sign counter did not advance")
		return
	}

	stored := user.CredentialByID(cred.ID)
	if stored == nil {
		fail(user.UserName, "unknown credential")
		return
	}
	now := a.now()
	stored.SignCount = cred.Authenticator.SignCount
	stored.LastUsedAt = &now
	if err := a.dir.SaveUser(r.Context(), user); err != nil {
		mapError(w, err)
		return
	}

	a.audit.success(r, string(flow.FactorFIDO2), user.UserName)
	a.advance(w, r, s, user, flow.FactorFIDO2)
}

// WebAuthnSetupChallenge handles GET /auth/fido2-setup. It serves two
// callers: an attempt that reached the fido2 step with nothing enrolled, and
// an already-signed-in user adding a credential, for whom a single-step
// attempt is synthesized on the fly.
func (a *API) WebAuthnSetupChallenge(w http.ResponseWriter, r *http.Request) {
	s, user := a.setupSession(w, r)
	if s == nil {
		return
	}

	if len(user.WebAuthnCredentials) >= a.cfg.MaxWebAuthnCredentials {
		writeError(w, http.StatusConflict, "credential limit reached; remove one first")
		return
	}

	wu := webauthnUser{user}
	options, ceremony, err := a.webauthn.BeginRegistration(wu,
		webauthn.WithExclusions(wu.exclusions()))
	if err != nil {
		mapError(w, err)
		return
	}
	raw, err := json.Marshal(ceremony)
	if err != nil {
		mapError(w, err)
		return
	}
	s.SetData(dataWebAuthnCeremony, string(raw))
	a.writeAuthSession(w, s)

	writeJSON(w, http.StatusOK, ChallengeResponse{
		Factor:  string(flow.FactorFIDO2),
		Options: options,
	})
}

// WebAuthnSetupVerify handles POST /auth/fido2-setup: the body is the
// authenticator's attestation response. The credential is persisted before
// the response; only then does a mid-flow attempt advance.
func (a *API) WebAuthnSetupVerify(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webauthn response")
		return
	}

	s, user := a.setupSession(w, r)
	if s == nil {
		return
	}
	if len(user.WebAuthnCredentials) >= a.cfg.MaxWebAuthnCredentials {
		writeError(w, http.StatusConflict, "credential limit reached; remove one first")
		return
	}

	raw, ok := s.TakeData(dataWebAuthnCeremony)
	if !ok {
		writeJSON(w, http.StatusConflict, FlowResponse{Redirect: "/auth/fido2-setup"})
		return
	}
	var ceremony webauthn.SessionData
	if err := json.Unmarshal([]byte(raw), &ceremony); err != nil {
		writeError(w, http.StatusBadRequest, "corrupt ceremony state")
		return
	}

	cred, err := a.webauthn.CreateCredential(webauthnUser{user}, ceremony, parsed)
	if err != nil {
		a.audit.failure(r, string(flow.FactorFIDO2), user.UserName, "attestation validation failed")
		a.writeAuthSession(w, s)
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	user.WebAuthnCredentials = append(user.WebAuthnCredentials, directory.Credential{
		ID:         cred.ID,
		PublicKey:  cred.PublicKey,
		SignCount:  cred.Authenticator.SignCount,
		Transports: transports,
		Name:       "security key",
		CreatedAt:  a.now(),
	})
	if err := a.dir.SaveUser(r.Context(), user); err != nil {
		mapError(w, err)
		return
	}

	a.audit.event(AuditWebAuthnRegistered, r, user.UserName)
	a.audit.success(r, string(flow.FactorFIDO2), user.UserName)
	a.advance(w, r, s, user, flow.FactorFIDO2)
}

// setupSession resolves the attempt backing an enrolment request: the
// in-flight attempt when the fido2 step is current, otherwise a synthetic
// single-step attempt for the signed-in account. Writes the error response
// and returns nils when neither applies.
func (a *API) setupSession(w http.ResponseWriter, r *http.Request) (*flow.Session, *directory.User) {
	if !a.factorEnabled(flow.FactorFIDO2) {
		http.NotFound(w, r)
		return nil, nil
	}

	if s := a.readAuthSession(r); s != nil {
		if current, ok := s.Current(); ok && current == flow.FactorFIDO2 {
			user := a.attemptUser(r, s)
			if user == nil || user.Locked() {
				writeError(w, http.StatusUnauthorized, msgBadCredentials)
				return nil, nil
			}
			return s, user
		}
	}

	stack := a.readStack(r)
	stack.Prune(r.Context(), a.dir)
	current := stack.Current()
	if current == nil {
		writeJSON(w, http.StatusUnauthorized, FlowResponse{
			Redirect: "/login",
			Message:  msgLostAttempt,
		})
		return nil, nil
	}
	user, err := a.dir.GetUser(r.Context(), current.UserID)
	if err != nil {
		mapError(w, err)
		return nil, nil
	}

	s := flow.NewSession(user.UserName, []flow.Factor{flow.FactorFIDO2}, false)
	s.WelcomeFlash = false
	return s, user
}
