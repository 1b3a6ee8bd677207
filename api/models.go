package api

import "time"

// ErrorResponse is the uniform error payload. CaptchaRequired tells the
// login form to fetch a challenge before retrying.
type ErrorResponse struct {
	Error           string `json:"error"`
	CaptchaRequired bool   `json:"captcha_required,omitempty"`
}

// FlowResponse is returned by every flow endpoint. Redirect names the path
// the client should go to next; Message carries a user-facing notice.
type FlowResponse struct {
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
	// Complete is set when the login attempt just finished and a user
	// session was created.
	Complete bool `json:"complete,omitempty"`
	// Welcome is set alongside Complete when the success notice should be
	// shown.
	Welcome bool `json:"welcome,omitempty"`
}

// LoginRequest starts an authentication attempt.
type LoginRequest struct {
	Login    string `json:"login"`
	Remember bool   `json:"remember"`
	// CaptchaToken and CaptchaAnswer are required once the gate is active.
	CaptchaToken  string `json:"captcha_token,omitempty"`
	CaptchaAnswer string `json:"captcha_answer,omitempty"`
}

// ChallengeResponse describes the current factor step to the client.
type ChallengeResponse struct {
	Factor string `json:"factor"`
	// Hint is a masked delivery address ("a#####e@example.test") or any
	// other display aid for the step.
	Hint string `json:"hint,omitempty"`
	// Options carries factor-specific material: WebAuthn assertion options,
	// enrolment URIs, and the like.
	Options any `json:"options,omitempty"`
	// CaptchaRequired tells the login form to fetch a challenge first.
	CaptchaRequired bool `json:"captcha_required,omitempty"`
}

// VerifyRequest submits proof for the current factor. The fido2 step is the
// exception: its request body is the authenticator's assertion response
// verbatim.
type VerifyRequest struct {
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

// SessionInfo describes one signed-in account.
type SessionInfo struct {
	UserName  string    `json:"user_name"`
	LastLogin time.Time `json:"last_login"`
	Methods   []string  `json:"methods"`
	Current   bool      `json:"current"`
}

// SessionsResponse lists the pruned session stack.
type SessionsResponse struct {
	Sessions []SessionInfo `json:"sessions"`
	// History is the remembered-accounts list for the identifier form.
	History []string `json:"history,omitempty"`
}

// CaptchaResponse is a freshly issued challenge.
type CaptchaResponse struct {
	Token string `json:"token"`
	Image string `json:"image"`
	Audio string `json:"audio"`
}

// ResetRequest asks for a password-reset delivery.
type ResetRequest struct {
	Login string `json:"login"`
}

// ResetPasswordRequest completes a reset or first-login flow.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// OTPSetupResponse carries enrolment material for authenticator apps.
type OTPSetupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}
