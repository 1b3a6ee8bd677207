package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginStarted       AuditEvent = "login_started"
	AuditFactorSuccess      AuditEvent = "factor_success"
	AuditFactorFailure      AuditEvent = "factor_failure"
	AuditLoginComplete      AuditEvent = "login_complete"
	AuditLoginRateLimited   AuditEvent = "login_rate_limited"
	AuditLogout             AuditEvent = "logout"
	AuditSessionSwitch      AuditEvent = "session_switch"
	AuditCaptchaFailed      AuditEvent = "captcha_failed"
	AuditCodeSent           AuditEvent = "code_sent"
	AuditCodeResendThrottle AuditEvent = "code_resend_throttled"
	AuditOTPSetup           AuditEvent = "otp_setup"
	AuditWebAuthnRegistered AuditEvent = "webauthn_registered"
	AuditResetRequested     AuditEvent = "reset_requested"
	AuditResetCompleted     AuditEvent = "reset_completed"
	AuditFirstLoginSent     AuditEvent = "first_login_sent"
	AuditLockedAccount      AuditEvent = "locked_account_attempt"
)

// auditLogger wraps slog.Logger for structured security audit logging. Lines
// mirror the classic "Successful/Failed <factor> authentication for <user>"
// security-log shape as structured attributes.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{logger: logger.With("component", "audit")}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
}

// success records a successful factor verification for a user.
func (al *auditLogger) success(r *http.Request, factor, userName string) {
	al.log(AuditFactorSuccess, r,
		slog.String("factor", factor),
		slog.String("user", userName))
}

// failure records a failed factor verification.
func (al *auditLogger) failure(r *http.Request, factor, userName, reason string) {
	al.log(AuditFactorFailure, r,
		slog.String("factor", factor),
		slog.String("user", userName),
		slog.String("reason", reason))
}

func (al *auditLogger) event(event AuditEvent, r *http.Request, userName string, extra ...slog.Attr) {
	attrs := []slog.Attr{slog.String("user", userName)}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
