// Package api exposes the authentication flow over HTTP: identifier
// submission, the per-factor challenge/verify endpoints, session switching,
// enrolment, password recovery and the CAPTCHA endpoints. Handlers are thin:
// they unseal the attempt state from cookies, delegate to the flow, mfa,
// captcha and links packages, and seal the updated state back.
package api

import (
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jmcleod/gatehouse/captcha"
	"github.com/jmcleod/gatehouse/directory"
	"github.com/jmcleod/gatehouse/flow"
	"github.com/jmcleod/gatehouse/links"
	"github.com/jmcleod/gatehouse/messaging"
	"github.com/jmcleod/gatehouse/mfa"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config carries the policy knobs for the authentication flow.
type Config struct {
	// Issuer names the service in emails, SMS and otpauth URIs.
	Issuer string
	// BaseURL is the externally visible origin, used to build emailed links.
	BaseURL string

	// Factors is the ordered factor chain every login must complete.
	Factors []flow.Factor
	// OTPMethod selects HOTP or TOTP for the authenticator-app factor.
	OTPMethod mfa.Method
	// HOTPLookAhead is the counter drift window for HOTP.
	HOTPLookAhead int

	// CodeDigits sizes email/SMS codes; ResetCodeDigits sizes reset codes.
	CodeDigits      int
	ResetCodeDigits int
	// ResendDelay is the minimum interval between code emissions.
	ResendDelay time.Duration

	// CaptchaEnabled turns the CAPTCHA gate on; CaptchaThreshold is the
	// password-failure count that triggers it (0 = always).
	CaptchaEnabled   bool
	CaptchaThreshold int

	// MaxWebAuthnCredentials caps registered credentials per account.
	MaxWebAuthnCredentials int

	// RevealUnknownLogins makes the recovery endpoints say when an
	// identifier does not resolve. Off by default: the uniform response is
	// what blocks user enumeration.
	RevealUnknownLogins bool

	// InviteTTL and ResetTTL bound emailed link lifetimes.
	InviteTTL time.Duration
	ResetTTL  time.Duration

	// CookieKey seals the auth-session and session-stack cookies (32 bytes).
	CookieKey []byte
	// LinkKey signs emailed action links.
	LinkKey []byte
	// SecureCookies marks cookies Secure; enable whenever TLS terminates
	// anywhere in front of the service.
	SecureCookies bool
	// RememberLifetime is the session-stack cookie lifetime when the user
	// asked to be remembered.
	RememberLifetime time.Duration

	// RPDisplayName, RPID and RPOrigins configure the WebAuthn relying party.
	RPDisplayName string
	RPID          string
	RPOrigins     []string

	// TrustedProxies lists CIDR ranges whose forwarding headers are honored
	// when extracting the client IP for rate limiting.
	TrustedProxies []netip.Prefix
}

func (c *Config) applyDefaults() {
	if c.Issuer == "" {
		c.Issuer = "Gatehouse"
	}
	if len(c.Factors) == 0 {
		c.Factors = []flow.Factor{flow.FactorPassword}
	}
	if c.OTPMethod == "" {
		c.OTPMethod = mfa.MethodTOTP
	}
	if c.HOTPLookAhead == 0 {
		c.HOTPLookAhead = mfa.DefaultLookAhead
	}
	if c.CodeDigits == 0 {
		c.CodeDigits = mfa.DefaultCodeDigits
	}
	if c.ResetCodeDigits == 0 {
		c.ResetCodeDigits = mfa.DefaultResetCodeDigits
	}
	if c.ResendDelay == 0 {
		c.ResendDelay = mfa.DefaultResendDelay
	}
	if c.MaxWebAuthnCredentials == 0 {
		c.MaxWebAuthnCredentials = 5
	}
	if c.InviteTTL == 0 {
		c.InviteTTL = links.DefaultInviteTTL
	}
	if c.ResetTTL == 0 {
		c.ResetTTL = links.DefaultResetTTL
	}
	if c.RememberLifetime == 0 {
		c.RememberLifetime = 30 * 24 * time.Hour
	}
}

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	cfg Config

	dir      directory.Directory
	mailer   messaging.Mailer
	smser    messaging.SMSSender
	captcha  *captcha.Service
	links    *links.Codec
	webauthn *webauthn.WebAuthn

	// validateLogin finishes a parsed assertion ceremony; normally
	// webauthn.ValidateLogin, replaceable in tests.
	validateLogin func(user webauthn.User, ceremony webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)

	cookies *cookieCodec
	audit   *auditLogger

	accountLimiter  *failureLimiter
	ipLimiter       *failureLimiter
	globalLimiter   *globalLimiter
	deliveryLimiter *failureLimiter

	now func() time.Time
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events. Without it a JSON
// logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) { a.audit = newAuditLogger(logger) }
}

// WithMailer enables email delivery (email factor, links, reset codes).
func WithMailer(m messaging.Mailer) Option {
	return func(a *API) { a.mailer = m }
}

// WithSMSSender enables SMS delivery.
func WithSMSSender(s messaging.SMSSender) Option {
	return func(a *API) { a.smser = s }
}

// WithCaptchaStore selects where pending CAPTCHA answers live. Defaults to
// the in-memory store.
func WithCaptchaStore(store captcha.Store) Option {
	return func(a *API) { a.captcha = captcha.NewService(store, captcha.DefaultLength) }
}

// New creates the API. The factor chain, the cookie key and, when the fido2
// factor is enabled, the relying-party settings must be valid.
func New(dir directory.Directory, cfg Config, opts ...Option) (*API, error) {
	cfg.applyDefaults()
	if len(cfg.CookieKey) != 32 {
		return nil, fmt.Errorf("cookie key must be 32 bytes, got %d", len(cfg.CookieKey))
	}
	if len(cfg.LinkKey) == 0 {
		return nil, fmt.Errorf("link signing key is required")
	}

	a := &API{
		cfg:             cfg,
		dir:             dir,
		links:           links.NewCodec(cfg.LinkKey),
		cookies:         newCookieCodec(cfg.CookieKey, cfg.SecureCookies),
		accountLimiter:  newFailureLimiter(accountLimits),
		ipLimiter:       newFailureLimiter(ipLimits),
		globalLimiter:   newGlobalLimiter(),
		deliveryLimiter: newFailureLimiter(deliveryLimits),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.captcha == nil {
		a.captcha = captcha.NewService(captcha.NewMemoryStore(), captcha.DefaultLength)
	}

	if a.factorEnabled(flow.FactorFIDO2) {
		if cfg.RPID == "" || len(cfg.RPOrigins) == 0 {
			return nil, fmt.Errorf("fido2 factor requires relying-party id and origins")
		}
		wa, err := webauthn.New(&webauthn.Config{
			RPDisplayName: cfg.RPDisplayName,
			RPID:          cfg.RPID,
			RPOrigins:     cfg.RPOrigins,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring webauthn: %w", err)
		}
		a.webauthn = wa
		a.validateLogin = wa.ValidateLogin
	}
	if a.factorEnabled(flow.FactorEmail) && a.mailer == nil {
		return nil, fmt.Errorf("email factor requires a mailer")
	}
	if a.factorEnabled(flow.FactorSMS) && a.smser == nil {
		return nil, fmt.Errorf("sms factor requires an sms sender")
	}
	return a, nil
}

func (a *API) factorEnabled(f flow.Factor) bool {
	for _, enabled := range a.cfg.Factors {
		if enabled == f {
			return true
		}
	}
	return false
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Post("/login", a.StartLogin)
	r.Get("/login/{username}", a.LoginAs)
	r.Get("/logout", a.Logout)
	r.Get("/logout/{username}", a.LogoutUser)
	r.Get("/sessions", a.Sessions)
	r.Get("/forget/{username}", a.Forget)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/{factor}", a.FactorChallenge)
		r.Post("/{factor}", a.FactorVerify)
		r.Get("/otp-setup", a.OTPSetupChallenge)
		r.Post("/otp-setup", a.OTPSetupVerify)
		r.Get("/fido2-setup", a.WebAuthnSetupChallenge)
		r.Post("/fido2-setup", a.WebAuthnSetupVerify)
		r.Post("/email/resend", a.ResendEmailCode)
		r.Post("/sms/resend", a.ResendSMSCode)
	})

	r.Post("/firstlogin/{username}", a.FirstLogin)
	r.Post("/reset", a.ForgottenPassword)
	r.Post("/reset/{username}/{token}", a.ResetPassword)

	r.Get("/captcha", a.NewCaptcha)
	r.Get("/captcha-audio/{token}", a.CaptchaAudio)

	return r
}
