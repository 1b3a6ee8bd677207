package cmd

import (
	"encoding/base64"
	"fmt"
	"net/netip"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jmcleod/gatehouse/api"
	"github.com/jmcleod/gatehouse/flow"
	"github.com/jmcleod/gatehouse/messaging"
	"github.com/jmcleod/gatehouse/mfa"
)

// fileConfig is the TOML shape of the configuration file.
type fileConfig struct {
	Issuer  string `toml:"issuer"`
	BaseURL string `toml:"base_url"`

	Factors   []string `toml:"factors"`
	OTPMethod string   `toml:"otp_method"`

	CodeDigits         int `toml:"code_digits"`
	ResetCodeDigits    int `toml:"reset_code_digits"`
	ResendDelaySeconds int `toml:"resend_delay_seconds"`
	HOTPLookAhead      int `toml:"hotp_look_ahead"`

	CaptchaEnabled   bool `toml:"captcha_enabled"`
	CaptchaThreshold int  `toml:"captcha_threshold"`

	MaxWebAuthnCredentials int  `toml:"max_webauthn_credentials"`
	RevealUnknownLogins    bool `toml:"reveal_unknown_logins"`

	// CookieKey and LinkKey are base64; generate with `openssl rand -base64 32`.
	CookieKey     string `toml:"cookie_key"`
	LinkKey       string `toml:"link_key"`
	SecureCookies bool   `toml:"secure_cookies"`

	RPDisplayName string   `toml:"rp_display_name"`
	RPID          string   `toml:"rp_id"`
	RPOrigins     []string `toml:"rp_origins"`

	TrustedProxies []string `toml:"trusted_proxies"`

	SMTP messaging.SMTPConfig `toml:"smtp"`
}

// loadConfig reads the TOML file and translates it into the api config plus
// the SMTP relay settings (zero Host means no relay configured).
func loadConfig(path string) (api.Config, messaging.SMTPConfig, error) {
	var fc fileConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return api.Config{}, messaging.SMTPConfig{}, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	cfg := api.Config{
		Issuer:                 fc.Issuer,
		BaseURL:                fc.BaseURL,
		CodeDigits:             fc.CodeDigits,
		ResetCodeDigits:        fc.ResetCodeDigits,
		HOTPLookAhead:          fc.HOTPLookAhead,
		CaptchaEnabled:         fc.CaptchaEnabled,
		CaptchaThreshold:       fc.CaptchaThreshold,
		MaxWebAuthnCredentials: fc.MaxWebAuthnCredentials,
		RevealUnknownLogins:    fc.RevealUnknownLogins,
		SecureCookies:          fc.SecureCookies,
		RPDisplayName:          fc.RPDisplayName,
		RPID:                   fc.RPID,
		RPOrigins:              fc.RPOrigins,
	}
	if fc.ResendDelaySeconds > 0 {
		cfg.ResendDelay = time.Duration(fc.ResendDelaySeconds) * time.Second
	}

	if len(fc.Factors) > 0 {
		factors, err := flow.ParseFactors(fc.Factors)
		if err != nil {
			return api.Config{}, messaging.SMTPConfig{}, err
		}
		cfg.Factors = factors
	}
	if fc.OTPMethod != "" {
		method, err := mfa.ParseMethod(fc.OTPMethod)
		if err != nil {
			return api.Config{}, messaging.SMTPConfig{}, err
		}
		cfg.OTPMethod = method
	}

	var err error
	if cfg.CookieKey, err = decodeKey("cookie_key", fc.CookieKey); err != nil {
		return api.Config{}, messaging.SMTPConfig{}, err
	}
	if cfg.LinkKey, err = decodeKey("link_key", fc.LinkKey); err != nil {
		return api.Config{}, messaging.SMTPConfig{}, err
	}

	for _, cidr := range fc.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return api.Config{}, messaging.SMTPConfig{}, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		cfg.TrustedProxies = append(cfg.TrustedProxies, prefix)
	}

	return cfg, fc.SMTP, nil
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, err)
	}
	return key, nil
}
