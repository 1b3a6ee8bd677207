package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmcleod/gatehouse/flow"
	"github.com/jmcleod/gatehouse/internal/util"
	"github.com/jmcleod/gatehouse/session"
)

const (
	authCookieName    = "gh_auth"
	stackCookieName   = "gh_session"
	historyCookieName = "gh_history"

	historyLifetime = 365 * 24 * time.Hour
)

// cookieCodec seals flow and session state into cookies with AES-GCM, so the
// browser carries the state but cannot read or forge it. The login history is
// the exception: it only pre-fills a form, so it stays a plain cookie.
type cookieCodec struct {
	key    []byte
	secure bool
}

func newCookieCodec(key []byte, secure bool) *cookieCodec {
	return &cookieCodec{key: key, secure: secure}
}

// seal binds the cookie name as associated data, so a ciphertext minted for
// one cookie cannot be replayed under another.
func (c *cookieCodec) seal(name string, v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sealed, err := util.EncryptAES(plain, c.key, []byte(name))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// unseal decodes into v. Any failure (tampering, key rotation, truncation)
// reports false; callers treat that the same as an absent cookie.
func (c *cookieCodec) unseal(name, value string, v any) bool {
	sealed, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return false
	}
	plain, err := util.DecryptAES(sealed, c.key, []byte(name))
	if err != nil {
		return false
	}
	return json.Unmarshal(plain, v) == nil
}

func (c *cookieCodec) write(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
	}
	http.SetCookie(w, cookie)
}

func (c *cookieCodec) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// ---------------------------------------------------------------------------
// Auth session (one in-progress login attempt)
// ---------------------------------------------------------------------------

func (a *API) readAuthSession(r *http.Request) *flow.Session {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return nil
	}
	var s flow.Session
	if !a.cookies.unseal(authCookieName, cookie.Value, &s) {
		return nil
	}
	return &s
}

func (a *API) writeAuthSession(w http.ResponseWriter, s *flow.Session) {
	value, err := a.cookies.seal(authCookieName, s)
	if err != nil {
		return
	}
	a.cookies.write(w, authCookieName, value, 0)
}

func (a *API) clearAuthSession(w http.ResponseWriter) {
	a.cookies.clear(w, authCookieName)
}

// ---------------------------------------------------------------------------
// Session stack (signed-in accounts)
// ---------------------------------------------------------------------------

func (a *API) readStack(r *http.Request) *session.Stack {
	var stack session.Stack
	cookie, err := r.Cookie(stackCookieName)
	if err != nil {
		return &stack
	}
	if !a.cookies.unseal(stackCookieName, cookie.Value, &stack) {
		return &session.Stack{}
	}
	return &stack
}

func (a *API) writeStack(w http.ResponseWriter, stack *session.Stack, remember bool) {
	if len(stack.Sessions) == 0 {
		a.cookies.clear(w, stackCookieName)
		return
	}
	value, err := a.cookies.seal(stackCookieName, stack)
	if err != nil {
		return
	}
	lifetime := time.Duration(0)
	if remember {
		lifetime = a.cfg.RememberLifetime
	}
	a.cookies.write(w, stackCookieName, value, lifetime)
}

// ---------------------------------------------------------------------------
// Login history (pre-fill only, never authorization)
// ---------------------------------------------------------------------------

func (a *API) readHistory(r *http.Request) *session.History {
	var h session.History
	cookie, err := r.Cookie(historyCookieName)
	if err != nil {
		return &h
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil || json.Unmarshal(raw, &h) != nil {
		return &session.History{}
	}
	return &h
}

func (a *API) writeHistory(w http.ResponseWriter, h *session.History) {
	if len(h.UserNames) == 0 {
		a.cookies.clear(w, historyCookieName)
		return
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return
	}
	a.cookies.write(w, historyCookieName, base64.RawURLEncoding.EncodeToString(raw), historyLifetime)
}
