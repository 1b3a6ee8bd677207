package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// NewCaptcha handles GET /captcha: issue a fresh challenge. The previous
// token, if any, simply ages out unanswered; tokens are single-use so an
// abandoned one cannot be farmed.
func (a *API) NewCaptcha(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.CaptchaEnabled {
		http.NotFound(w, r)
		return
	}
	challenge, err := a.captcha.New()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CaptchaResponse{
		Token: challenge.Token,
		Image: challenge.ImageDataURI,
		Audio: "/captcha-audio/" + challenge.Token,
	})
}

// CaptchaAudio handles GET /captcha-audio/{token}: the WAV rendering of an
// active challenge. The token doubles as the ETag, so replaying the element
// after the browser cached it costs nothing.
func (a *API) CaptchaAudio(w http.ResponseWriter, r *http.Request) {
	if !a.cfg.CaptchaEnabled {
		http.NotFound(w, r)
		return
	}
	token := chi.URLParam(r, "token")
	etag := `"` + token + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	wav, ok := a.captcha.Audio(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=600")
	w.Write(wav)
}
