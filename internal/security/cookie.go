package security

import (
	"net/http"
	"strings"
	"time"
)

const (
	SessionCookieName = "token"
	BearerPrefix      = "Bearer "
)

type CookieManager struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
	TTL      time.Duration
}

func NewCookieManager(domain string, secure bool, sameSite string, ttl time.Duration) *CookieManager {
	ss := http.SameSiteLaxMode
	switch strings.ToLower(sameSite) {
	case "none":
		ss = http.SameSiteNoneMode
	case "strict":
		ss = http.SameSiteStrictMode
	}
	return &CookieManager{Domain: domain, Secure: secure, SameSite: ss, TTL: ttl}
}

// SetSessionCookie stores the token with its scheme prefix, mirroring the
// Authorization header format so both transports parse the same way.
func (c *CookieManager) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    BearerPrefix + token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		Domain:   c.Domain,
		MaxAge:   int(c.TTL.Seconds()),
		Expires:  time.Now().Add(c.TTL),
	})
}

func (c *CookieManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		Domain:   c.Domain,
		MaxAge:   -1,
	})
}

func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
