package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewCookieManagerSameSiteMapping(t *testing.T) {
	if got := NewCookieManager("", true, "strict", time.Hour).SameSite; got != http.SameSiteStrictMode {
		t.Fatalf("strict mapping mismatch: %v", got)
	}
	if got := NewCookieManager("", true, "none", time.Hour).SameSite; got != http.SameSiteNoneMode {
		t.Fatalf("none mapping mismatch: %v", got)
	}
	if got := NewCookieManager("", true, "unexpected", time.Hour).SameSite; got != http.SameSiteLaxMode {
		t.Fatalf("default mapping mismatch: %v", got)
	}
}

func TestCookieManagerSetSessionCookie(t *testing.T) {
	mgr := NewCookieManager("example.com", true, "strict", 8*time.Hour)
	rr := httptest.NewRecorder()
	mgr.SetSessionCookie(rr, "abc.def.ghi")

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "token" || c.Value != "Bearer abc.def.ghi" {
		t.Fatalf("unexpected cookie name/value: %q=%q", c.Name, c.Value)
	}
	if c.Path != "/" || !c.HttpOnly || !c.Secure || c.Domain != "example.com" {
		t.Fatalf("unexpected cookie attributes: %#v", c)
	}
	if c.MaxAge != int((8 * time.Hour).Seconds()) {
		t.Fatalf("unexpected max age %d", c.MaxAge)
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("unexpected same-site: %v", c.SameSite)
	}
}

func TestCookieManagerClearSessionCookie(t *testing.T) {
	mgr := NewCookieManager("", false, "lax", time.Hour)
	rr := httptest.NewRecorder()
	mgr.ClearSessionCookie(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cleared cookie, got %d", len(cookies))
	}
	if c := cookies[0]; c.Name != "token" || c.MaxAge != -1 || c.Value != "" {
		t.Fatalf("unexpected cleared cookie: %#v", c)
	}
}

func TestGetCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "x"})

	if got := GetCookie(req, "token"); got != "x" {
		t.Fatalf("unexpected cookie value %q", got)
	}
	if got := GetCookie(req, "missing"); got != "" {
		t.Fatalf("expected empty cookie value for missing cookie, got %q", got)
	}
}
