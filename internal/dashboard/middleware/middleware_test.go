package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pabbly/hookdash/internal/auth/ratelimit"
	"github.com/pabbly/hookdash/internal/credentials"
	"github.com/pabbly/hookdash/internal/domain"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestCORS(t *testing.T) {
	h := CORS(CORSConfig{AllowOrigins: []string{"https://app.example.com"}})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/connections", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight code = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Errorf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("default methods not applied")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin got CORS headers")
	}
}

func TestBearerForwardsToken(t *testing.T) {
	var token string
	var actor domain.Actor
	h := Bearer(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ = credentials.FromContext()(r.Context())
		actor = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	req.Header.Set("X-User-Email", "ada@example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if token != "tok-1" {
		t.Errorf("token = %q", token)
	}
	if actor.Email != "ada@example.com" || actor.Name != "ada" {
		t.Errorf("actor = %+v", actor)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/analytics", nil))
	if token != "" || actor.Name != "system" {
		t.Errorf("anonymous token=%q actor=%+v", token, actor)
	}
}

func TestBearerRequired(t *testing.T) {
	h := Bearer(true)(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connections", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health code = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(2, time.Minute)
	defer limiter.Stop()
	h := RateLimit(limiter, nil)(ok)

	send := func(path, remote, token, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Rotating tokens or forwarded addresses from one peer shares a bucket.
	send("/api/x", "198.51.100.7:4000", "a", "")
	send("/api/x", "198.51.100.7:4001", "b", "10.0.0.1")
	if code := send("/api/x", "198.51.100.7:4002", "c", "10.0.0.2"); code != http.StatusTooManyRequests {
		t.Fatalf("third request code = %d", code)
	}
	if code := send("/api/x", "198.51.100.8:4000", "a", ""); code != http.StatusOK {
		t.Fatalf("other address code = %d", code)
	}
	if code := send("/health/ready", "198.51.100.7:4003", "", ""); code != http.StatusOK {
		t.Fatalf("health code = %d", code)
	}
}

func TestRateLimitBehindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.1 "})
	if err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.New(1, time.Minute)
	defer limiter.Stop()
	h := RateLimit(limiter, proxies)(ok)

	send := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("10.1.2.3:80", "203.0.113.5"); code != http.StatusOK {
		t.Fatalf("first client code = %d", code)
	}
	if code := send("192.168.1.1:80", "203.0.113.6, 10.9.9.9"); code != http.StatusOK {
		t.Fatalf("second client code = %d", code)
	}
	// A spoofed leftmost entry does not escape the bucket of the address the
	// proxy saw.
	if code := send("10.1.2.3:80", "1.2.3.4, 203.0.113.5"); code != http.StatusTooManyRequests {
		t.Fatalf("spoofed forwarded code = %d", code)
	}

	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Error("expected error for bad proxy entry")
	}
}
