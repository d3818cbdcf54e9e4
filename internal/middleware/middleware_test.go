package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/config"
)

const testSecret = "test-secret"

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func serve(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c)+"/"+Role(c))
	}, JWTAuth(testSecret), RequireRole(RoleStaff))

	exp := time.Now().Add(time.Hour).Unix()

	rec := serve(e, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", rec.Code)
	}

	rec = serve(e, signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u1", "role": "STAFF", "exp": exp}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: got %d", rec.Code)
	}

	rec = serve(e, signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u1", "role": "customer", "exp": exp}))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member on staff route: got %d", rec.Code)
	}

	rec = serve(e, signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u9", "role": "staff", "exp": exp}))
	if rec.Code != http.StatusOK || rec.Body.String() != "u9/STAFF" {
		t.Fatalf("staff token: got %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(e, signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"role": "STAFF", "exp": exp}))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token without subject: got %d", rec.Code)
	}
}

func TestDisabledMiddlewaresPassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/probe", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil),
		NewRedisCache(config.CacheConfig{Enabled: true}, nil))

	rec := serve(e, "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "" {
		t.Fatalf("expected untouched response, got %d cache=%q", rec.Code, rec.Header().Get("X-Cache"))
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/instances/i1/bookings", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/instances/:id/bookings")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_user"}
	if got := buildRateKey(cfg, c); got != "rl:ip:10.0.0.7:user:anon" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Set("user_id", "u1")
	cfg.KeyStrategy = "user_route"
	if got := buildRateKey(cfg, c); got != "rl:user:u1:route:POST /v1/instances/:id/bookings" {
		t.Fatalf("user key = %q", got)
	}
}

func TestCachePayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"ok":true}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || got.Get("Content-Type") != "application/json" || string(body) != `{"ok":true}` {
		t.Fatalf("decode mismatch: %v %d %v %q", ok, status, got, body)
	}
	if _, _, _, ok := decodePayload(bs[:5]); ok {
		t.Fatal("short payload should not decode")
	}
}
