package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func serve(t *testing.T, opts Options, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var userID, authz string
	h := Middleware(opts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		authz = AuthorizationFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, userID, authz
}

func signed(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestMiddlewareIssuesAnonCookie(t *testing.T) {
	rec, userID, _ := serve(t, Options{IsDev: true}, httptest.NewRequest(http.MethodGet, "/", nil))
	if !isValidAnonID(userID) {
		t.Fatalf("expected anonymous id, got %q", userID)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != userID {
		t.Fatalf("expected cookie with the anonymous id, got %+v", cookies)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id := "anon_" + strings.Repeat("a", 32)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})

	_, userID, _ := serve(t, Options{}, req)
	if userID != id {
		t.Fatalf("expected %q, got %q", id, userID)
	}
}

func TestMiddlewareForwardsAuthorizationWithoutSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer opaque")

	rec, userID, authz := serve(t, Options{}, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if authz != "Bearer opaque" {
		t.Fatalf("authorization not forwarded: %q", authz)
	}
	if !strings.HasPrefix(userID, "anon_") {
		t.Fatalf("expected anonymous id, got %q", userID)
	}
}

func TestMiddlewareVerifiesJWT(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "s3cret", "user-42"))

	_, userID, _ := serve(t, Options{JWTSecret: "s3cret"}, req)
	if userID != "jwt:user-42" {
		t.Fatalf("expected jwt identity, got %q", userID)
	}
}

func TestMiddlewareRejectsBadJWT(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "other", "user-42"))

	rec, _, _ := serve(t, Options{JWTSecret: "s3cret"}, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	if got := sanitizeSessionID("tab-1"); got != "tab-1" {
		t.Fatalf("got %q", got)
	}
	if got := sanitizeSessionID("bad id!"); got != DefaultSessionIDValue {
		t.Fatalf("got %q", got)
	}
}
