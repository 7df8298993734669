package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testSecret = "test-secret"

func authedUser(t *testing.T, header string) (int, string) {
	t.Helper()
	var seen string
	handler := AuthJWT(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, seen
}

func TestAuthJWTValidToken(t *testing.T) {
	token, err := SignToken(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	code, user := authedUser(t, "Bearer "+token)
	if code != http.StatusOK || user != "user-1" {
		t.Fatalf("code = %d, user = %q", code, user)
	}
}

func TestAuthJWTMissingHeaderPassesAnonymous(t *testing.T) {
	code, user := authedUser(t, "")
	if code != http.StatusOK || user != "" {
		t.Fatalf("code = %d, user = %q, want anonymous pass-through", code, user)
	}
}

func TestAuthJWTRejectsBadToken(t *testing.T) {
	code, _ := authedUser(t, "Bearer not-a-token")
	if code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", code)
	}
}

func TestAuthJWTRejectsWrongSecret(t *testing.T) {
	token, err := SignToken("other-secret", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	code, _ := authedUser(t, "Bearer "+token)
	if code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", code)
	}
}

func TestAuthJWTRejectsExpiredToken(t *testing.T) {
	token, err := SignToken(testSecret, "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	code, _ := authedUser(t, "Bearer "+token)
	if code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", code)
	}
}

func TestAuthJWTRejectsMalformedHeader(t *testing.T) {
	code, _ := authedUser(t, "Token abc")
	if code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", code)
	}
}
