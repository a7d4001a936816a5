package tokenhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/open-rails/tokenkit/keys"
	memorychecker "github.com/open-rails/tokenkit/revocation/memory"
	"github.com/open-rails/tokenkit/tokentest"
	"github.com/open-rails/tokenkit/verify"
)

func testHandler(t *testing.T, iss *tokentest.Issuer, cfg Config) http.Handler {
	t.Helper()
	v, err := verify.NewIDTokenVerifier(iss.ProjectID(),
		verify.WithKeySource(keys.NewCache(iss.CertURL())))
	if err != nil {
		t.Fatalf("build verifier: %v", err)
	}
	return RequireToken(v, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := TokenFromContext(r.Context())
		if !ok {
			http.Error(w, "token missing from context", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(token.UID()))
	}))
}

func TestRequireTokenBearer(t *testing.T) {
	iss := tokentest.NewIssuer("proj-1")
	defer iss.Close()
	h := testHandler(t, iss, Config{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+iss.IDToken("user-1"))
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "user-1" {
		t.Fatalf("expected 200/user-1, got %d/%q", w.Code, w.Body.String())
	}
}

func TestRequireTokenUnauthorized(t *testing.T) {
	iss := tokentest.NewIssuer("proj-1")
	defer iss.Close()
	h := testHandler(t, iss, Config{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "MISSING_CREDENTIAL") {
		t.Errorf("expected MISSING_CREDENTIAL in body, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ID_TOKEN_INVALID") {
		t.Errorf("expected ID_TOKEN_INVALID in body, got %s", w.Body.String())
	}
}

func TestRequireTokenChecksRevocation(t *testing.T) {
	iss := tokentest.NewIssuer("proj-1")
	defer iss.Close()
	checker := memorychecker.New()
	h := testHandler(t, iss, Config{Checker: checker})

	raw := iss.IDToken("user-1")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("unrevoked token rejected: %d %s", w.Code, w.Body.String())
	}

	if err := checker.Revoke(context.Background(), "user-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked token, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ID_TOKEN_REVOKED") {
		t.Errorf("expected revoked error code, got %s", w.Body.String())
	}
}

func TestRequireTokenCookie(t *testing.T) {
	iss := tokentest.NewIssuer("proj-1")
	defer iss.Close()
	h := testHandler(t, iss, Config{CookieName: "auth"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: iss.IDToken("user-3")})
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "user-3" {
		t.Fatalf("expected 200/user-3, got %d/%q", w.Code, w.Body.String())
	}
}
