// Package tokenhttp gates net/http handlers behind bearer-credential
// verification, for services that do not use gin.
package tokenhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/open-rails/tokenkit/verify"
)

type contextKey struct{}

// Config controls where the credential is read from, mirroring the gin
// adapter so both gates behave identically.
type Config struct {
	// CookieName, when set, reads the credential from this cookie instead
	// of the Authorization header. Use for session-cookie verifiers.
	CookieName string

	// Checker, when set, also rejects revoked credentials.
	Checker verify.RevocationChecker
}

// RequireToken wraps next so it only runs for requests carrying a
// credential that v accepts. The validated token is placed on the request
// context; read it back with TokenFromContext.
func RequireToken(v *verify.Verifier, cfg Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := extractCredential(r, cfg.CookieName)
		if !ok {
			writeUnauthorized(w, "MISSING_CREDENTIAL", "no "+v.ShortName()+" supplied")
			return
		}
		var token *verify.Token
		var err error
		if cfg.Checker != nil {
			token, err = v.VerifyAndCheckRevoked(r.Context(), raw, cfg.Checker)
		} else {
			token, err = v.Verify(r.Context(), raw)
		}
		if err != nil {
			code := "UNAUTHENTICATED"
			var ve *verify.VerificationError
			if errors.As(err, &ve) {
				code = ve.Code
			}
			writeUnauthorized(w, code, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), contextKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromContext returns the validated token stored by RequireToken.
func TokenFromContext(ctx context.Context) (*verify.Token, bool) {
	token, ok := ctx.Value(contextKey{}).(*verify.Token)
	return token, ok
}

func extractCredential(r *http.Request, cookieName string) (string, bool) {
	if cookieName != "" {
		ck, err := r.Cookie(cookieName)
		if err != nil || ck.Value == "" {
			return "", false
		}
		return ck.Value, true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	raw := strings.TrimSpace(auth[len(prefix):])
	return raw, raw != ""
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
