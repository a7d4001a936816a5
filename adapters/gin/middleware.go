// Package tokengin gates gin routes behind bearer-credential verification.
package tokengin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/tokenkit/verify"
)

const contextKey = "tokenkit.token"

// Config controls where the credential is read from and how failures are
// reported.
type Config struct {
	// CookieName, when set, reads the credential from this cookie instead
	// of the Authorization header. Use for session-cookie verifiers.
	CookieName string

	// Checker, when set, also rejects revoked credentials.
	Checker verify.RevocationChecker

	// Logger receives one warn-level entry per rejected request. Nil
	// disables logging.
	Logger *logrus.Logger
}

// RequireToken verifies the request's credential with v and aborts with
// 401 on failure. The validated token is stored on the gin context; read
// it back with TokenFromGin.
func RequireToken(v *verify.Verifier, cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := extractCredential(c, cfg.CookieName)
		if !ok {
			abortUnauthorized(c, cfg, "MISSING_CREDENTIAL", "no "+v.ShortName()+" supplied")
			return
		}

		var token *verify.Token
		var err error
		if cfg.Checker != nil {
			token, err = v.VerifyAndCheckRevoked(c.Request.Context(), raw, cfg.Checker)
		} else {
			token, err = v.Verify(c.Request.Context(), raw)
		}
		if err != nil {
			code := "UNAUTHENTICATED"
			var ve *verify.VerificationError
			if errors.As(err, &ve) {
				code = ve.Code
			}
			abortUnauthorized(c, cfg, code, err.Error())
			return
		}

		c.Set(contextKey, token)
		c.Next()
	}
}

// TokenFromGin returns the validated token stored by RequireToken.
func TokenFromGin(c *gin.Context) (*verify.Token, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	token, ok := v.(*verify.Token)
	return token, ok
}

func extractCredential(c *gin.Context, cookieName string) (string, bool) {
	if cookieName != "" {
		val, err := c.Cookie(cookieName)
		return val, err == nil && val != ""
	}
	auth := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	raw := strings.TrimSpace(auth[len(prefix):])
	return raw, raw != ""
}

func abortUnauthorized(c *gin.Context, cfg Config, code, message string) {
	if cfg.Logger != nil {
		cfg.Logger.WithFields(logrus.Fields{
			"code": code,
			"path": c.FullPath(),
		}).Warn("request rejected: " + message)
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   code,
		"message": message,
	})
}
