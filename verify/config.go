package verify

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/open-rails/tokenkit/keys"
)

const (
	// SigningAlgorithm is the only algorithm the identity backend signs
	// with. Everything else is rejected before signature verification.
	SigningAlgorithm = "RS256"

	// EmulatorAlgorithm is the marker the local emulator puts in the
	// header of its unsigned tokens.
	EmulatorAlgorithm = "none"

	idTokenCertURL       = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	sessionCookieCertURL = "https://www.googleapis.com/identitytoolkit/v3/relyingparty/publicKeys"

	idTokenIssuerPrefix       = "https://securetoken.google.com/"
	sessionCookieIssuerPrefix = "https://session.firebase.google.com/"

	idTokenDocURL       = "https://firebase.google.com/docs/auth/admin/verify-id-tokens"
	sessionCookieDocURL = "https://firebase.google.com/docs/auth/admin/manage-cookies"
)

// KeySource resolves a key id to the public key that signed a token. A
// lookup that fails because the id is unknown (even after a refresh) must
// return an error matching keys.ErrNotFound; any other error is treated as
// a fetch failure.
type KeySource interface {
	GetKey(ctx context.Context, keyID string) (*rsa.PublicKey, error)
}

// RevocationChecker is the optional collaborator consulted by
// VerifyAndCheckRevoked. It reports the instant before which previously
// issued credentials for a subject are no longer honored.
type RevocationChecker interface {
	ValidSince(ctx context.Context, subject string) (time.Time, bool, error)
}

// Verifier validates one flavor of bearer credential (ID token or session
// cookie) for a single project. It is immutable after construction and
// safe for concurrent use.
type Verifier struct {
	shortName         string
	articledShortName string
	verifyMethod      string
	docURL            string

	issuer    string
	projectID string
	tenantID  string

	invalidCode string
	expiredCode string
	revokedCode string

	keySource KeySource
	emulator  bool
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source used for expiry and issued-at
// checks. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithTenantID requires the token's tenant claim to match exactly.
func WithTenantID(tenantID string) Option {
	return func(v *Verifier) { v.tenantID = tenantID }
}

// WithKeySource replaces the default key cache, e.g. to point the verifier
// at a test issuer's endpoint or to share one cache between verifiers.
func WithKeySource(src KeySource) Option {
	return func(v *Verifier) { v.keySource = src }
}

// WithEmulatorMode accepts unsigned tokens from the local emulator and
// skips all key fetches. Never enable this in production: it disables
// signature verification entirely.
func WithEmulatorMode() Option {
	return func(v *Verifier) { v.emulator = true }
}

// NewIDTokenVerifier builds a verifier for ID tokens issued to projectID.
func NewIDTokenVerifier(projectID string, opts ...Option) (*Verifier, error) {
	return newVerifier(&Verifier{
		shortName:         "ID token",
		articledShortName: "an ID token",
		verifyMethod:      "VerifyIDToken()",
		docURL:            idTokenDocURL,
		issuer:            idTokenIssuerPrefix + projectID,
		projectID:         projectID,
		invalidCode:       "ID_TOKEN_INVALID",
		expiredCode:       "ID_TOKEN_EXPIRED",
		revokedCode:       "ID_TOKEN_REVOKED",
		keySource:         keys.NewCache(idTokenCertURL),
	}, opts)
}

// NewSessionCookieVerifier builds a verifier for session cookies issued to
// projectID.
func NewSessionCookieVerifier(projectID string, opts ...Option) (*Verifier, error) {
	return newVerifier(&Verifier{
		shortName:         "session cookie",
		articledShortName: "a session cookie",
		verifyMethod:      "VerifySessionCookie()",
		docURL:            sessionCookieDocURL,
		issuer:            sessionCookieIssuerPrefix + projectID,
		projectID:         projectID,
		invalidCode:       "SESSION_COOKIE_INVALID",
		expiredCode:       "SESSION_COOKIE_EXPIRED",
		revokedCode:       "SESSION_COOKIE_REVOKED",
		keySource:         keys.NewCache(sessionCookieCertURL),
	}, opts)
}

func newVerifier(v *Verifier, opts []Option) (*Verifier, error) {
	if v.projectID == "" {
		return nil, errors.New("verify: project id is required")
	}
	v.now = time.Now
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ShortName returns the human-facing credential name ("ID token" or
// "session cookie") used in error messages.
func (v *Verifier) ShortName() string { return v.shortName }

// ProjectID returns the project this verifier was built for.
func (v *Verifier) ProjectID() string { return v.projectID }
