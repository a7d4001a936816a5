// Package tokentest provides a mock identity backend for testing services
// that verify tokenkit credentials. It runs an HTTP server publishing the
// signing keys in every response shape the key cache understands, and
// mints ID tokens, session cookies, and unsigned emulator tokens that
// validate against those keys.
//
// Example usage:
//
//	issuer := tokentest.NewIssuer("proj-1")
//	defer issuer.Close()
//
//	v, _ := verify.NewIDTokenVerifier("proj-1",
//		verify.WithKeySource(keys.NewCache(issuer.CertURL())))
//	token, err := v.Verify(ctx, issuer.IDToken("user-1"))
package tokentest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	idTokenIssuerPrefix       = "https://securetoken.google.com/"
	sessionCookieIssuerPrefix = "https://session.firebase.google.com/"
)

// Issuer is a fake identity backend. Create with NewIssuer and Close when
// done.
type Issuer struct {
	server    *httptest.Server
	projectID string

	// Now supplies claim timestamps; override for deterministic tokens.
	Now func() time.Time

	// MaxAge is the Cache-Control max-age advertised on key responses.
	// Zero omits the header so clients fall back to their own TTL.
	MaxAge time.Duration

	mu      sync.Mutex
	key     *rsa.PrivateKey
	keyID   string
	fetches atomic.Int64
}

// NewIssuer creates an issuer for projectID with a fresh RSA keypair.
func NewIssuer(projectID string) *Issuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("tokentest: generate RSA key: " + err.Error())
	}

	iss := &Issuer{
		projectID: projectID,
		Now:       time.Now,
		MaxAge:    6 * time.Hour,
		key:       key,
		keyID:     "test-key-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/x509", iss.handleCertMap)
	mux.HandleFunc("/keys", iss.handleRawKeyMap)
	mux.HandleFunc("/jwks", iss.handleJWKS)

	iss.server = httptest.NewServer(mux)
	return iss
}

// CertURL serves the key set as a kid→X.509-certificate PEM map.
func (iss *Issuer) CertURL() string { return iss.server.URL + "/x509" }

// RawKeysURL serves the key set as a kid→public-key PEM map.
func (iss *Issuer) RawKeysURL() string { return iss.server.URL + "/keys" }

// JWKSURL serves the key set as a JWKS document.
func (iss *Issuer) JWKSURL() string { return iss.server.URL + "/jwks" }

// ProjectID returns the project this issuer mints credentials for.
func (iss *Issuer) ProjectID() string { return iss.projectID }

// KeyID returns the kid of the current signing key.
func (iss *Issuer) KeyID() string {
	iss.mu.Lock()
	defer iss.mu.Unlock()
	return iss.keyID
}

// FetchCount reports how many key requests the server has answered, so
// tests can assert cache hits and emulator-mode fetch avoidance.
func (iss *Issuer) FetchCount() int64 { return iss.fetches.Load() }

// Rotate replaces the signing key under a new kid. Tokens minted before
// the rotation no longer validate against the served key set.
func (iss *Issuer) Rotate(newKeyID string) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("tokentest: generate RSA key: " + err.Error())
	}
	iss.mu.Lock()
	iss.key = key
	iss.keyID = newKeyID
	iss.mu.Unlock()
}

// Close shuts down the key server.
func (iss *Issuer) Close() { iss.server.Close() }

// TokenOpt customizes a minted token, typically to make it deliberately
// invalid.
type TokenOpt func(*tokenSpec)

type tokenSpec struct {
	issuer   string
	audience string
	keyID    string
	issuedAt time.Time
	expires  time.Time
	tenant   string
	claims   map[string]any
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOpt {
	return func(s *tokenSpec) { s.issuer = issuer }
}

// WithAudience overrides the audience claim.
func WithAudience(audience string) TokenOpt {
	return func(s *tokenSpec) { s.audience = audience }
}

// WithKeyID overrides the kid header. An empty string removes it.
func WithKeyID(keyID string) TokenOpt {
	return func(s *tokenSpec) { s.keyID = keyID }
}

// WithIssuedAt overrides the iat claim.
func WithIssuedAt(at time.Time) TokenOpt {
	return func(s *tokenSpec) { s.issuedAt = at }
}

// WithExpiry overrides the exp claim.
func WithExpiry(at time.Time) TokenOpt {
	return func(s *tokenSpec) { s.expires = at }
}

// WithTenant scopes the token to a tenant.
func WithTenant(tenantID string) TokenOpt {
	return func(s *tokenSpec) { s.tenant = tenantID }
}

// WithClaim adds a custom claim.
func WithClaim(name string, value any) TokenOpt {
	return func(s *tokenSpec) { s.claims[name] = value }
}

// IDToken mints a signed ID token for subject.
func (iss *Issuer) IDToken(subject string, opts ...TokenOpt) string {
	return iss.mint(idTokenIssuerPrefix+iss.projectID, subject, opts)
}

// SessionCookie mints a signed session cookie for subject.
func (iss *Issuer) SessionCookie(subject string, opts ...TokenOpt) string {
	return iss.mint(sessionCookieIssuerPrefix+iss.projectID, subject, opts)
}

func (iss *Issuer) spec(issuer, subject string, opts []TokenOpt) *tokenSpec {
	now := iss.Now()
	s := &tokenSpec{
		issuer:   issuer,
		audience: iss.projectID,
		keyID:    iss.KeyID(),
		issuedAt: now,
		expires:  now.Add(time.Hour),
		claims:   map[string]any{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *tokenSpec) buildClaims(subject string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": s.issuer,
		"aud": s.audience,
		"sub": subject,
		"iat": s.issuedAt.Unix(),
		"exp": s.expires.Unix(),
		"jti": uuid.NewString(),
	}
	if s.tenant != "" {
		claims["firebase"] = map[string]any{"tenant": s.tenant}
	}
	for name, value := range s.claims {
		claims[name] = value
	}
	return claims
}

func (iss *Issuer) mint(issuer, subject string, opts []TokenOpt) string {
	s := iss.spec(issuer, subject, opts)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, s.buildClaims(subject))
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	} else {
		delete(token.Header, "kid")
	}

	iss.mu.Lock()
	key := iss.key
	iss.mu.Unlock()

	signed, err := token.SignedString(key)
	if err != nil {
		panic("tokentest: sign token: " + err.Error())
	}
	return signed
}

// EmulatorToken mints an unsigned token the way the local emulator does:
// alg "none", no kid, empty signature segment.
func (iss *Issuer) EmulatorToken(subject string, opts ...TokenOpt) string {
	s := iss.spec(idTokenIssuerPrefix+iss.projectID, subject, opts)

	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	if err != nil {
		panic("tokentest: marshal header: " + err.Error())
	}
	payload, err := json.Marshal(s.buildClaims(subject))
	if err != nil {
		panic("tokentest: marshal claims: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

func (iss *Issuer) writeKeyResponse(w http.ResponseWriter, body []byte) {
	iss.fetches.Add(1)
	w.Header().Set("Content-Type", "application/json")
	if iss.MaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, must-revalidate", int(iss.MaxAge.Seconds())))
	}
	_, _ = w.Write(body)
}

func (iss *Issuer) handleCertMap(w http.ResponseWriter, _ *http.Request) {
	iss.mu.Lock()
	key, kid := iss.key, iss.keyID
	iss.mu.Unlock()

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tokentest"},
		NotBefore:    iss.Now().Add(-time.Hour),
		NotAfter:     iss.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	body, _ := json.Marshal(map[string]string{kid: string(certPEM)})
	iss.writeKeyResponse(w, body)
}

func (iss *Issuer) handleRawKeyMap(w http.ResponseWriter, _ *http.Request) {
	iss.mu.Lock()
	key, kid := iss.key, iss.keyID
	iss.mu.Unlock()

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	body, _ := json.Marshal(map[string]string{kid: string(keyPEM)})
	iss.writeKeyResponse(w, body)
}

// jwkKey carries the minimal RSA JWK fields.
type jwkKey struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (iss *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	iss.mu.Lock()
	key, kid := iss.key, iss.keyID
	iss.mu.Unlock()

	pub := &key.PublicKey
	doc := struct {
		Keys []jwkKey `json:"keys"`
	}{
		Keys: []jwkKey{{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: "RS256",
			N:   base64URLEncode(pub.N),
			E:   base64URLEncode(big.NewInt(int64(pub.E))),
		}},
	}
	body, _ := json.Marshal(doc)
	iss.writeKeyResponse(w, body)
}

func base64URLEncode(i *big.Int) string {
	b := i.Bytes()
	// Remove leading zeros for canonical form
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
