// Package keys maintains the rotating public-key set published by the
// identity backend. Keys are fetched over HTTP, cached in memory, and
// refreshed when the Cache-Control freshness window lapses.
package keys

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httpcc"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ErrNotFound is returned by GetKey when the key id is absent from a
// freshly refreshed key set. Signing keys rotate, so this is an expected
// failure for tokens signed with a retired key.
var ErrNotFound = errors.New("keys: key id not found")

// DefaultFallbackTTL is how long a fetched key set is considered fresh
// when the source sends no Cache-Control max-age.
const DefaultFallbackTTL = time.Hour

// snapshot is an immutable key set plus its freshness deadline. The cache
// swaps whole snapshots so readers never observe a partially updated set.
type snapshot struct {
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

// Cache fetches and caches the key set served at a single URL. The zero
// value is not usable; construct with NewCache. Safe for concurrent use.
type Cache struct {
	url         string
	client      *http.Client
	fallbackTTL time.Duration
	now         func() time.Time

	mu   sync.RWMutex
	snap *snapshot
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithHTTPClient replaces the HTTP client used for fetches. The client's
// timeout policy applies to every refresh.
func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *Cache) { c.client = client }
}

// WithFallbackTTL sets the freshness window used when the key source sends
// no Cache-Control max-age.
func WithFallbackTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.fallbackTTL = ttl }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache builds a cache for the key set served at url. No fetch happens
// until the first lookup (or an explicit Refresh).
func NewCache(url string, opts ...CacheOption) *Cache {
	c := &Cache{
		url:         url,
		client:      http.DefaultClient,
		fallbackTTL: DefaultFallbackTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKey returns the public key for keyID, refreshing the cached set first
// if it is stale or missing the id. A post-refresh miss returns an error
// matching ErrNotFound; fetch and parse failures are returned as-is.
//
// Concurrent callers may race to refresh; the loser's snapshot simply
// overwrites the winner's equivalent one, which is harmless.
func (c *Cache) GetKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	now := c.now()

	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap != nil && now.Before(snap.expiresAt) {
		if key, ok := snap.keys[keyID]; ok {
			return key, nil
		}
	}

	snap, err := c.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := snap.keys[keyID]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, keyID)
}

// Refresh force-fetches the key set regardless of freshness. Background
// refreshers use this to keep the cache warm.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.refresh(ctx)
	return err
}

func (c *Cache) refresh(ctx context.Context) (*snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: build request for %s: %w", c.url, err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keys: fetch %s: %w", c.url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keys: fetch %s: unexpected status %d", c.url, res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("keys: read response from %s: %w", c.url, err)
	}

	parsed, err := parseKeySet(body)
	if err != nil {
		return nil, fmt.Errorf("keys: parse response from %s: %w", c.url, err)
	}

	snap := &snapshot{
		keys:      parsed,
		expiresAt: c.now().Add(c.freshnessWindow(res)),
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	return snap, nil
}

func (c *Cache) freshnessWindow(res *http.Response) time.Duration {
	directives, err := httpcc.ParseResponse(res.Header.Get("Cache-Control"))
	if err != nil {
		return c.fallbackTTL
	}
	if maxAge, ok := directives.MaxAge(); ok {
		return time.Duration(maxAge) * time.Second
	}
	return c.fallbackTTL
}

// parseKeySet decodes the fetched document in whichever of the three
// supported shapes it arrives: a JWKS document, a kid→X.509-certificate
// PEM map, or a kid→public-key PEM map.
func parseKeySet(body []byte) (map[string]*rsa.PublicKey, error) {
	var probe struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if probe.Keys != nil {
		return parseJWKS(body)
	}
	return parsePEMMap(body)
}

func parseJWKS(body []byte) (map[string]*rsa.PublicKey, error) {
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("invalid JWKS document: %w", err)
	}
	out := make(map[string]*rsa.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || key.KeyType() != jwa.RSA || key.KeyID() == "" {
			continue
		}
		var pub rsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("materialize JWK %q: %w", key.KeyID(), err)
		}
		out[key.KeyID()] = &pub
	}
	if len(out) == 0 {
		return nil, errors.New("JWKS document contains no usable RSA keys")
	}
	return out, nil
}

func parsePEMMap(body []byte) (map[string]*rsa.PublicKey, error) {
	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("expected a key-id to PEM map: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("key map is empty")
	}
	out := make(map[string]*rsa.PublicKey, len(raw))
	for kid, pemStr := range raw {
		pub, err := parsePEMKey([]byte(pemStr))
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kid, err)
		}
		out[kid] = pub
	}
	return out, nil
}

func parsePEMKey(pemBytes []byte) (*rsa.PublicKey, error) {
	blk, _ := pem.Decode(pemBytes)
	if blk == nil {
		return nil, errors.New("not PEM encoded")
	}
	switch blk.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(blk.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate does not embed an RSA public key")
		}
		return pub, nil
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(blk.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		pub, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(blk.Bytes)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", blk.Type)
	}
}
