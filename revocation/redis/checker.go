// Package redischecker is a Redis-backed revocation store, for deployments
// where many service replicas must agree on revocation state.
package redischecker

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker records, per subject, the instant before which previously issued
// credentials are no longer honored. It satisfies verify.RevocationChecker.
type Checker struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

// New builds a checker on rdb. Entries expire after ttl, which should be
// at least the longest credential lifetime in use (revoking older than any
// live credential is a no-op anyway).
func New(rdb *redis.Client, keyPrefix string, ttl time.Duration) *Checker {
	if keyPrefix == "" {
		keyPrefix = "auth:revoked:"
	}
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &Checker{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (c *Checker) key(subject string) string { return c.keyNS + subject }

// Revoke invalidates every credential issued to subject before since.
// Typically called with the current time when a user logs out everywhere
// or their account is disabled.
func (c *Checker) Revoke(ctx context.Context, subject string, since time.Time) error {
	return c.rdb.Set(ctx, c.key(subject), strconv.FormatInt(since.Unix(), 10), c.ttl).Err()
}

// ValidSince returns the subject's valid-since mark, or ok=false when the
// subject has no revocation entry.
func (c *Checker) ValidSince(ctx context.Context, subject string) (time.Time, bool, error) {
	val, err := c.rdb.Get(ctx, c.key(subject)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(sec, 0), true, nil
}

// Clear removes the subject's revocation entry.
func (c *Checker) Clear(ctx context.Context, subject string) error {
	return c.rdb.Del(ctx, c.key(subject)).Err()
}
