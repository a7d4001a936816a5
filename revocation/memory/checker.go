// Package memorychecker is an in-memory revocation store. It is intended
// as a single-node fallback and for tests; multi-replica deployments
// should use the Redis checker so revocations apply everywhere.
package memorychecker

import (
	"context"
	"sync"
	"time"
)

// Checker satisfies verify.RevocationChecker with a mutex-guarded map.
type Checker struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

func New() *Checker {
	return &Checker{marks: make(map[string]time.Time)}
}

// Revoke invalidates every credential issued to subject before since.
func (c *Checker) Revoke(_ context.Context, subject string, since time.Time) error {
	c.mu.Lock()
	c.marks[subject] = since
	c.mu.Unlock()
	return nil
}

// ValidSince returns the subject's valid-since mark, or ok=false when the
// subject has no revocation entry.
func (c *Checker) ValidSince(_ context.Context, subject string) (time.Time, bool, error) {
	c.mu.RLock()
	mark, ok := c.marks[subject]
	c.mu.RUnlock()
	return mark, ok, nil
}

// Clear removes the subject's revocation entry.
func (c *Checker) Clear(_ context.Context, subject string) error {
	c.mu.Lock()
	delete(c.marks, subject)
	c.mu.Unlock()
	return nil
}
