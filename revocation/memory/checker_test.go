package memorychecker

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRevokeAndClear(t *testing.T) {
	c := New()
	ctx := context.Background()
	mark := time.Unix(1700000000, 0)

	if _, ok, err := c.ValidSince(ctx, "user-1"); err != nil || ok {
		t.Fatalf("expected no entry, got ok=%v err=%v", ok, err)
	}

	if err := c.Revoke(ctx, "user-1", mark); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, ok, err := c.ValidSince(ctx, "user-1")
	if err != nil || !ok {
		t.Fatalf("expected entry, got ok=%v err=%v", ok, err)
	}
	if !got.Equal(mark) {
		t.Errorf("expected %v, got %v", mark, got)
	}

	// Other subjects are unaffected.
	if _, ok, _ := c.ValidSince(ctx, "user-2"); ok {
		t.Error("unrelated subject has an entry")
	}

	if err := c.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := c.ValidSince(ctx, "user-1"); ok {
		t.Error("entry survived Clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Revoke(ctx, "user-1", time.Now())
			_, _, _ = c.ValidSince(ctx, "user-1")
		}()
	}
	wg.Wait()
}
