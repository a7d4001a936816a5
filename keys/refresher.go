package keys

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher keeps a Cache warm by re-fetching the key set on a schedule,
// so steady-state verification calls never pay fetch latency. It is
// optional: a Cache used without one simply refreshes on demand.
type Refresher struct {
	cron    *cron.Cron
	cache   *Cache
	log     *logrus.Logger
	timeout time.Duration
}

// NewRefresher schedules periodic refreshes of cache. The schedule uses
// cron syntax, including descriptors like "@every 30m". A refresh failure
// is logged and retried at the next tick, never fatal.
func NewRefresher(cache *Cache, schedule string, log *logrus.Logger) (*Refresher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Refresher{
		cron:    cron.New(),
		cache:   cache,
		log:     log,
		timeout: 30 * time.Second,
	}
	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("keys: invalid refresh schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Refresher) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.cache.Refresh(ctx); err != nil {
		r.log.WithError(err).WithField("url", r.cache.url).Warn("scheduled key refresh failed")
	}
}

// Start begins the schedule in a background goroutine.
func (r *Refresher) Start() { r.cron.Start() }

// Stop halts the schedule and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}
