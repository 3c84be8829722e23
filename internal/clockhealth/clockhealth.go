// Package clockhealth periodically checks the host's wall-clock offset
// against an NTP pool. It gates nothing in the Role State Machine or
// SSDP timers — those run on wall-clock deltas, not NTP-corrected
// time — it exists purely as a diagnostic signal: a host whose clock
// has drifted far enough to matter first shows up as spurious SSDP
// neighbor timeouts or role-election churn, and this is the component
// that would explain why. Grounded on internal/reconcile/ntp.go.
package clockhealth

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"fastsetupd/pkg/sdk/defaults"
)

// Sample is one clock-offset observation.
type Sample struct {
	Offset    time.Duration
	Healthy   bool
	Err       string
	CheckedAt time.Time
}

// Checker periodically queries an NTP pool and records the result.
type Checker struct {
	mu     sync.RWMutex
	sample Sample

	pool      string
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time

	// QueryFunc overrides the real NTP query; set by tests.
	QueryFunc func(pool string) (time.Duration, error)
}

// New creates a Checker with the package defaults (pool.ntp.org, 60s
// interval, 500ms drift threshold).
func New() *Checker {
	return &Checker{
		pool:      defaults.NTPPool,
		interval:  defaults.NTPCheckInterval,
		threshold: defaults.NTPDriftThreshold,
		now:       time.Now,
	}
}

// Run queries once immediately, then on every interval, until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check()
		}
	}
}

// Status returns the most recent sample.
func (c *Checker) Status() Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sample
}

func (c *Checker) check() {
	query := c.QueryFunc
	if query == nil {
		query = func(pool string) (time.Duration, error) {
			resp, err := ntp.Query(pool)
			if err != nil {
				return 0, err
			}
			return resp.ClockOffset, nil
		}
	}

	offset, err := query(c.pool)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.sample = Sample{Err: err.Error(), CheckedAt: now}
		return
	}
	c.sample = Sample{
		Offset:    offset,
		Healthy:   abs(offset) < c.threshold,
		CheckedAt: now,
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
