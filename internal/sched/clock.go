package sched

import (
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/openbell/openbell/internal/observ"
)

// Clock is an offset-corrected wall clock. The process clock is never
// adjusted; instead the NTP offset is applied to every reading, so a host
// with minutes of drift still fires orders on the exchange second.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
	synced time.Time

	server string
	query  func(server string) (time.Duration, error)
}

func NewClock(server string) *Clock {
	return &Clock{
		server: server,
		query: func(server string) (time.Duration, error) {
			resp, err := ntp.Query(server)
			if err != nil {
				return 0, err
			}
			if err := resp.Validate(); err != nil {
				return 0, err
			}
			return resp.ClockOffset, nil
		},
	}
}

// NewOfflineClock returns a clock that reports zero offset without ever
// touching the network. Used by rehearsal tooling and tests.
func NewOfflineClock() *Clock {
	return &Clock{
		server: "offline",
		query:  func(string) (time.Duration, error) { return 0, nil },
	}
}

// Sync queries the NTP server and stores the measured offset. On failure the
// previous offset is kept; a stale offset beats resetting to an unknown one.
func (c *Clock) Sync() error {
	offset, err := c.query(c.server)
	if err != nil {
		observ.IncCounter("ntp_sync_failures_total", nil)
		observ.LogError("ntp_sync_failed", err, map[string]any{"server": c.server})
		return err
	}

	c.mu.Lock()
	c.offset = offset
	c.synced = time.Now()
	c.mu.Unlock()

	observ.SetGauge("ntp_offset_ms", float64(offset.Milliseconds()), nil)
	fields := map[string]any{"server": c.server, "offset_ms": offset.Milliseconds()}
	if offset > time.Second || offset < -time.Second {
		fields["warning"] = "system clock drift exceeds one second"
	}
	observ.Log("ntp_synced", fields)
	return nil
}

// Now returns the offset-corrected time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Offset returns the last measured clock offset.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// LastSync returns when the offset was last refreshed; zero if never.
func (c *Clock) LastSync() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}
