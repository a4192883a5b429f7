package sched

import (
	"fmt"
	"time"
)

// Timeline resolves "HH:MM:SS" exchange-local times to instants on a given
// trading day.
type Timeline struct {
	loc *time.Location
}

func NewTimeline(timezone string) (*Timeline, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	return &Timeline{loc: loc}, nil
}

func (t *Timeline) Location() *time.Location { return t.loc }

// At returns the instant of clockTime ("HH:MM:SS") on the same local day
// as ref.
func (t *Timeline) At(ref time.Time, clockTime string) (time.Time, error) {
	parsed, err := time.Parse("15:04:05", clockTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeline: parse %q: %w", clockTime, err)
	}
	local := ref.In(t.loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, t.loc), nil
}

// TradingDay formats ref as the journal's date key.
func (t *Timeline) TradingDay(ref time.Time) string {
	return ref.In(t.loc).Format("2006-01-02")
}
