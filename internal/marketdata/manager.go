package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/observ"
)

// Manager presents one logical fetch call per data need while trying an
// ordered list of providers. The first provider returning structurally
// valid, non-stale data wins; slow providers are cut off by the per-provider
// timeout so they never block the fallbacks.
type Manager struct {
	providers []Provider
	freshness time.Duration
	timeout   time.Duration
	clock     func() time.Time
}

// NewManager orders providers by the given priority list. Names not present
// in the registry are rejected so a config typo fails loudly at startup.
func NewManager(registry map[string]Provider, priority []string, freshness, timeout time.Duration) (*Manager, error) {
	if len(priority) == 0 {
		return nil, fmt.Errorf("marketdata: empty provider priority order")
	}
	ordered := make([]Provider, 0, len(priority))
	for _, name := range priority {
		p, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("marketdata: unknown provider %q", name)
		}
		ordered = append(ordered, p)
	}
	return &Manager{
		providers: ordered,
		freshness: freshness,
		timeout:   timeout,
		clock:     time.Now,
	}, nil
}

// FetchSnapshots returns snapshots for the universe from the first provider
// that passes validation, staleness, and the quality gate. All providers
// failing maps to ErrDataUnavailable.
func (m *Manager) FetchSnapshots(ctx context.Context, symbols []string) ([]domain.InstrumentSnapshot, error) {
	var lastErr error
	for _, p := range m.providers {
		snaps, err := m.trySnapshots(ctx, p, symbols)
		if err != nil {
			lastErr = err
			observ.IncCounter("fetch_fallbacks_total", map[string]string{"provider": p.Name()})
			observ.LogError("snapshot_fetch_failed", err, map[string]any{"provider": p.Name()})
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return snaps, nil
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrDataUnavailable, lastErr)
}

func (m *Manager) trySnapshots(ctx context.Context, p Provider, symbols []string) ([]domain.InstrumentSnapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.clock()
	observ.IncCounter("fetch_requests_total", map[string]string{"provider": p.Name()})
	snaps, err := p.GetInstrumentSnapshots(cctx, symbols)
	observ.ObserveDuration("fetch_latency", m.clock().Sub(start), map[string]string{"provider": p.Name()})
	if err != nil {
		return nil, err
	}

	now := m.clock()
	good := snaps[:0]
	for _, s := range snaps {
		if !validSnapshot(s) {
			continue
		}
		if s.Age(now) > m.freshness {
			continue
		}
		good = append(good, s)
	}

	// Quality gate: a response missing a majority of the requested universe
	// is a failure, not a partial success. A half-stale provider must not
	// corrupt ranking.
	missing := len(symbols) - len(good)
	if missing*2 > len(symbols) {
		return nil, newQualityError(p.Name(), missing, len(symbols))
	}

	observ.IncCounter("fetch_successes_total", map[string]string{"provider": p.Name()})
	return good, nil
}

// FetchOptionChain returns the chain for one underlying from the first
// provider with a fresh, non-empty chain.
func (m *Manager) FetchOptionChain(ctx context.Context, symbol string) (domain.OptionChainSnapshot, error) {
	var lastErr error
	for _, p := range m.providers {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		chain, err := p.GetOptionChain(cctx, symbol)
		cancel()
		if err == nil {
			if len(chain.Strikes) == 0 {
				err = newProviderError(p.Name(), symbol, "empty option chain", nil)
			} else if age := m.clock().Sub(chain.Timestamp); age > m.freshness {
				err = newStaleError(p.Name(), symbol, age)
			}
		}
		if err != nil {
			lastErr = err
			observ.LogError("chain_fetch_failed", err, map[string]any{
				"provider": p.Name(), "symbol": symbol,
			})
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return chain, nil
	}
	return domain.OptionChainSnapshot{}, fmt.Errorf("%w: %w", domain.ErrDataUnavailable, lastErr)
}
