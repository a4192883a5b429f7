package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openbell/openbell/internal/domain"
)

// Provider is one upstream market-data source. Each provider stamps results
// with its own timestamps; the manager decides whether they are fresh enough
// to use.
type Provider interface {
	Name() string
	GetInstrumentSnapshots(ctx context.Context, symbols []string) ([]domain.InstrumentSnapshot, error)
	GetOptionChain(ctx context.Context, symbol string) (domain.OptionChainSnapshot, error)
}

// FetchError classifies provider failures so the manager can tell transport
// problems from bad data.
type FetchError struct {
	Type     string // "network", "rate_limit", "provider_error", "bad_symbol", "stale", "quality"
	Provider string
	Symbol   string
	Message  string
	Cause    error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s error for %q: %s (%v)", e.Provider, e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s error for %q: %s", e.Provider, e.Type, e.Symbol, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func newNetworkError(provider, symbol, message string, cause error) *FetchError {
	return &FetchError{Type: "network", Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func newProviderError(provider, symbol, message string, cause error) *FetchError {
	return &FetchError{Type: "provider_error", Provider: provider, Symbol: symbol, Message: message, Cause: cause}
}

func newStaleError(provider, symbol string, age time.Duration) *FetchError {
	return &FetchError{Type: "stale", Provider: provider, Symbol: symbol,
		Message: fmt.Sprintf("data too stale: %v", age)}
}

func newQualityError(provider string, missing, requested int) *FetchError {
	return &FetchError{Type: "quality", Provider: provider,
		Message: fmt.Sprintf("%d of %d instruments missing or zero", missing, requested)}
}

// validSnapshot rejects structurally broken snapshots: empty symbol, zero
// prices, negative volume. A zero last price means the provider had nothing.
func validSnapshot(s domain.InstrumentSnapshot) bool {
	if strings.TrimSpace(s.Symbol) == "" {
		return false
	}
	if s.LastPrice <= 0 || s.PrevClose <= 0 {
		return false
	}
	return s.Volume >= 0
}
