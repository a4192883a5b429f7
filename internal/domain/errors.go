package domain

import "errors"

// Error taxonomy for the daily pipeline. Components wrap these with %w so
// callers can branch with errors.Is regardless of where the failure surfaced.
var (
	// ErrDataUnavailable: every provider failed or returned stale data.
	// Aborts the cycle with no trade.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrNoCandidate: the attempt budget was exhausted without an accepted
	// signal. Not a failure, just no trade today.
	ErrNoCandidate = errors.New("no candidate accepted")

	// ErrOrderRejected: the broker declined or timed out the entry order.
	// Ends the day's trading, no retry.
	ErrOrderRejected = errors.New("order rejected")

	// ErrBrokerUnreachable: transient broker failure. Retried a bounded
	// number of times during monitoring, then escalated to emergency exit.
	ErrBrokerUnreachable = errors.New("broker unreachable")

	// ErrRiskBlocked: authorization denied. Logged, not surfaced as a
	// failure to the user.
	ErrRiskBlocked = errors.New("blocked by risk manager")
)
