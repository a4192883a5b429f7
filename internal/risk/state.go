package risk

import "time"

// State is the process-wide risk ledger for one trading day. The Manager is
// its single writer; everyone else sees copies via Manager.Snapshot.
type State struct {
	Date               string  `json:"date"` // YYYY-MM-DD
	Capital            float64 `json:"capital"`
	DailyPnL           float64 `json:"daily_pnl"`
	ConsecutiveLosses  int     `json:"consecutive_losses"`
	TradesToday        int     `json:"trades_today"`
	CircuitBreakerTrip bool    `json:"circuit_breaker_tripped"`
	CircuitBreakReason string  `json:"circuit_break_reason,omitempty"`
	EmergencyStop      bool    `json:"emergency_stop"`
	OpenPositionID     string  `json:"open_position_id,omitempty"`
}

func newState(capital float64, now time.Time) State {
	return State{
		Date:    now.UTC().Format("2006-01-02"),
		Capital: capital,
	}
}
