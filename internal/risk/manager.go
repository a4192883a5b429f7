package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/observ"
)

// Manager gates every order and every exit against capital-preservation
// rules. It owns the day's State and performs no I/O of its own; closing a
// position is the monitor's job.
type Manager struct {
	mu    sync.Mutex
	cfg   config.Risk
	state State

	recorded map[string]bool // position IDs already booked

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Authorization is the result of an Authorize call.
type Authorization struct {
	Approved bool
	Quantity int
	Value    float64
	Reason   string // set when rejected
}

func NewManager(cfg config.Risk, now time.Time) *Manager {
	return &Manager{
		cfg:      cfg,
		state:    newState(cfg.Capital, now),
		recorded: map[string]bool{},
		stopCh:   make(chan struct{}),
	}
}

// Authorize sizes a position for the signal at the given entry price and
// approves or rejects it. Rejections are normal control flow, not errors.
func (m *Manager) Authorize(sig domain.TradeSignal, entryPrice float64) Authorization {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason := m.blockedReason(); reason != "" {
		observ.IncCounter("risk_rejections_total", map[string]string{"reason": reason})
		observ.Log("authorize_rejected", map[string]any{
			"underlying": sig.Underlying, "reason": reason,
		})
		return Authorization{Reason: reason}
	}
	if entryPrice <= 0 {
		return Authorization{Reason: "invalid_price"}
	}

	available := m.state.Capital + math.Min(m.state.DailyPnL, 0)
	budget := available * m.cfg.MaxRiskPerTradePercent / 100
	if budget > m.cfg.MaxPositionValue {
		budget = m.cfg.MaxPositionValue
	}
	qty := int(budget / entryPrice)
	if qty <= 0 {
		observ.IncCounter("risk_rejections_total", map[string]string{"reason": "size_zero"})
		return Authorization{Reason: "size_zero"}
	}

	auth := Authorization{
		Approved: true,
		Quantity: qty,
		Value:    float64(qty) * entryPrice,
	}
	observ.Log("authorize_approved", map[string]any{
		"underlying": sig.Underlying,
		"quantity":   auth.Quantity,
		"value":      auth.Value,
	})
	return auth
}

// blockedReason must be called with the lock held.
func (m *Manager) blockedReason() string {
	switch {
	case m.state.EmergencyStop:
		return "emergency_stop"
	case m.state.CircuitBreakerTrip:
		return "circuit_breaker"
	case m.state.DailyPnL <= -m.cfg.MaxDailyLoss:
		return "daily_loss_limit"
	case m.state.OpenPositionID != "":
		return "position_exists"
	}
	return ""
}

// BindPosition marks the day's one position as live. Fails if another is
// already bound; the max-positions invariant is enforced here, not by
// callers remembering to check.
func (m *Manager) BindPosition(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.OpenPositionID != "" && m.state.OpenPositionID != id {
		return fmt.Errorf("position %s already open", m.state.OpenPositionID)
	}
	m.state.OpenPositionID = id
	return nil
}

// ReleasePosition clears the binding without booking P&L. Used when a
// pending order never fills.
func (m *Manager) ReleasePosition(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.OpenPositionID == id {
		m.state.OpenPositionID = ""
	}
}

// RecordOutcome books a terminal position into the day's ledger. A second
// call for the same position is a no-op; P&L is never double-counted.
// Returns true when the outcome was booked.
func (m *Manager) RecordOutcome(pos *domain.Position) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !pos.State.Terminal() {
		observ.Log("record_outcome_ignored", map[string]any{
			"position": pos.ID, "state": string(pos.State),
		})
		return false
	}
	if m.recorded[pos.ID] {
		observ.Log("record_outcome_duplicate", map[string]any{"position": pos.ID})
		return false
	}
	m.recorded[pos.ID] = true

	pnl := pos.RealizedPnL()
	m.state.DailyPnL += pnl
	m.state.TradesToday++
	if m.state.OpenPositionID == pos.ID {
		m.state.OpenPositionID = ""
	}
	if pnl < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}

	if !m.state.CircuitBreakerTrip {
		switch {
		case m.state.DailyPnL <= -m.cfg.MaxDailyLoss:
			m.tripLocked(fmt.Sprintf("daily loss %.2f breached limit %.2f", m.state.DailyPnL, m.cfg.MaxDailyLoss))
		case m.state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses:
			m.tripLocked(fmt.Sprintf("%d consecutive losses", m.state.ConsecutiveLosses))
		}
	}

	observ.Log("outcome_recorded", map[string]any{
		"position":  pos.ID,
		"pnl":       pnl,
		"daily_pnl": m.state.DailyPnL,
		"losses":    m.state.ConsecutiveLosses,
	})
	return true
}

func (m *Manager) tripLocked(reason string) {
	m.state.CircuitBreakerTrip = true
	m.state.CircuitBreakReason = reason
	observ.IncCounter("circuit_breaker_trips_total", nil)
	observ.Log("circuit_breaker_tripped", map[string]any{"reason": reason})
}

// TriggerEmergencyStop flips the process-wide stop flag. Safe to call from
// any goroutine and idempotent; the Done channel closes exactly once.
func (m *Manager) TriggerEmergencyStop(reason string) {
	m.mu.Lock()
	m.state.EmergencyStop = true
	m.mu.Unlock()
	m.stopOnce.Do(func() {
		close(m.stopCh)
		observ.Log("emergency_stop_triggered", map[string]any{"reason": reason})
	})
}

// EmergencyStopped reports the stop flag without blocking.
func (m *Manager) EmergencyStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.EmergencyStop
}

// Done returns a channel closed when the emergency stop fires. Pollers
// select on it so the stop preempts within one poll interval.
func (m *Manager) Done() <-chan struct{} {
	return m.stopCh
}

// Snapshot returns a copy of the current risk state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ResetDay reinitializes the ledger at day rollover. The emergency stop is
// deliberately not cleared; a stopped process stays stopped until restarted.
func (m *Manager) ResetDay(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stopped := m.state.EmergencyStop
	m.state = newState(m.cfg.Capital, now)
	m.state.EmergencyStop = stopped
	m.recorded = map[string]bool{}
	observ.Log("risk_day_reset", map[string]any{"date": m.state.Date})
}
