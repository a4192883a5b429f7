package domain

import "time"

// PositionState is a node in the execution state machine.
//
//	PendingOrder -> Open -> Closed*
//
// Transitions are monotonic: once a Closed* state is reached the position is
// terminal and never mutated again. The only shortcut is the emergency stop,
// which may force any non-terminal state straight to ClosedEmergency.
type PositionState string

const (
	StatePendingOrder    PositionState = "pending_order"
	StateOpen            PositionState = "open"
	StateClosedTarget    PositionState = "closed_target"
	StateClosedStopLoss  PositionState = "closed_stop_loss"
	StateClosedTimeLimit PositionState = "closed_time_limit"
	StateClosedEmergency PositionState = "closed_emergency"
	StateClosedManual    PositionState = "closed_manual"
)

// Terminal reports whether the state is a Closed* state.
func (s PositionState) Terminal() bool {
	switch s {
	case StateClosedTarget, StateClosedStopLoss, StateClosedTimeLimit,
		StateClosedEmergency, StateClosedManual:
		return true
	}
	return false
}

// ExitReason labels why a position was closed.
type ExitReason string

const (
	ExitTarget    ExitReason = "target"
	ExitStopLoss  ExitReason = "stop_loss"
	ExitTimeLimit ExitReason = "time_limit"
	ExitEmergency ExitReason = "emergency"
	ExitManual    ExitReason = "manual"
)

// StateForExit maps an exit reason to its terminal state.
func StateForExit(r ExitReason) PositionState {
	switch r {
	case ExitTarget:
		return StateClosedTarget
	case ExitStopLoss:
		return StateClosedStopLoss
	case ExitTimeLimit:
		return StateClosedTimeLimit
	case ExitManual:
		return StateClosedManual
	default:
		return StateClosedEmergency
	}
}

// Position is the one live trade of the day. Created when a fill is
// confirmed; CurrentPrice is mutated only by the position monitor.
type Position struct {
	ID          string        `json:"id"`
	Signal      TradeSignal   `json:"signal"`
	OrderID     string        `json:"order_id"`
	Quantity    int           `json:"quantity"`
	EntryPrice  float64       `json:"entry_price"`
	EntryTime   time.Time     `json:"entry_time"`
	CurrentPrice float64      `json:"current_price"`
	State       PositionState `json:"state"`
	ExitReason  ExitReason    `json:"exit_reason,omitempty"`
	ExitPrice   float64       `json:"exit_price,omitempty"`
	ExitTime    time.Time     `json:"exit_time,omitempty"`
	ExitOrderID string        `json:"exit_order_id,omitempty"`
}

// UnrealizedPnL is the mark-to-market P&L against CurrentPrice.
func (p *Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * float64(p.Quantity)
}

// UnrealizedPnLPercent is the per-unit P&L as a percent of entry price.
func (p *Position) UnrealizedPnLPercent() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// RealizedPnL is the booked P&L after exit. Zero until terminal.
func (p *Position) RealizedPnL() float64 {
	if !p.State.Terminal() {
		return 0
	}
	return (p.ExitPrice - p.EntryPrice) * float64(p.Quantity)
}

// RealizedPnLPercent is the booked per-unit P&L as a percent of entry.
func (p *Position) RealizedPnLPercent() float64 {
	if !p.State.Terminal() || p.EntryPrice == 0 {
		return 0
	}
	return (p.ExitPrice - p.EntryPrice) / p.EntryPrice * 100
}
