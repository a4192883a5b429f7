package exec

import (
	"context"
	"time"

	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/observ"
)

// Monitor polls the open position until it reaches a terminal state and
// returns it closed. Exit checks run in strict priority order on every poll:
// emergency stop first, then profit target, then stop loss, then the
// end-of-day cutoff. The emergency stop also preempts between polls via the
// risk manager's Done channel, so it acts within one poll interval even
// when prices are quiet.
func (e *Executor) Monitor(ctx context.Context, pos *domain.Position, strat config.Strategy, endOfDay time.Time) error {
	ticker := time.NewTicker(e.monitor.PollInterval())
	defer ticker.Stop()

	failures := 0
	closeFailures := 0
	polls := 0

	for {
		select {
		case <-ctx.Done():
			// External shutdown with a live position routes through the
			// emergency exit; leaving it open unattended is never an option.
			return e.emergencyExit(pos, "shutdown requested")
		case <-e.risk.Done():
			return e.emergencyExit(pos, "emergency stop")
		case <-ticker.C:
		}

		if e.risk.EmergencyStopped() {
			return e.emergencyExit(pos, "emergency stop")
		}

		polls++
		observ.IncCounter("monitor_polls_total", nil)

		price, err := e.broker.GetLastPrice(ctx, pos.Signal.OptionSymbol)
		if err != nil {
			failures++
			observ.IncCounter("monitor_poll_errors_total", nil)
			observ.LogError("monitor_poll_failed", err, map[string]any{
				"position": pos.ID, "failures": failures,
			})
			if failures >= e.monitor.MaxPollFailures {
				// Flying blind. Close at the last known price rather than
				// hold an unwatched position.
				e.risk.TriggerEmergencyStop("price feed lost")
				return e.emergencyExit(pos, "price feed lost")
			}
			continue
		}
		failures = 0
		pos.CurrentPrice = price

		pnlPct := pos.UnrealizedPnLPercent()
		observ.SetGauge("position_pnl_percent", pnlPct, nil)

		var exit domain.ExitReason
		switch {
		case pnlPct >= strat.ProfitTargetPercent:
			exit = domain.ExitTarget
		case pnlPct <= strat.StopLossPercent:
			exit = domain.ExitStopLoss
		case !e.now().Before(endOfDay):
			exit = domain.ExitTimeLimit
		}
		if exit != "" {
			err := e.closePosition(ctx, pos, exit)
			if err == nil {
				return nil
			}
			// A failed close must never abandon the position. Keep the
			// monitor alive, retry on the next poll, and force an emergency
			// exit once the broker stays unreachable past the bound.
			closeFailures++
			observ.IncCounter("close_order_errors_total", nil)
			observ.LogError("close_order_failed", err, map[string]any{
				"position": pos.ID, "reason": string(exit), "failures": closeFailures,
			})
			if closeFailures >= e.monitor.MaxPollFailures {
				e.risk.TriggerEmergencyStop("close order failed")
				return e.emergencyExit(pos, "close order failed")
			}
			continue
		}

		if e.monitor.UpdateEveryNPolls > 0 && polls%e.monitor.UpdateEveryNPolls == 0 {
			e.notify(domain.NewEvent(domain.EventPositionUpdate, map[string]any{
				"symbol":      pos.Signal.OptionSymbol,
				"price":       price,
				"pnl":         pos.UnrealizedPnL(),
				"pnl_percent": pnlPct,
			}))
		}
	}
}

// emergencyExit forces the position closed with a short deadline detached
// from the caller's context, which may already be cancelled.
func (e *Executor) emergencyExit(pos *domain.Position, reason string) error {
	if pos.State.Terminal() {
		return nil
	}
	observ.Log("emergency_exit", map[string]any{"position": pos.ID, "reason": reason})
	e.notify(domain.NewEvent(domain.EventEmergencyStop, map[string]any{
		"symbol": pos.Signal.OptionSymbol,
		"reason": reason,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.closePosition(ctx, pos, domain.ExitEmergency)
}
