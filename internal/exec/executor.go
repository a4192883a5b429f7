package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openbell/openbell/internal/broker"
	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/observ"
	"github.com/openbell/openbell/internal/risk"
)

// Executor owns the order lifecycle: it turns an authorized signal into a
// filled position, then hands it to the monitor. One executor per process;
// the single-position invariant lives in the risk manager, not here.
type Executor struct {
	broker  broker.Broker
	risk    *risk.Manager
	cfg     config.Broker
	monitor config.Monitor
	notify  func(domain.Event)
	now     func() time.Time
}

func New(b broker.Broker, r *risk.Manager, cfg config.Broker, mon config.Monitor, notify func(domain.Event)) *Executor {
	if notify == nil {
		notify = func(domain.Event) {}
	}
	return &Executor{broker: b, risk: r, cfg: cfg, monitor: mon, notify: notify, now: time.Now}
}

// UseClock routes the executor's time checks through the given source,
// typically the offset-corrected scheduler clock. The end-of-day cutoff and
// position timestamps must agree with the clock that computed the cutoff,
// not the raw host clock.
func (e *Executor) UseClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// shortID truncates an id for broker order tags, which have tight length
// limits at the venue.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PlaceAndConfirm places the entry order and waits for the fill. The
// position exists only after a confirmed fill; a rejection, timeout, or
// cancellation leaves no position behind and releases the risk binding.
//
// This is the day's single order attempt. Callers must not retry on error.
func (e *Executor) PlaceAndConfirm(ctx context.Context, sig domain.TradeSignal, auth risk.Authorization) (*domain.Position, error) {
	positionID := uuid.NewString()
	if err := e.risk.BindPosition(positionID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRiskBlocked, err)
	}

	start := time.Now()
	order, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   sig.OptionSymbol,
		Side:     broker.Buy,
		Kind:     broker.Market,
		Quantity: auth.Quantity,
		Tag:      shortID(positionID),
	})
	observ.ObserveDuration("order_place_latency", time.Since(start), nil)
	if err != nil {
		e.risk.ReleasePosition(positionID)
		observ.IncCounter("orders_rejected_total", nil)
		return nil, fmt.Errorf("%w: %v", domain.ErrOrderRejected, err)
	}
	observ.Log("order_placed", map[string]any{
		"order_id": order.ID,
		"symbol":   sig.OptionSymbol,
		"quantity": auth.Quantity,
	})

	order, err = e.awaitFill(ctx, order)
	if err != nil {
		e.resolvePendingOrder(order)
		e.risk.ReleasePosition(positionID)
		observ.IncCounter("orders_rejected_total", nil)
		return nil, err
	}

	pos := &domain.Position{
		ID:           positionID,
		Signal:       sig,
		OrderID:      order.ID,
		Quantity:     order.Quantity,
		EntryPrice:   order.AvgPrice,
		EntryTime:    e.now(),
		CurrentPrice: order.AvgPrice,
		State:        domain.StateOpen,
	}
	observ.IncCounter("orders_filled_total", nil)
	observ.Log("order_filled", map[string]any{
		"order_id": order.ID,
		"symbol":   sig.OptionSymbol,
		"quantity": pos.Quantity,
		"price":    pos.EntryPrice,
	})
	e.notify(domain.NewEvent(domain.EventOrderFilled, map[string]any{
		"symbol":   sig.OptionSymbol,
		"quantity": pos.Quantity,
		"price":    pos.EntryPrice,
	}))
	return pos, nil
}

// awaitFill polls order status until complete, rejected, or the fill window
// expires.
func (e *Executor) awaitFill(ctx context.Context, order broker.Order) (broker.Order, error) {
	if order.Status == broker.StatusComplete {
		return order, nil
	}
	deadline := time.Now().Add(e.cfg.FillTimeout())
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-ticker.C:
		}

		current, err := e.broker.GetOrderStatus(ctx, order.ID)
		if err == nil {
			order = current
		}
		switch order.Status {
		case broker.StatusComplete:
			return order, nil
		case broker.StatusRejected:
			return order, fmt.Errorf("%w: %s", domain.ErrOrderRejected, order.Reason)
		case broker.StatusCancelled:
			return order, fmt.Errorf("%w: cancelled at venue", domain.ErrOrderRejected)
		}
		if time.Now().After(deadline) {
			return order, fmt.Errorf("%w: no fill within %s", domain.ErrOrderRejected, e.cfg.FillTimeout())
		}
	}
}

// resolvePendingOrder cancels an order that never reached a terminal status
// so it cannot fill after we have given up on it. Cancel errors are logged,
// not returned; there is nothing more the caller can do.
func (e *Executor) resolvePendingOrder(order broker.Order) {
	if order.ID == "" || order.Status != broker.StatusPending {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.broker.CancelOrder(ctx, order.ID); err != nil {
		observ.LogError("order_cancel_failed", err, map[string]any{"order_id": order.ID})
		return
	}
	observ.Log("order_cancelled", map[string]any{"order_id": order.ID})
}

// closePosition sells the position at market and books the exit. On broker
// failure during an emergency the position is marked closed anyway with the
// last known price; reconciliation against broker holdings happens at the
// next startup.
func (e *Executor) closePosition(ctx context.Context, pos *domain.Position, reason domain.ExitReason) error {
	order, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   pos.Signal.OptionSymbol,
		Side:     broker.Sell,
		Kind:     broker.Market,
		Quantity: pos.Quantity,
		Tag:      shortID(pos.ID),
	})
	exitPrice := pos.CurrentPrice
	if err != nil {
		if reason != domain.ExitEmergency {
			return fmt.Errorf("close %s: %w", pos.Signal.OptionSymbol, err)
		}
		observ.LogError("emergency_close_unconfirmed", err, map[string]any{
			"position": pos.ID,
		})
	} else {
		if order.Status != broker.StatusComplete {
			order, err = e.awaitFill(ctx, order)
			if err != nil && reason != domain.ExitEmergency {
				return fmt.Errorf("close %s: %w", pos.Signal.OptionSymbol, err)
			}
		}
		if order.AvgPrice > 0 {
			exitPrice = order.AvgPrice
		}
		pos.ExitOrderID = order.ID
	}

	pos.ExitPrice = exitPrice
	pos.ExitTime = e.now()
	pos.ExitReason = reason
	pos.State = domain.StateForExit(reason)

	booked := e.risk.RecordOutcome(pos)
	observ.IncCounter("positions_closed_total", map[string]string{"reason": string(reason)})
	observ.Log("position_closed", map[string]any{
		"position":    pos.ID,
		"symbol":      pos.Signal.OptionSymbol,
		"reason":      string(reason),
		"exit_price":  exitPrice,
		"pnl":         pos.RealizedPnL(),
		"pnl_percent": pos.RealizedPnLPercent(),
		"booked":      booked,
	})
	e.notify(domain.NewEvent(domain.EventPositionClosed, map[string]any{
		"symbol":      pos.Signal.OptionSymbol,
		"reason":      string(reason),
		"price":       exitPrice,
		"pnl":         pos.RealizedPnL(),
		"pnl_percent": pos.RealizedPnLPercent(),
	}))
	return nil
}
