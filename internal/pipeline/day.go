package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openbell/openbell/internal/alerts"
	"github.com/openbell/openbell/internal/broker"
	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/exec"
	"github.com/openbell/openbell/internal/journal"
	"github.com/openbell/openbell/internal/observ"
	"github.com/openbell/openbell/internal/risk"
	"github.com/openbell/openbell/internal/scan"
	"github.com/openbell/openbell/internal/sched"
)

// Pipeline runs one trading day end to end: sync the clock, wait for the
// scan window, select a candidate, wait for the execution instant, place the
// one order, then babysit the position until it closes. Every day ends with
// exactly one terminal notification, including days where nothing traded.
type Pipeline struct {
	cfg      config.Root
	clock    *sched.Clock
	timeline *sched.Timeline
	selector *scan.Selector
	risk     *risk.Manager
	executor *exec.Executor
	broker   broker.Broker
	notifier alerts.Notifier
	journal  *journal.Journal
}

func New(cfg config.Root, clock *sched.Clock, timeline *sched.Timeline,
	selector *scan.Selector, rm *risk.Manager, ex *exec.Executor,
	b broker.Broker, n alerts.Notifier, j *journal.Journal) *Pipeline {
	return &Pipeline{
		cfg: cfg, clock: clock, timeline: timeline, selector: selector,
		risk: rm, executor: ex, broker: b, notifier: n, journal: j,
	}
}

// RunDay executes the daily sequence. A day without a trade is a normal
// outcome and returns nil; only infrastructure failures and cancellation
// surface as errors.
func (p *Pipeline) RunDay(ctx context.Context) error {
	now := p.clock.Now()
	day := p.timeline.TradingDay(now)

	// Drift correction first. A failed sync is survivable; the previous
	// offset still applies.
	if err := p.clock.Sync(); err == nil {
		now = p.clock.Now()
	}

	scanAt, err := p.timeline.At(now, p.cfg.Strategy.ScanTime)
	if err != nil {
		return err
	}
	executeAt, err := p.timeline.At(now, p.cfg.Strategy.ExecuteTime)
	if err != nil {
		return err
	}
	endOfDay, err := p.timeline.At(now, p.cfg.Strategy.EndOfDayTime)
	if err != nil {
		return err
	}
	if now.After(executeAt) {
		return fmt.Errorf("pipeline: execution time %s already passed", p.cfg.Strategy.ExecuteTime)
	}

	observ.Log("day_started", map[string]any{
		"day":        day,
		"scan_at":    scanAt.Format(time.RFC3339),
		"execute_at": executeAt.Format(time.RFC3339),
		"broker":     p.broker.Name(),
	})

	if err := p.broker.Authenticate(ctx); err != nil {
		p.noTrade(day, "broker authentication failed")
		return fmt.Errorf("pipeline: %w", err)
	}

	if err := p.clock.WaitUntil(ctx, scanAt); err != nil {
		return err
	}

	sig, attempts, err := p.selector.SelectSignal(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		case errors.Is(err, domain.ErrNoCandidate):
			p.noTrade(day, fmt.Sprintf("no candidate after %d attempts", len(attempts)))
			return nil
		case errors.Is(err, domain.ErrDataUnavailable):
			p.noTrade(day, "market data unavailable")
			return nil
		}
		return err
	}
	if err := p.journal.RecordSignal(ctx, day, sig); err != nil {
		observ.LogError("journal_signal_failed", err, nil)
	}
	p.notifier.Notify(domain.NewEvent(domain.EventSignalFound, map[string]any{
		"symbol": sig.OptionSymbol,
		"reason": fmt.Sprintf("ratio %.2f, change %.2f%%", sig.SentimentRatio, sig.RankScore),
	}))

	// Premium for sizing is fetched before the execution instant so the
	// order path does no extra I/O inside the precision window.
	premium, err := p.broker.GetLastPrice(ctx, sig.OptionSymbol)
	if err != nil {
		p.noTrade(day, "option premium unavailable")
		return nil
	}

	auth := p.risk.Authorize(sig, premium)
	if !auth.Approved {
		p.noTrade(day, "risk rejected: "+auth.Reason)
		return nil
	}

	if err := p.clock.WaitUntil(ctx, executeAt); err != nil {
		return err
	}
	observ.ObserveDuration("execute_overshoot", p.clock.Now().Sub(executeAt), nil)

	pos, err := p.executor.PlaceAndConfirm(ctx, sig, auth)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		p.noTrade(day, "order not filled")
		return nil
	}
	if err := p.journal.UpsertTrade(ctx, day, pos); err != nil {
		observ.LogError("journal_trade_failed", err, nil)
	}

	monErr := p.executor.Monitor(ctx, pos, p.cfg.Strategy, endOfDay)

	// Journal the terminal state regardless of how the monitor ended; the
	// write uses a fresh context because ctx may already be cancelled.
	jctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := p.journal.UpsertTrade(jctx, day, pos); err != nil {
		observ.LogError("journal_trade_failed", err, nil)
	}
	cancel()

	if snap := p.risk.Snapshot(); snap.CircuitBreakerTrip {
		p.notifier.Notify(domain.NewEvent(domain.EventRiskTripped, map[string]any{
			"reason": snap.CircuitBreakReason,
		}))
	}
	observ.Log("day_finished", map[string]any{
		"day":   day,
		"state": string(pos.State),
		"pnl":   pos.RealizedPnL(),
	})
	return monErr
}

// noTrade emits the day's terminal notification for a no-trade outcome.
func (p *Pipeline) noTrade(day, reason string) {
	observ.IncCounter("no_trade_days_total", nil)
	observ.Log("no_trade", map[string]any{"day": day, "reason": reason})
	p.notifier.Notify(domain.NewEvent(domain.EventNoTrade, map[string]any{
		"reason": reason,
	}))
}

// Summary reads back the day's journal for the end-of-day report.
func (p *Pipeline) Summary(ctx context.Context, day string) (journal.DaySummary, error) {
	return p.journal.Summarize(ctx, day)
}
