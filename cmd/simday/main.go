package main

// simday compresses a full trading day into under a minute against the sim
// data provider and the paper broker. Used to rehearse the whole pipeline,
// scan through exit, without touching a real venue or waiting for 09:15.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openbell/openbell/internal/alerts"
	"github.com/openbell/openbell/internal/broker"
	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/exec"
	"github.com/openbell/openbell/internal/journal"
	"github.com/openbell/openbell/internal/marketdata"
	"github.com/openbell/openbell/internal/observ"
	"github.com/openbell/openbell/internal/pipeline"
	"github.com/openbell/openbell/internal/risk"
	"github.com/openbell/openbell/internal/scan"
	"github.com/openbell/openbell/internal/sched"
)

func main() {
	var (
		seed    = flag.Int64("seed", 42, "rng seed for the sim provider and paper fills")
		horizon = flag.Duration("horizon", 45*time.Second, "compressed session length")
	)
	flag.Parse()

	if err := run(*seed, *horizon); err != nil {
		observ.LogError("fatal", err, nil)
		os.Exit(1)
	}
}

func run(seed int64, horizon time.Duration) error {
	timeline, err := sched.NewTimeline("Asia/Kolkata")
	if err != nil {
		return err
	}
	clock := sched.NewOfflineClock()

	now := clock.Now().In(timeline.Location())
	cfg := simConfig(now, horizon)

	sim := marketdata.NewSimProvider(seed)
	data, err := marketdata.NewManager(
		map[string]marketdata.Provider{"sim": sim},
		cfg.Data.ProviderPriorityOrder,
		cfg.Data.FreshnessWindow(), cfg.Data.FetchTimeout(),
	)
	if err != nil {
		return err
	}

	feed := broker.NewRandomWalkFeed(seed)
	paper := broker.NewPaper(feed, broker.PaperConfig{
		LatencyMin:  5 * time.Millisecond,
		LatencyMax:  30 * time.Millisecond,
		SlippageBps: cfg.Broker.PaperSlippageBps,
		Seed:        seed,
	})

	j, err := journal.Open(":memory:")
	if err != nil {
		return err
	}
	defer j.Close()

	notifier := alerts.LogNotifier{}
	rm := risk.NewManager(cfg.Risk, clock.Now())
	selector := scan.NewSelector(data, cfg.Strategy, cfg.Data.FetchWorkers)
	executor := exec.New(paper, rm, cfg.Broker, cfg.Monitor, notifier.Notify)
	executor.UseClock(clock.Now)
	p := pipeline.New(cfg, clock, timeline, selector, rm, executor, paper, notifier, j)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observ.Log("simday_started", map[string]any{
		"seed":    seed,
		"scan":    cfg.Strategy.ScanTime,
		"execute": cfg.Strategy.ExecuteTime,
		"eod":     cfg.Strategy.EndOfDayTime,
	})
	runErr := p.RunDay(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := p.Summary(sctx, timeline.TradingDay(clock.Now()))
	if err != nil {
		return err
	}
	journal.WriteSummary(os.Stdout, sum)

	state := rm.Snapshot()
	fmt.Printf("daily pnl %.2f, trades %d, breaker tripped: %v\n",
		state.DailyPnL, state.TradesToday, state.CircuitBreakerTrip)
	return runErr
}

// simConfig builds a config with checkpoints a few seconds apart instead of
// exchange hours.
func simConfig(now time.Time, horizon time.Duration) config.Root {
	clockTime := func(d time.Duration) string {
		return now.Add(d).Format("15:04:05")
	}
	var c config.Root
	c.Strategy = config.Strategy{
		InstrumentUniverse: []string{"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK", "BHARTIARTL"},
		ScanTime:           clockTime(2 * time.Second),
		ExecuteTime:        clockTime(4 * time.Second),
		EndOfDayTime:       clockTime(horizon),
	}
	c.Data.ProviderPriorityOrder = []string{"sim"}
	c.Broker.Kind = "paper"
	c.Monitor.PollIntervalMs = 200
	c.Monitor.UpdateEveryNPolls = 25
	c.Clock.Timezone = "Asia/Kolkata"
	c.Journal.DSN = ":memory:"

	// fill in the standard defaults for everything not overridden
	config.ApplyDefaults(&c)
	return c
}
