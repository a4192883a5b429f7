package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
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
		configPath = flag.String("config", "config/config.yaml", "path to config file")
		debugAddr  = flag.String("debug-addr", "", "serve /metrics and /healthz on this address, e.g. :8090")
	)
	flag.Parse()

	if err := run(*configPath, *debugAddr); err != nil {
		observ.LogError("fatal", err, nil)
		os.Exit(1)
	}
}

func run(configPath, debugAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observ.Log("starting", map[string]any{
		"config":   configPath,
		"broker":   cfg.Broker.Kind,
		"universe": len(cfg.Strategy.InstrumentUniverse),
	})

	if debugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observ.Handler())
		mux.Handle("/healthz", observ.HealthHandler())
		go func() {
			if err := http.ListenAndServe(debugAddr, mux); err != nil {
				observ.LogError("debug_server_failed", err, nil)
			}
		}()
	}

	timeline, err := sched.NewTimeline(cfg.Clock.Timezone)
	if err != nil {
		return err
	}
	clock := sched.NewClock(cfg.Clock.NTPServer)

	registry := map[string]marketdata.Provider{
		"nse": marketdata.NewNSEProvider(marketdata.NSEConfig{
			Timeout:       cfg.Data.FetchTimeout(),
			RatePerSecond: cfg.Data.RatePerSecond,
		}),
		"yahoo": marketdata.NewYahooProvider(marketdata.YahooConfig{
			Timeout:       cfg.Data.FetchTimeout(),
			RatePerSecond: cfg.Data.RatePerSecond,
		}),
		"sim": marketdata.NewSimProvider(time.Now().UnixNano()),
	}
	data, err := marketdata.NewManager(registry, cfg.Data.ProviderPriorityOrder,
		cfg.Data.FreshnessWindow(), cfg.Data.FetchTimeout())
	if err != nil {
		return err
	}

	b, err := buildBroker(cfg.Broker)
	if err != nil {
		return err
	}

	var notifier alerts.Notifier = alerts.LogNotifier{}
	if cfg.Alerts.TelegramEnabled {
		notifier = alerts.NewTelegram(cfg.Alerts)
	}
	defer notifier.Close()

	j, err := journal.Open(cfg.Journal.DSN)
	if err != nil {
		return err
	}
	defer j.Close()

	rm := risk.NewManager(cfg.Risk, clock.Now())
	selector := scan.NewSelector(data, cfg.Strategy, cfg.Data.FetchWorkers)
	executor := exec.New(b, rm, cfg.Broker, cfg.Monitor, notifier.Notify)
	executor.UseClock(clock.Now)
	p := pipeline.New(cfg, clock, timeline, selector, rm, executor, b, notifier, j)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	day := timeline.TradingDay(clock.Now())
	runErr := p.RunDay(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		observ.LogError("day_failed", runErr, nil)
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if sum, err := p.Summary(sctx, day); err == nil {
		journal.WriteSummary(os.Stdout, sum)
	}
	return runErr
}

func buildBroker(cfg config.Broker) (broker.Broker, error) {
	switch cfg.Kind {
	case "zerodha":
		return broker.NewZerodha(broker.ZerodhaConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			AccessToken: cfg.AccessToken,
		})
	case "paper":
		feed := broker.NewRandomWalkFeed(time.Now().UnixNano())
		return broker.NewPaper(feed, broker.PaperConfig{
			LatencyMin:  time.Duration(cfg.PaperLatencyMsMin) * time.Millisecond,
			LatencyMax:  time.Duration(cfg.PaperLatencyMsMax) * time.Millisecond,
			SlippageBps: cfg.PaperSlippageBps,
		}), nil
	}
	return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
}
