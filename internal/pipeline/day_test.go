package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbell/openbell/internal/alerts"
	"github.com/openbell/openbell/internal/broker"
	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/exec"
	"github.com/openbell/openbell/internal/journal"
	"github.com/openbell/openbell/internal/marketdata"
	"github.com/openbell/openbell/internal/risk"
	"github.com/openbell/openbell/internal/scan"
	"github.com/openbell/openbell/internal/sched"
)

// collectingNotifier records events for assertions.
type collectingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *collectingNotifier) Notify(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectingNotifier) Close() {}

func (c *collectingNotifier) kinds() []domain.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

func newTestPipeline(t *testing.T, cfg config.Root, notifier alerts.Notifier) (*Pipeline, *sched.Clock, *sched.Timeline, *risk.Manager, *journal.Journal) {
	t.Helper()

	timeline, err := sched.NewTimeline(cfg.Clock.Timezone)
	require.NoError(t, err)
	clock := newOfflineClock(t)

	sim := marketdata.NewSimProvider(7)
	data, err := marketdata.NewManager(
		map[string]marketdata.Provider{"sim": sim}, []string{"sim"},
		cfg.Data.FreshnessWindow(), cfg.Data.FetchTimeout(),
	)
	require.NoError(t, err)

	feed := broker.NewRandomWalkFeed(7)
	paper := broker.NewPaper(feed, broker.PaperConfig{
		LatencyMin: time.Millisecond, LatencyMax: 2 * time.Millisecond, Seed: 7,
	})

	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	rm := risk.NewManager(cfg.Risk, clock.Now())
	selector := scan.NewSelector(data, cfg.Strategy, cfg.Data.FetchWorkers)
	executor := exec.New(paper, rm, cfg.Broker, cfg.Monitor, notifier.Notify)
	executor.UseClock(clock.Now)
	return New(cfg, clock, timeline, selector, rm, executor, paper, notifier, j), clock, timeline, rm, j
}

// newOfflineClock never touches the network.
func newOfflineClock(t *testing.T) *sched.Clock {
	t.Helper()
	return sched.NewOfflineClock()
}

func compressedConfig(t *testing.T, horizon time.Duration) config.Root {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Now().In(loc)

	var c config.Root
	c.Strategy = config.Strategy{
		InstrumentUniverse: []string{"RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK", "BHARTIARTL"},
		ScanTime:           now.Add(1 * time.Second).Format("15:04:05"),
		ExecuteTime:        now.Add(2 * time.Second).Format("15:04:05"),
		EndOfDayTime:       now.Add(horizon).Format("15:04:05"),
	}
	c.Data.ProviderPriorityOrder = []string{"sim"}
	c.Broker.Kind = "paper"
	c.Monitor.PollIntervalMs = 20
	c.Monitor.UpdateEveryNPolls = 1000
	c.Clock.Timezone = "Asia/Kolkata"
	c.Journal.DSN = ":memory:"
	config.ApplyDefaults(&c)
	return c
}

func TestRunDayEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("compressed day takes a few seconds")
	}
	cfg := compressedConfig(t, 4*time.Second)
	notifier := &collectingNotifier{}
	p, clock, timeline, rm, j := newTestPipeline(t, cfg, notifier)

	err := p.RunDay(context.Background())
	require.NoError(t, err)

	day := timeline.TradingDay(clock.Now())
	sum, err := j.Summarize(context.Background(), day)
	require.NoError(t, err)

	kinds := notifier.kinds()
	require.NotEmpty(t, kinds)

	terminal := 0
	for _, k := range kinds {
		if k == domain.EventPositionClosed || k == domain.EventNoTrade {
			terminal++
		}
	}
	require.Equal(t, 1, terminal, "exactly one terminal notification per day, got %v", kinds)

	if kinds[len(kinds)-1] == domain.EventNoTrade {
		require.Empty(t, sum.Trades)
		return
	}

	// a trade happened: signal and trade must both be journaled terminal
	require.Equal(t, 1, sum.Signals)
	require.Len(t, sum.Trades, 1)
	tr := sum.Trades[0]
	require.True(t, domain.PositionState(tr.State).Terminal(), "journaled state %s", tr.State)
	require.Greater(t, tr.Quantity, 0)

	state := rm.Snapshot()
	require.Equal(t, 1, state.TradesToday)
	require.Empty(t, state.OpenPositionID)
}

func TestRunDayCancelledBeforeScan(t *testing.T) {
	cfg := compressedConfig(t, 4*time.Second)
	loc, err := time.LoadLocation(cfg.Clock.Timezone)
	require.NoError(t, err)
	cfg.Strategy.ScanTime = time.Now().In(loc).Add(time.Hour).Format("15:04:05")
	cfg.Strategy.ExecuteTime = time.Now().In(loc).Add(2 * time.Hour).Format("15:04:05")
	cfg.Strategy.EndOfDayTime = time.Now().In(loc).Add(3 * time.Hour).Format("15:04:05")
	notifier := &collectingNotifier{}
	p, _, _, _, _ := newTestPipeline(t, cfg, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err = p.RunDay(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// nothing was traded, nothing was notified as closed
	for _, k := range notifier.kinds() {
		require.NotEqual(t, domain.EventPositionClosed, k)
	}
}
