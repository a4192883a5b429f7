package journal

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openbell/openbell/internal/domain"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func testSignal() domain.TradeSignal {
	return domain.TradeSignal{
		Underlying:     "RELIANCE",
		OptionSymbol:   "RELIANCE2800CE",
		Strike:         2800,
		Type:           domain.OptionCall,
		SentimentRatio: 0.9,
		RankScore:      2.4,
		SpotPrice:      2815,
		GeneratedAt:    time.Now(),
	}
}

func TestRecordSignalAndSummarize(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.RecordSignal(ctx, "2026-08-28", testSignal()); err != nil {
		t.Fatal(err)
	}
	sum, err := j.Summarize(ctx, "2026-08-28")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Signals != 1 || len(sum.Trades) != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestUpsertTradeLifecycle(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	pos := &domain.Position{
		ID:         "pos-1",
		Signal:     testSignal(),
		Quantity:   50,
		EntryPrice: 100,
		EntryTime:  time.Now(),
		State:      domain.StateOpen,
	}
	if err := j.UpsertTrade(ctx, "2026-08-28", pos); err != nil {
		t.Fatal(err)
	}

	pos.State = domain.StateClosedTarget
	pos.ExitReason = domain.ExitTarget
	pos.ExitPrice = 108.5
	pos.ExitTime = time.Now()
	if err := j.UpsertTrade(ctx, "2026-08-28", pos); err != nil {
		t.Fatal(err)
	}

	sum, err := j.Summarize(ctx, "2026-08-28")
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.Trades) != 1 {
		t.Fatalf("trades = %d, want 1 (upsert, not insert)", len(sum.Trades))
	}
	tr := sum.Trades[0]
	if tr.State != string(domain.StateClosedTarget) || tr.ExitPrice != 108.5 {
		t.Errorf("trade = %+v", tr)
	}
	if sum.TotalPnL != 425 || sum.WinCount != 1 || sum.LossCount != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestSummarizeOtherDayEmpty(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	if err := j.RecordSignal(ctx, "2026-08-28", testSignal()); err != nil {
		t.Fatal(err)
	}
	sum, err := j.Summarize(ctx, "2026-08-27")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Signals != 0 || len(sum.Trades) != 0 {
		t.Errorf("day isolation broken: %+v", sum)
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, DaySummary{Day: "2026-08-28"})
	if !strings.Contains(buf.String(), "no trades") {
		t.Errorf("empty day output: %q", buf.String())
	}

	buf.Reset()
	WriteSummary(&buf, DaySummary{
		Day:      "2026-08-28",
		Signals:  1,
		TotalPnL: 425,
		WinCount: 1,
		Trades: []TradeRow{{
			PositionID: "pos-1", Symbol: "RELIANCE2800CE", Quantity: 50,
			EntryPrice: 100, ExitPrice: 108.5, ExitReason: "target",
			State: "closed_target", PnL: 425, PnLPercent: 8.5,
		}},
	})
	out := buf.String()
	for _, want := range []string{"RELIANCE2800CE", "108.50", "target", "425.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary output missing %q:\n%s", want, out)
		}
	}
}
