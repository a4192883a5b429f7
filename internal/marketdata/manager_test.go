package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openbell/openbell/internal/domain"
)

type scriptedProvider struct {
	name     string
	snaps    []domain.InstrumentSnapshot
	snapErr  error
	chain    domain.OptionChainSnapshot
	chainErr error
	calls    int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) GetInstrumentSnapshots(ctx context.Context, symbols []string) ([]domain.InstrumentSnapshot, error) {
	p.calls++
	if p.snapErr != nil {
		return nil, p.snapErr
	}
	return p.snaps, nil
}

func (p *scriptedProvider) GetOptionChain(ctx context.Context, symbol string) (domain.OptionChainSnapshot, error) {
	if p.chainErr != nil {
		return domain.OptionChainSnapshot{}, p.chainErr
	}
	return p.chain, nil
}

func freshSnap(symbol string) domain.InstrumentSnapshot {
	return domain.InstrumentSnapshot{
		Symbol: symbol, LastPrice: 100, PrevClose: 99,
		ChangePercent: 1, Volume: 1000, Timestamp: time.Now(),
	}
}

func newTestManager(t *testing.T, priority []string, provs ...*scriptedProvider) *Manager {
	t.Helper()
	registry := map[string]Provider{}
	for _, p := range provs {
		registry[p.name] = p
	}
	m, err := NewManager(registry, priority, time.Minute, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerRejectsUnknownProvider(t *testing.T) {
	_, err := NewManager(map[string]Provider{}, []string{"nope"}, time.Minute, time.Second)
	if err == nil {
		t.Fatal("expected error for unknown provider name")
	}
}

func TestFetchSnapshotsPrimaryWins(t *testing.T) {
	primary := &scriptedProvider{name: "a", snaps: []domain.InstrumentSnapshot{freshSnap("AAA")}}
	backup := &scriptedProvider{name: "b", snaps: []domain.InstrumentSnapshot{freshSnap("AAA")}}
	m := newTestManager(t, []string{"a", "b"}, primary, backup)

	snaps, err := m.FetchSnapshots(context.Background(), []string{"AAA"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snaps", len(snaps))
	}
	if backup.calls != 0 {
		t.Error("backup should not be consulted when primary succeeds")
	}
}

func TestFetchSnapshotsFallsBack(t *testing.T) {
	primary := &scriptedProvider{name: "a", snapErr: errors.New("503")}
	backup := &scriptedProvider{name: "b", snaps: []domain.InstrumentSnapshot{freshSnap("AAA")}}
	m := newTestManager(t, []string{"a", "b"}, primary, backup)

	snaps, err := m.FetchSnapshots(context.Background(), []string{"AAA"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || backup.calls != 1 {
		t.Errorf("fallback not used: %d snaps, %d backup calls", len(snaps), backup.calls)
	}
}

func TestFetchSnapshotsAllFail(t *testing.T) {
	a := &scriptedProvider{name: "a", snapErr: errors.New("down")}
	b := &scriptedProvider{name: "b", snapErr: errors.New("also down")}
	m := newTestManager(t, []string{"a", "b"}, a, b)

	_, err := m.FetchSnapshots(context.Background(), []string{"AAA"})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestFetchSnapshotsFiltersStale(t *testing.T) {
	stale := freshSnap("AAA")
	stale.Timestamp = time.Now().Add(-5 * time.Minute)
	primary := &scriptedProvider{name: "a",
		snaps: []domain.InstrumentSnapshot{stale, freshSnap("BBB"), freshSnap("CCC")}}
	m := newTestManager(t, []string{"a"}, primary)

	snaps, err := m.FetchSnapshots(context.Background(), []string{"AAA", "BBB", "CCC"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snaps, want 2 after staleness filter", len(snaps))
	}
	for _, s := range snaps {
		if s.Symbol == "AAA" {
			t.Error("stale snapshot survived")
		}
	}
}

func TestFetchSnapshotsQualityGate(t *testing.T) {
	// 1 of 3 usable: a majority missing is a provider failure
	primary := &scriptedProvider{name: "a", snaps: []domain.InstrumentSnapshot{freshSnap("AAA")}}
	m := newTestManager(t, []string{"a"}, primary)

	_, err := m.FetchSnapshots(context.Background(), []string{"AAA", "BBB", "CCC"})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Type != "quality" {
		t.Errorf("expected quality FetchError, got %v", err)
	}
}

func TestFetchSnapshotsInvalidFiltered(t *testing.T) {
	bad := freshSnap("AAA")
	bad.LastPrice = 0
	primary := &scriptedProvider{name: "a",
		snaps: []domain.InstrumentSnapshot{bad, freshSnap("BBB")}}
	m := newTestManager(t, []string{"a"}, primary)

	snaps, err := m.FetchSnapshots(context.Background(), []string{"AAA", "BBB"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 || snaps[0].Symbol != "BBB" {
		t.Errorf("invalid snapshot not filtered: %+v", snaps)
	}
}

func TestFetchOptionChainFallsBack(t *testing.T) {
	a := &scriptedProvider{name: "a", chainErr: errors.New("timeout")}
	b := &scriptedProvider{name: "b", chain: domain.OptionChainSnapshot{
		Underlying: "AAA",
		Strikes:    []domain.StrikeOI{{Strike: 100, CallOI: 10, PutOI: 10}},
		Timestamp:  time.Now(),
	}}
	m := newTestManager(t, []string{"a", "b"}, a, b)

	chain, err := m.FetchOptionChain(context.Background(), "AAA")
	if err != nil {
		t.Fatal(err)
	}
	if chain.Underlying != "AAA" {
		t.Errorf("chain = %+v", chain)
	}
}

func TestFetchOptionChainRejectsEmptyAndStale(t *testing.T) {
	empty := &scriptedProvider{name: "a", chain: domain.OptionChainSnapshot{
		Underlying: "AAA", Timestamp: time.Now(),
	}}
	stale := &scriptedProvider{name: "b", chain: domain.OptionChainSnapshot{
		Underlying: "AAA",
		Strikes:    []domain.StrikeOI{{Strike: 100, CallOI: 10}},
		Timestamp:  time.Now().Add(-10 * time.Minute),
	}}
	m := newTestManager(t, []string{"a", "b"}, empty, stale)

	_, err := m.FetchOptionChain(context.Background(), "AAA")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestSimProviderDeterministic(t *testing.T) {
	symbols := []string{"RELIANCE", "TCS"}
	a, _ := NewSimProvider(7).GetInstrumentSnapshots(context.Background(), symbols)
	b, _ := NewSimProvider(7).GetInstrumentSnapshots(context.Background(), symbols)
	for i := range a {
		if a[i].ChangePercent != b[i].ChangePercent || a[i].Volume != b[i].Volume {
			t.Fatalf("same seed diverged at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSimProviderChainMatchesPCR(t *testing.T) {
	chain, err := NewSimProvider(7).GetOptionChain(context.Background(), "TCS")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain.Strikes) != 11 {
		t.Fatalf("strikes = %d, want 11", len(chain.Strikes))
	}
	ratio := chain.SentimentRatio()
	if ratio < 1.6 || ratio > 2.0 {
		t.Errorf("ratio = %v, want near configured 1.8", ratio)
	}
}

func TestStrikeStep(t *testing.T) {
	if StrikeStep(950) != 50 {
		t.Error("under 1000 should step by 50")
	}
	if StrikeStep(2800) != 100 {
		t.Error("over 1000 should step by 100")
	}
}
