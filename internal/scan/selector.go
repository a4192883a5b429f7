package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openbell/openbell/internal/config"
	"github.com/openbell/openbell/internal/domain"
	"github.com/openbell/openbell/internal/marketdata"
	"github.com/openbell/openbell/internal/observ"
)

// Selector turns the morning's market state into at most one TradeSignal.
type Selector struct {
	data    *marketdata.Manager
	cfg     config.Strategy
	workers int
	clock   func() time.Time
}

// Attempt records one candidate evaluation, in the order it was tried.
type Attempt struct {
	Symbol        string  `json:"symbol"`
	ChangePercent float64 `json:"change_percent"`
	Ratio         float64 `json:"ratio"`
	Accepted      bool    `json:"accepted"`
	Reason        string  `json:"reason"` // "accepted" | "ratio_out_of_range" | "fetch_failed" | "empty_chain"
}

func NewSelector(data *marketdata.Manager, cfg config.Strategy, workers int) *Selector {
	if workers <= 0 {
		workers = 4
	}
	return &Selector{data: data, cfg: cfg, workers: workers, clock: time.Now}
}

// Rank filters to strictly positive movers and orders them by percent
// change descending, volume descending, then symbol ascending. Given
// identical inputs the output order is identical.
func Rank(snaps []domain.InstrumentSnapshot) []domain.InstrumentSnapshot {
	ranked := make([]domain.InstrumentSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if s.ChangePercent > 0 {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.ChangePercent != b.ChangePercent {
			return a.ChangePercent > b.ChangePercent
		}
		if a.Volume != b.Volume {
			return a.Volume > b.Volume
		}
		return a.Symbol < b.Symbol
	})
	return ranked
}

// SelectSignal runs one scan cycle: fetch the universe, rank it, then walk
// candidates in rank order until one passes the sentiment filter or the
// attempt budget runs out. The returned attempts list preserves try order.
func (s *Selector) SelectSignal(ctx context.Context) (domain.TradeSignal, []Attempt, error) {
	snaps, err := s.data.FetchSnapshots(ctx, s.cfg.InstrumentUniverse)
	if err != nil {
		return domain.TradeSignal{}, nil, err
	}

	ranked := Rank(snaps)
	observ.SetGauge("scan_candidates", float64(len(ranked)), nil)
	if len(ranked) == 0 {
		return domain.TradeSignal{}, nil, fmt.Errorf("%w: no positive movers", domain.ErrNoCandidate)
	}

	budget := s.cfg.MaxCandidateAttempts
	if budget > len(ranked) {
		budget = len(ranked)
	}
	candidates := ranked[:budget]

	// Chain fetches dominate the scan window, so prefetch them in parallel.
	// Evaluation below still walks candidates strictly in rank order.
	chains := s.prefetchChains(ctx, candidates)

	attempts := make([]Attempt, 0, budget)
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return domain.TradeSignal{}, attempts, err
		}
		att := Attempt{Symbol: cand.Symbol, ChangePercent: cand.ChangePercent}

		res := chains[cand.Symbol]
		if res.err != nil {
			att.Reason = "fetch_failed"
			attempts = append(attempts, att)
			observ.LogError("candidate_skipped", res.err, map[string]any{"symbol": cand.Symbol})
			continue
		}
		strike, ok := res.chain.ATMStrike(cand.LastPrice)
		if !ok {
			att.Reason = "empty_chain"
			attempts = append(attempts, att)
			continue
		}

		ratio := res.chain.SentimentRatio()
		att.Ratio = ratio
		if ratio < s.cfg.SentimentRatioMin || ratio > s.cfg.SentimentRatioMax {
			att.Reason = "ratio_out_of_range"
			attempts = append(attempts, att)
			observ.Log("candidate_rejected", map[string]any{
				"symbol": cand.Symbol,
				"ratio":  ratio,
				"min":    s.cfg.SentimentRatioMin,
				"max":    s.cfg.SentimentRatioMax,
			})
			continue
		}

		att.Accepted = true
		att.Reason = "accepted"
		attempts = append(attempts, att)

		sig := domain.TradeSignal{
			Underlying:     cand.Symbol,
			OptionSymbol:   domain.OptionSymbolFor(cand.Symbol, strike, domain.OptionCall),
			Strike:         strike,
			Type:           domain.OptionCall,
			SentimentRatio: ratio,
			RankScore:      cand.ChangePercent,
			Volume:         cand.Volume,
			SpotPrice:      cand.LastPrice,
			GeneratedAt:    s.clock(),
		}
		observ.Log("signal_selected", map[string]any{
			"underlying": sig.Underlying,
			"option":     sig.OptionSymbol,
			"ratio":      sig.SentimentRatio,
			"rank_score": sig.RankScore,
		})
		return sig, attempts, nil
	}

	return domain.TradeSignal{}, attempts, fmt.Errorf("%w after %d attempts", domain.ErrNoCandidate, len(attempts))
}

type chainResult struct {
	chain domain.OptionChainSnapshot
	err   error
}

// prefetchChains fetches option chains for the candidate set with a bounded
// worker pool. Results are joined before any ranking decision is made.
func (s *Selector) prefetchChains(ctx context.Context, candidates []domain.InstrumentSnapshot) map[string]chainResult {
	type job struct{ symbol string }
	jobs := make(chan job, len(candidates))
	for _, c := range candidates {
		jobs <- job{symbol: c.Symbol}
	}
	close(jobs)

	var mu sync.Mutex
	results := make(map[string]chainResult, len(candidates))

	workers := s.workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				chain, err := s.data.FetchOptionChain(ctx, j.symbol)
				mu.Lock()
				results[j.symbol] = chainResult{chain: chain, err: err}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results
}
