package domain

import (
	"fmt"
	"time"
)

// InstrumentSnapshot is one instrument's state at scan time. Immutable once
// created; the selector builds exactly one per instrument per scan cycle.
type InstrumentSnapshot struct {
	Symbol        string    `json:"symbol"`
	LastPrice     float64   `json:"last_price"`
	PrevClose     float64   `json:"prev_close"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"` // provider that produced it
}

// Age returns how old the snapshot is relative to now.
func (s InstrumentSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// StrikeOI is open interest at a single listed strike.
type StrikeOI struct {
	Strike float64 `json:"strike"`
	CallOI int64   `json:"call_oi"`
	PutOI  int64   `json:"put_oi"`
}

// OptionChainSnapshot is the option chain for one underlying at a point in
// time. Strikes are kept in ascending order. Immutable.
type OptionChainSnapshot struct {
	Underlying string     `json:"underlying"`
	Strikes    []StrikeOI `json:"strikes"`
	Timestamp  time.Time  `json:"timestamp"`
	Source     string     `json:"source"`
}

// SentimentRatio is aggregate put OI over aggregate call OI across the whole
// chain. Single-strike ratios are too noisy to filter on, so the entire
// chain is summed. Returns 0 when there is no call OI at all.
func (c OptionChainSnapshot) SentimentRatio() float64 {
	var calls, puts int64
	for _, s := range c.Strikes {
		calls += s.CallOI
		puts += s.PutOI
	}
	if calls == 0 {
		return 0
	}
	return float64(puts) / float64(calls)
}

// ATMStrike returns the listed strike closest to price. Ties go to the lower
// strike. ok is false for an empty chain.
func (c OptionChainSnapshot) ATMStrike(price float64) (strike float64, ok bool) {
	if len(c.Strikes) == 0 {
		return 0, false
	}
	best := c.Strikes[0].Strike
	bestDist := abs(best - price)
	for _, s := range c.Strikes[1:] {
		d := abs(s.Strike - price)
		if d < bestDist || (d == bestDist && s.Strike < best) {
			best = s.Strike
			bestDist = d
		}
	}
	return best, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// OptionType is the side of an option contract.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// TradeSignal is an accepted candidate, ready for sizing and execution.
// Read-only after creation; at most one signal is accepted per trading day.
type TradeSignal struct {
	Underlying     string     `json:"underlying"`
	OptionSymbol   string     `json:"option_symbol"`
	Strike         float64    `json:"strike"`
	Type           OptionType `json:"type"`
	SentimentRatio float64    `json:"sentiment_ratio"`
	RankScore      float64    `json:"rank_score"` // percent change at scan time
	Volume         int64      `json:"volume"`
	SpotPrice      float64    `json:"spot_price"`
	GeneratedAt    time.Time  `json:"generated_at"`
}

// OptionSymbolFor derives the tradable contract symbol for an underlying and
// strike, e.g. "RELIANCE2800CE".
func OptionSymbolFor(underlying string, strike float64, typ OptionType) string {
	return fmt.Sprintf("%s%d%s", underlying, int64(strike), typ)
}
