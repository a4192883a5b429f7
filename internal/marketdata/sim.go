package marketdata

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/openbell/openbell/internal/domain"
)

// SimProvider generates realistic-looking snapshots and chains without
// touching the network. Used by cmd/simday rehearsals and by tests.
type SimProvider struct {
	mu     sync.Mutex
	base   map[string]*simInstrument
	random *rand.Rand
	clock  func() time.Time
}

type simInstrument struct {
	Symbol     string
	PrevClose  float64
	Drift      float64 // percent move bias for the day
	Volatility float64 // per-tick noise, percent
	Volume     int64
	PCR        float64 // sentiment ratio its generated chain aims for
}

// NewSimProvider seeds a small NIFTY-ish universe. A fixed seed keeps
// rehearsal runs reproducible.
func NewSimProvider(seed int64) *SimProvider {
	return &SimProvider{
		base: map[string]*simInstrument{
			"RELIANCE":   {Symbol: "RELIANCE", PrevClose: 2800, Drift: 2.4, Volatility: 0.3, Volume: 6_500_000, PCR: 0.9},
			"TCS":        {Symbol: "TCS", PrevClose: 4100, Drift: 1.1, Volatility: 0.2, Volume: 2_100_000, PCR: 1.8},
			"HDFCBANK":   {Symbol: "HDFCBANK", PrevClose: 1650, Drift: 0.6, Volatility: 0.25, Volume: 9_800_000, PCR: 1.1},
			"INFY":       {Symbol: "INFY", PrevClose: 1540, Drift: -0.8, Volatility: 0.3, Volume: 5_400_000, PCR: 0.8},
			"ICICIBANK":  {Symbol: "ICICIBANK", PrevClose: 1180, Drift: 1.7, Volatility: 0.35, Volume: 12_000_000, PCR: 1.3},
			"BHARTIARTL": {Symbol: "BHARTIARTL", PrevClose: 1520, Drift: 0.2, Volatility: 0.2, Volume: 3_300_000, PCR: 2.1},
		},
		random: rand.New(rand.NewSource(seed)),
		clock:  time.Now,
	}
}

func (s *SimProvider) Name() string { return "sim" }

func (s *SimProvider) GetInstrumentSnapshots(ctx context.Context, symbols []string) ([]domain.InstrumentSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	snaps := make([]domain.InstrumentSnapshot, 0, len(symbols))
	for _, sym := range symbols {
		inst, ok := s.base[strings.ToUpper(sym)]
		if !ok {
			continue
		}
		changePct := inst.Drift + s.random.NormFloat64()*inst.Volatility
		last := inst.PrevClose * (1 + changePct/100)
		snaps = append(snaps, domain.InstrumentSnapshot{
			Symbol:        inst.Symbol,
			LastPrice:     last,
			PrevClose:     inst.PrevClose,
			ChangePercent: changePct,
			Volume:        inst.Volume + s.random.Int63n(500_000),
			Timestamp:     now,
			Source:        s.Name(),
		})
	}
	return snaps, nil
}

// GetOptionChain builds a chain of 11 strikes around spot using the NIFTY
// strike-step convention and distributes OI so the chain-wide put/call
// ratio lands near the instrument's configured PCR.
func (s *SimProvider) GetOptionChain(ctx context.Context, symbol string) (domain.OptionChainSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.OptionChainSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.base[strings.ToUpper(symbol)]
	if !ok {
		return domain.OptionChainSnapshot{}, &FetchError{
			Type: "bad_symbol", Provider: s.Name(), Symbol: symbol, Message: "unknown symbol",
		}
	}

	spot := inst.PrevClose * (1 + inst.Drift/100)
	step := StrikeStep(spot)
	atm := float64(int64(spot/step+0.5)) * step

	strikes := make([]domain.StrikeOI, 0, 11)
	for i := -5; i <= 5; i++ {
		strike := atm + float64(i)*step
		// OI clusters near the money
		weight := 1.0 / (1.0 + float64(i*i))
		callOI := int64(weight*200_000) + s.random.Int63n(10_000)
		putOI := int64(float64(callOI) * inst.PCR)
		strikes = append(strikes, domain.StrikeOI{Strike: strike, CallOI: callOI, PutOI: putOI})
	}

	return domain.OptionChainSnapshot{
		Underlying: inst.Symbol,
		Strikes:    strikes,
		Timestamp:  s.clock(),
		Source:     s.Name(),
	}, nil
}

// StrikeStep is the NSE listing convention: 50-point strikes under 1000,
// 100-point strikes above.
func StrikeStep(spot float64) float64 {
	if spot < 1000 {
		return 50
	}
	return 100
}
