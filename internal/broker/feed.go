package broker

import (
	"context"
	"math/rand"
	"sync"
)

// RandomWalkFeed generates option-premium price paths for rehearsal runs.
// Each symbol starts at its reference price (or a default) and random-walks
// with a slight upward drift so target exits actually occur in sim days.
type RandomWalkFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	random *rand.Rand

	defaultStart float64
	stepPercent  float64
	driftPercent float64
}

func NewRandomWalkFeed(seed int64) *RandomWalkFeed {
	return &RandomWalkFeed{
		prices:       map[string]float64{},
		random:       rand.New(rand.NewSource(seed)),
		defaultStart: 100,
		stepPercent:  1.5,
		driftPercent: 0.3,
	}
}

// SetReferencePrice pins a symbol's starting price before the walk begins.
func (f *RandomWalkFeed) SetReferencePrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *RandomWalkFeed) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[symbol]
	if !ok {
		price = f.defaultStart
	}
	move := f.driftPercent + f.random.NormFloat64()*f.stepPercent
	price *= 1 + move/100
	if price < 0.05 {
		price = 0.05
	}
	f.prices[symbol] = price
	return price, nil
}
