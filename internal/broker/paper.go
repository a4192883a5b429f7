package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openbell/openbell/internal/observ"
)

// PriceFeed supplies last-traded prices to the paper broker. In rehearsals
// this is a random-walk feed; wiring it to a live provider gives paper
// trading against real prices.
type PriceFeed interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Paper simulates a broker: orders fill after a configurable latency with
// slippage applied against the feed price. No money moves.
type Paper struct {
	feed PriceFeed

	latencyMin  time.Duration
	latencyMax  time.Duration
	slippageBps int

	mu       sync.Mutex
	orders   map[string]Order
	holdings map[string]Holding
	random   *rand.Rand
}

// PaperConfig holds fill-simulation tunables.
type PaperConfig struct {
	LatencyMin  time.Duration
	LatencyMax  time.Duration
	SlippageBps int
	Seed        int64
}

func NewPaper(feed PriceFeed, cfg PaperConfig) *Paper {
	if cfg.LatencyMin <= 0 {
		cfg.LatencyMin = 20 * time.Millisecond
	}
	if cfg.LatencyMax < cfg.LatencyMin {
		cfg.LatencyMax = cfg.LatencyMin
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Paper{
		feed:        feed,
		latencyMin:  cfg.LatencyMin,
		latencyMax:  cfg.LatencyMax,
		slippageBps: cfg.SlippageBps,
		orders:      map[string]Order{},
		holdings:    map[string]Holding{},
		random:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) Authenticate(ctx context.Context) error { return nil }

// PlaceOrder fills immediately after simulated latency. Buys pay slippage,
// sells give it up, so paper results lean conservative.
func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Quantity <= 0 {
		return Order{}, fmt.Errorf("paper: invalid quantity %d", req.Quantity)
	}

	p.mu.Lock()
	latency := p.latencyMin + time.Duration(p.random.Int63n(int64(p.latencyMax-p.latencyMin)+1))
	p.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return Order{}, ctx.Err()
	}

	price, err := p.feed.LastPrice(ctx, req.Symbol)
	if err != nil {
		return Order{}, fmt.Errorf("paper: no price for %s: %w", req.Symbol, err)
	}
	slip := price * float64(p.slippageBps) / 10000
	fill := price + slip
	if req.Side == Sell {
		fill = price - slip
	}

	order := Order{
		ID:       uuid.NewString(),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Kind:     req.Kind,
		Quantity: req.Quantity,
		Status:   StatusComplete,
		AvgPrice: fill,
		PlacedAt: time.Now(),
	}

	p.mu.Lock()
	p.orders[order.ID] = order
	h := p.holdings[req.Symbol]
	h.Symbol = req.Symbol
	if req.Side == Buy {
		total := h.AvgPrice*float64(h.Quantity) + fill*float64(req.Quantity)
		h.Quantity += req.Quantity
		h.AvgPrice = total / float64(h.Quantity)
	} else {
		h.Quantity -= req.Quantity
	}
	if h.Quantity == 0 {
		delete(p.holdings, req.Symbol)
	} else {
		p.holdings[req.Symbol] = h
	}
	p.mu.Unlock()

	observ.Log("paper_fill", map[string]any{
		"order_id":   order.ID,
		"symbol":     req.Symbol,
		"side":       string(req.Side),
		"quantity":   req.Quantity,
		"price":      fill,
		"latency_ms": latency.Milliseconds(),
	})
	return order, nil
}

func (p *Paper) GetOrderStatus(ctx context.Context, orderID string) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("paper: unknown order %s", orderID)
	}
	return order, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	if order.Status == StatusComplete {
		return fmt.Errorf("paper: order %s already filled", orderID)
	}
	order.Status = StatusCancelled
	p.orders[orderID] = order
	return nil
}

func (p *Paper) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	return p.feed.LastPrice(ctx, symbol)
}

func (p *Paper) GetPositions(ctx context.Context) ([]Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		out = append(out, h)
	}
	return out, nil
}
