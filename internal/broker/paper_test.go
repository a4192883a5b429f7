package broker

import (
	"context"
	"math"
	"testing"
	"time"
)

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

type fixedFeed struct{ price float64 }

func (f fixedFeed) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}

func newTestPaper(price float64, slippageBps int) *Paper {
	return NewPaper(fixedFeed{price: price}, PaperConfig{
		LatencyMin:  time.Millisecond,
		LatencyMax:  2 * time.Millisecond,
		SlippageBps: slippageBps,
		Seed:        1,
	})
}

func TestPaperBuyAppliesSlippageAgainst(t *testing.T) {
	p := newTestPaper(100, 10) // 10 bps = 0.1%
	order, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "AAA1000CE", Side: Buy, Kind: Market, Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.Status != StatusComplete {
		t.Fatalf("status = %s", order.Status)
	}
	if !approx(order.AvgPrice, 100.1) {
		t.Errorf("buy fill = %v, want 100.1 (pays slippage)", order.AvgPrice)
	}

	sell, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "AAA1000CE", Side: Sell, Kind: Market, Quantity: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !approx(sell.AvgPrice, 99.9) {
		t.Errorf("sell fill = %v, want 99.9 (gives up slippage)", sell.AvgPrice)
	}
}

func TestPaperHoldingsBookkeeping(t *testing.T) {
	p := newTestPaper(50, 0)
	ctx := context.Background()

	if _, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "X", Side: Buy, Kind: Market, Quantity: 10}); err != nil {
		t.Fatal(err)
	}
	holdings, err := p.GetPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(holdings) != 1 || holdings[0].Quantity != 10 || holdings[0].AvgPrice != 50 {
		t.Fatalf("holdings = %+v", holdings)
	}

	if _, err := p.PlaceOrder(ctx, OrderRequest{Symbol: "X", Side: Sell, Kind: Market, Quantity: 10}); err != nil {
		t.Fatal(err)
	}
	holdings, err = p.GetPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(holdings) != 0 {
		t.Fatalf("flat book should be empty, got %+v", holdings)
	}
}

func TestPaperOrderLookup(t *testing.T) {
	p := newTestPaper(50, 0)
	order, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "X", Side: Buy, Kind: Market, Quantity: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.GetOrderStatus(context.Background(), order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != order.ID || got.Status != StatusComplete {
		t.Errorf("lookup = %+v", got)
	}
	if _, err := p.GetOrderStatus(context.Background(), "missing"); err == nil {
		t.Error("unknown order should error")
	}
}

func TestPaperRejectsInvalidQuantity(t *testing.T) {
	p := newTestPaper(50, 0)
	if _, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "X", Side: Buy, Kind: Market, Quantity: 0,
	}); err == nil {
		t.Error("zero quantity should be rejected")
	}
}

func TestRandomWalkFeedStartsAtReference(t *testing.T) {
	feed := NewRandomWalkFeed(1)
	feed.SetReferencePrice("X", 200)

	price, err := feed.LastPrice(context.Background(), "X")
	if err != nil {
		t.Fatal(err)
	}
	// one step away from the reference, bounded by drift + a few sigma
	if price < 180 || price > 220 {
		t.Errorf("first step %v too far from reference 200", price)
	}

	// walk must stay positive
	for i := 0; i < 1000; i++ {
		p, err := feed.LastPrice(context.Background(), "X")
		if err != nil {
			t.Fatal(err)
		}
		if p <= 0 {
			t.Fatalf("price went non-positive: %v", p)
		}
	}
}
