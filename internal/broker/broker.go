package broker

import (
	"context"
	"time"
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Kind is the order pricing type. The engine only uses market orders; limit
// support exists for manual intervention tooling.
type Kind string

const (
	Market Kind = "MARKET"
	Limit  Kind = "LIMIT"
)

// Status is the broker-side order state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusComplete  Status = "COMPLETE"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// OrderRequest is everything needed to place one order.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Kind     Kind
	Quantity int
	Price    float64 // limit price; ignored for market orders
	Tag      string  // caller correlation id
}

// Order is the broker's view of a placed order.
type Order struct {
	ID       string
	Symbol   string
	Side     Side
	Kind     Kind
	Quantity int
	Status   Status
	AvgPrice float64 // fill price once complete
	Reason   string  // rejection reason if any
	PlacedAt time.Time
}

// Holding is an open broker-side position, used for reconciliation.
type Holding struct {
	Symbol   string
	Quantity int
	AvgPrice float64
}

// Broker is the execution venue contract. Implementations: Paper for
// simulated fills at live prices, Zerodha for the real venue. Selected via
// configuration, never by subclass-style wrapping.
type Broker interface {
	Name() string
	Authenticate(ctx context.Context) error
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetPositions(ctx context.Context) ([]Holding, error)
}
