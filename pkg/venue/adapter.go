// Package venue defines the capability surface every exchange connector
// implements, the registry that maps venue ids to connectors and the
// supervisor that runs each connector's connection lifecycle.
package venue

import (
	"context"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDegraded     Status = "degraded"
)

type Capabilities struct {
	MarketOrders bool `yaml:"market_orders"`
	LimitOrders  bool `yaml:"limit_orders"`
	Cancel       bool `yaml:"cancel"`
	MarketData   bool `yaml:"market_data"`
}

// Supports reports whether an order of type t can be sent to the venue.
func (c Capabilities) Supports(t model.OrderType) bool {
	switch t {
	case model.OrderTypeMarket:
		return c.MarketOrders
	case model.OrderTypeLimit:
		return c.LimitOrders
	}
	return false
}

// Handle is the routing view of one adapter.
type Handle struct {
	Venue        string
	Status       Status
	Capabilities Capabilities
	Priority     int
}

// Ack confirms the venue accepted a submission.
type Ack struct {
	OrderID      string
	Venue        string
	VenueOrderID string
	Timestamp    time.Time
}

type EventKind int

const (
	EventStatus EventKind = iota
	EventQuote
	EventExecution
)

// Event is everything an adapter pushes asynchronously.
type Event struct {
	Kind   EventKind
	Venue  string
	Status Status
	Quote  model.Quote
	Report model.ExecutionReport
	Err    error
}

// Adapter is implemented by every venue connector. Adapters never touch order
// or position state; they only return acks/errors and emit events.
type Adapter interface {
	ID() string
	Capabilities() Capabilities
	Status() Status

	// Connect and Disconnect are idempotent.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	SubmitOrder(ctx context.Context, order model.Order) (Ack, error)
	CancelOrder(ctx context.Context, order model.Order) error

	// SubscribeMarketData makes the adapter push quotes for instrument until
	// unsubscribed or disconnected.
	SubscribeMarketData(ctx context.Context, instrument string) error
	UnsubscribeMarketData(ctx context.Context, instrument string) error

	Events() <-chan Event
}

// StatusQuerier is implemented by adapters that can replay the venue's view of
// an order, used to reconcile orders after a reconnect.
type StatusQuerier interface {
	QueryOrder(ctx context.Context, order model.Order) error
}
