package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusNew              OrderStatus = "New"
	OrderStatusPendingRiskCheck OrderStatus = "PendingRiskCheck"
	OrderStatusPendingRoute     OrderStatus = "PendingRoute"
	OrderStatusSubmitted        OrderStatus = "Submitted"
	OrderStatusPartiallyFilled  OrderStatus = "PartiallyFilled"
	OrderStatusPendingCancel    OrderStatus = "PendingCancel"
	OrderStatusFilled           OrderStatus = "Filled"
	OrderStatusCancelled        OrderStatus = "Cancelled"
	OrderStatusExpired          OrderStatus = "Expired"
	OrderStatusRejected         OrderStatus = "Rejected"
	// OrderStatusFrozen holds an order whose execution reports broke an invariant.
	OrderStatusFrozen OrderStatus = "Frozen"
)

// IsTerminal reports whether no further transition is accepted from s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected, OrderStatusFrozen:
		return true
	}
	return false
}

// IsOpen reports whether the order is live at a venue or on its way there.
func (s OrderStatus) IsOpen() bool {
	switch s {
	case OrderStatusPendingRiskCheck, OrderStatusPendingRoute, OrderStatusSubmitted, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

type OrderTimeInForce string

const (
	OrderTimeInForceDAY OrderTimeInForce = "DAY"
	OrderTimeInForceIOC OrderTimeInForce = "IOC"
	OrderTimeInForceFOK OrderTimeInForce = "FOK"
	OrderTimeInForceGTC OrderTimeInForce = "GTC"
)

func (t OrderTimeInForce) Valid() bool {
	switch t {
	case OrderTimeInForceDAY, OrderTimeInForceIOC, OrderTimeInForceFOK, OrderTimeInForceGTC:
		return true
	}
	return false
}

type Order struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key"`

	// init info, immutable once created
	Account     string           `json:"account"`
	Instrument  string           `json:"instrument"`
	Side        OrderSide        `json:"side"`
	Type        OrderType        `json:"type"`
	TimeInForce OrderTimeInForce `json:"time_in_force"`
	Price       decimal.Decimal  `json:"price"`
	Quantity    decimal.Decimal  `json:"quantity"`

	// lifecycle
	Status        OrderStatus `json:"status"`
	PrevStatus    OrderStatus `json:"prev_status,omitempty"`
	Venue         string      `json:"venue,omitempty"`
	RouteAttempts int         `json:"route_attempts"`
	Degraded      bool        `json:"degraded"`
	Reason        *Reason     `json:"reason,omitempty"`

	// calculated info
	Fills          []Fill          `json:"fills,omitempty"`
	CumQuantity    decimal.Decimal `json:"cum_quantity"`
	LeavesQuantity decimal.Decimal `json:"leaves_quantity"`
	AvgPrice       decimal.Decimal `json:"avg_price"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of the order lock.
func (o *Order) Clone() Order {
	cp := *o
	if o.Fills != nil {
		cp.Fills = make([]Fill, len(o.Fills))
		copy(cp.Fills, o.Fills)
	}
	if o.Reason != nil {
		r := *o.Reason
		cp.Reason = &r
	}
	return cp
}

// Notional is price times quantity, using ref when the order carries no price.
func (o *Order) Notional(ref decimal.Decimal) decimal.Decimal {
	price := o.Price
	if o.Type == OrderTypeMarket || price.IsZero() {
		price = ref
	}
	return price.Mul(o.Quantity)
}

// HasFill reports whether execID was already applied.
func (o *Order) HasFill(execID string) bool {
	for i := range o.Fills {
		if o.Fills[i].ExecID == execID {
			return true
		}
	}
	return false
}

type Fill struct {
	OrderID   string          `json:"order_id"`
	ExecID    string          `json:"exec_id"`
	Venue     string          `json:"venue"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// AddOrder is a client request to create an order.
type AddOrder struct {
	Account     string           `json:"account"`
	Instrument  string           `json:"instrument"`
	Side        OrderSide        `json:"side"`
	Type        OrderType        `json:"type"`
	TimeInForce OrderTimeInForce `json:"time_in_force"`
	Price       decimal.Decimal  `json:"price"`
	Quantity    decimal.Decimal  `json:"quantity"`
}
