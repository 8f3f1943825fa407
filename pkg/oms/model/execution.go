package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderExecType string

const (
	ExecTypeNew            OrderExecType = "New"
	ExecTypeTrade          OrderExecType = "Trade"
	ExecTypeCanceled       OrderExecType = "Canceled"
	ExecTypeRejected       OrderExecType = "Rejected"
	ExecTypeExpired        OrderExecType = "Expired"
	ExecTypeCancelRejected OrderExecType = "CancelRejected"
	// ExecTypeOrderStatus answers an order status query. It carries the
	// venue's cumulative view instead of a single event.
	ExecTypeOrderStatus OrderExecType = "OrderStatus"
)

// ExecutionReport is the normalized venue report every adapter emits.
type ExecutionReport struct {
	OrderID      string
	Venue        string
	ExecID       string
	ExecType     OrderExecType
	LastQuantity decimal.Decimal
	LastPrice    decimal.Decimal
	// CumQuantity and AvgPrice are the venue's running totals when it
	// reports them; zero otherwise.
	CumQuantity decimal.Decimal
	AvgPrice    decimal.Decimal
	// VenueStatus is set on status reports.
	VenueStatus OrderStatus
	Text        string
	Timestamp   time.Time
}
