package model

import (
	"fmt"
	"time"
)

type OrderEventKind string

const (
	OrderEventStatus    OrderEventKind = "status"
	OrderEventFill      OrderEventKind = "fill"
	OrderEventRejected  OrderEventKind = "rejected"
	OrderEventCancelled OrderEventKind = "cancelled"
	OrderEventAlert     OrderEventKind = "alert"
)

// OrderEvent is one entry of an account's order stream. Seq is assigned by the
// event store and increases by one per account.
type OrderEvent struct {
	Seq       uint64         `json:"seq"`
	EventID   string         `json:"event_id"`
	Account   string         `json:"account"`
	OrderID   string         `json:"order_id"`
	Kind      OrderEventKind `json:"kind"`
	Status    OrderStatus    `json:"status"`
	Fill      *Fill          `json:"fill,omitempty"`
	Reason    *Reason        `json:"reason,omitempty"`
	Order     Order          `json:"order"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewOrderEvent(kind OrderEventKind, order Order, ts time.Time) OrderEvent {
	return OrderEvent{
		Account:   order.Account,
		OrderID:   order.ID,
		Kind:      kind,
		Status:    order.Status,
		Reason:    order.Reason,
		Order:     order,
		Timestamp: ts,
	}
}

func NewEventID(account string, seq uint64) string {
	return fmt.Sprintf("%s-%d", account, seq)
}
