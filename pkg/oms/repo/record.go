package repo

import (
	"encoding/json"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// OrderRecord is the latest known state of an order. LastSeq is the event
// sequence it was built from; older events never overwrite newer state.
type OrderRecord struct {
	ID             string          `gorm:"column:id;primaryKey"`
	IdempotencyKey string          `gorm:"column:idempotency_key"`
	Account        string          `gorm:"column:account"`
	Instrument     string          `gorm:"column:instrument"`
	Side           string          `gorm:"column:side"`
	Type           string          `gorm:"column:type"`
	TimeInForce    string          `gorm:"column:time_in_force"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:numeric"`
	Status         string          `gorm:"column:status"`
	Venue          string          `gorm:"column:venue"`
	RouteAttempts  int             `gorm:"column:route_attempts"`
	Degraded       bool            `gorm:"column:degraded"`
	ReasonKind     string          `gorm:"column:reason_kind"`
	ReasonMessage  string          `gorm:"column:reason_message"`
	CumQuantity    decimal.Decimal `gorm:"column:cum_quantity;type:numeric"`
	LeavesQuantity decimal.Decimal `gorm:"column:leaves_quantity;type:numeric"`
	AvgPrice       decimal.Decimal `gorm:"column:avg_price;type:numeric"`
	LastSeq        uint64          `gorm:"column:last_seq"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (OrderRecord) TableName() string { return "orders" }

type FillRecord struct {
	ExecID    string          `gorm:"column:exec_id;primaryKey"`
	OrderID   string          `gorm:"column:order_id"`
	Account   string          `gorm:"column:account"`
	Venue     string          `gorm:"column:venue"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:numeric"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric"`
	Timestamp time.Time       `gorm:"column:ts"`
}

func (FillRecord) TableName() string { return "fills" }

type OrderEventRecord struct {
	EventID   string    `gorm:"column:event_id;primaryKey"`
	Seq       uint64    `gorm:"column:seq"`
	Account   string    `gorm:"column:account"`
	OrderID   string    `gorm:"column:order_id"`
	Kind      string    `gorm:"column:kind"`
	Status    string    `gorm:"column:status"`
	Payload   string    `gorm:"column:payload;type:jsonb"`
	Timestamp time.Time `gorm:"column:ts"`
}

func (OrderEventRecord) TableName() string { return "order_events" }

func NewOrderRecord(ev model.OrderEvent) *OrderRecord {
	o := ev.Order
	r := &OrderRecord{
		ID:             o.ID,
		IdempotencyKey: o.IdempotencyKey,
		Account:        o.Account,
		Instrument:     o.Instrument,
		Side:           string(o.Side),
		Type:           string(o.Type),
		TimeInForce:    string(o.TimeInForce),
		Price:          o.Price,
		Quantity:       o.Quantity,
		Status:         string(o.Status),
		Venue:          o.Venue,
		RouteAttempts:  o.RouteAttempts,
		Degraded:       o.Degraded,
		CumQuantity:    o.CumQuantity,
		LeavesQuantity: o.LeavesQuantity,
		AvgPrice:       o.AvgPrice,
		LastSeq:        ev.Seq,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Reason != nil {
		r.ReasonKind = string(o.Reason.Kind)
		r.ReasonMessage = o.Reason.Message
	}
	return r
}

// NewFillRecord returns nil for events that carry no fill.
func NewFillRecord(ev model.OrderEvent) *FillRecord {
	if ev.Fill == nil {
		return nil
	}
	f := ev.Fill
	return &FillRecord{
		ExecID:    f.ExecID,
		OrderID:   f.OrderID,
		Account:   ev.Account,
		Venue:     f.Venue,
		Quantity:  f.Quantity,
		Price:     f.Price,
		Timestamp: f.Timestamp,
	}
}

func NewOrderEventRecord(ev model.OrderEvent) (*OrderEventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	eventID := ev.EventID
	if eventID == "" {
		eventID = model.NewEventID(ev.Account, ev.Seq)
	}
	return &OrderEventRecord{
		EventID:   eventID,
		Seq:       ev.Seq,
		Account:   ev.Account,
		OrderID:   ev.OrderID,
		Kind:      string(ev.Kind),
		Status:    string(ev.Status),
		Payload:   string(payload),
		Timestamp: ev.Timestamp,
	}, nil
}
