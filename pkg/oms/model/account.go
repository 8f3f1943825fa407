package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the net holding of one account in one instrument.
type Position struct {
	Account     string          `json:"account"`
	Instrument  string          `json:"instrument"`
	NetQuantity decimal.Decimal `json:"net_quantity"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
}

// Reservation is capacity held by an accepted order that has not fully filled.
type Reservation struct {
	OrderID    string
	Instrument string
	Side       OrderSide
	Quantity   decimal.Decimal
	Price      decimal.Decimal
}

func (r Reservation) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.Price)
}

// AccountSnapshot is the point-in-time account state risk checks read.
type AccountSnapshot struct {
	Account      string
	Positions    map[string]Position
	InFlight     []Reservation
	RecentOrders []time.Time
}

func (s AccountSnapshot) Position(instrument string) Position {
	if p, ok := s.Positions[instrument]; ok {
		return p
	}
	return Position{Account: s.Account, Instrument: instrument}
}

// InFlightQuantity sums reserved quantity for instrument on side.
func (s AccountSnapshot) InFlightQuantity(instrument string, side OrderSide) decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.InFlight {
		if r.Instrument == instrument && r.Side == side {
			total = total.Add(r.Quantity)
		}
	}
	return total
}

type RiskProfile struct {
	Account              string          `yaml:"account"`
	MaxOrderNotional     decimal.Decimal `yaml:"max_order_notional"`
	MaxNetPosition       decimal.Decimal `yaml:"max_net_position"`
	MaxAggregateExposure decimal.Decimal `yaml:"max_aggregate_exposure"`
	MaxOrders            int             `yaml:"max_orders"`
	RateWindow           time.Duration   `yaml:"rate_window"`
}
