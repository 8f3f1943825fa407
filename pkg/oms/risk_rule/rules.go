package riskrule

import (
	"strconv"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/shopspring/decimal"
)

type HaltedRule struct{}

func (r *HaltedRule) Check(in *Input) error {
	if in.Halted {
		return &Violation{
			Kind:     model.ReasonInstrumentHalted,
			Message:  "instrument " + in.Order.Instrument + " is halted",
			Observed: in.Order.Instrument,
		}
	}
	return nil
}

type OrderNotionalRule struct{}

func (r *OrderNotionalRule) Check(in *Input) error {
	notional, ok := orderNotional(in)
	if !ok {
		return &Violation{
			Kind:    model.ReasonNoReferencePrice,
			Message: "market order has no reference price for " + in.Order.Instrument,
		}
	}
	limit := in.Profile.MaxOrderNotional
	if limit.IsPositive() && notional.GreaterThan(limit) {
		return &Violation{
			Kind:     model.ReasonMaxOrderNotional,
			Message:  "order notional exceeds max-order-notional",
			Limit:    limit.String(),
			Observed: notional.String(),
		}
	}
	return nil
}

// NetPositionRule counts same-side in-flight quantity as if it had filled.
type NetPositionRule struct{}

func (r *NetPositionRule) Check(in *Input) error {
	limit := in.Profile.MaxNetPosition
	if !limit.IsPositive() {
		return nil
	}
	o := &in.Order
	pos := in.Account.Position(o.Instrument)
	pending := in.Account.InFlightQuantity(o.Instrument, o.Side)
	next := pos.NetQuantity.
		Add(signedQuantity(o.Side, pending)).
		Add(signedQuantity(o.Side, o.Quantity))
	if next.Abs().GreaterThan(limit) {
		return &Violation{
			Kind:     model.ReasonMaxNetPosition,
			Message:  "resulting net position exceeds max-net-position",
			Limit:    limit.String(),
			Observed: next.String(),
		}
	}
	return nil
}

type AggregateExposureRule struct{}

func (r *AggregateExposureRule) Check(in *Input) error {
	limit := in.Profile.MaxAggregateExposure
	if !limit.IsPositive() {
		return nil
	}
	exposure := decimal.Zero
	for _, p := range in.Account.Positions {
		exposure = exposure.Add(p.NetQuantity.Abs().Mul(p.AvgPrice))
	}
	for _, res := range in.Account.InFlight {
		exposure = exposure.Add(res.Notional())
	}
	notional, _ := orderNotional(in)
	exposure = exposure.Add(notional)
	if exposure.GreaterThan(limit) {
		return &Violation{
			Kind:     model.ReasonMaxAggregateExposure,
			Message:  "aggregate exposure exceeds max-aggregate-exposure",
			Limit:    limit.String(),
			Observed: exposure.String(),
		}
	}
	return nil
}

// OrderRateRule limits accepted orders inside the trailing rate window.
type OrderRateRule struct{}

func (r *OrderRateRule) Check(in *Input) error {
	maxOrders, window := in.Profile.MaxOrders, in.Profile.RateWindow
	if maxOrders <= 0 || window <= 0 {
		return nil
	}
	from := in.Now.Add(-window)
	count := 0
	for _, ts := range in.Account.RecentOrders {
		if ts.After(from) && !ts.After(in.Now) {
			count++
		}
	}
	if count+1 > maxOrders {
		return &Violation{
			Kind:     model.ReasonRateLimit,
			Message:  "order count exceeds max orders per " + window.String(),
			Limit:    strconv.Itoa(maxOrders),
			Observed: strconv.Itoa(count + 1),
		}
	}
	return nil
}
