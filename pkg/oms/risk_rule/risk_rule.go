package riskrule

import (
	"errors"
	"fmt"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// RiskRule is one pre-trade check. Check returns a *Violation when the order
// breaks the rule.
type RiskRule interface {
	Check(in *Input) error
}

// Input is everything a risk evaluation reads. Evaluate never looks anywhere
// else, so the same Input always yields the same Decision.
type Input struct {
	Order          model.Order
	Account        model.AccountSnapshot
	Profile        model.RiskProfile
	Halted         bool
	ReferencePrice decimal.Decimal
	Now            time.Time
}

// Violation is a structured rejection reason.
type Violation struct {
	Kind     model.ReasonKind
	Limit    string
	Observed string
	Message  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("risk %s: %s (limit=%s observed=%s)", v.Kind, v.Message, v.Limit, v.Observed)
}

func (v *Violation) Reason() *model.Reason {
	return &model.Reason{
		Kind:     v.Kind,
		Message:  v.Message,
		Limit:    v.Limit,
		Observed: v.Observed,
	}
}

type Decision struct {
	Accepted bool
	Reason   *model.Reason
	// Notional is the order notional the decision was computed with.
	Notional decimal.Decimal
}

// Engine runs its rules in order; the first failure wins.
type Engine struct {
	rules []RiskRule
}

// NewEngine builds an engine with the standard rule chain, followed by extra.
func NewEngine(extra ...RiskRule) *Engine {
	rules := []RiskRule{
		&HaltedRule{},
		&OrderNotionalRule{},
		&NetPositionRule{},
		&AggregateExposureRule{},
		&OrderRateRule{},
	}
	return &Engine{rules: append(rules, extra...)}
}

func (e *Engine) Evaluate(in Input) Decision {
	notional, _ := orderNotional(&in)
	for _, rule := range e.rules {
		if err := rule.Check(&in); err != nil {
			var v *Violation
			if errors.As(err, &v) {
				return Decision{Reason: v.Reason(), Notional: notional}
			}
			return Decision{
				Reason:   &model.Reason{Kind: model.ReasonValidation, Message: err.Error()},
				Notional: notional,
			}
		}
	}
	return Decision{Accepted: true, Notional: notional}
}

// orderNotional prices the order at its limit or, for market orders, at the
// reference price. ok is false when a market order has nothing to price at.
func orderNotional(in *Input) (decimal.Decimal, bool) {
	o := &in.Order
	if o.Type == model.OrderTypeLimit && o.Price.IsPositive() {
		return o.Price.Mul(o.Quantity), true
	}
	if !in.ReferencePrice.IsPositive() {
		return decimal.Zero, false
	}
	return in.ReferencePrice.Mul(o.Quantity), true
}

func signedQuantity(side model.OrderSide, qty decimal.Decimal) decimal.Decimal {
	if side == model.OrderSideSell {
		return qty.Neg()
	}
	return qty
}
