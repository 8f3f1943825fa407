package riskrule

import (
	"testing"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func limitOrder(side model.OrderSide, price, qty int64) model.Order {
	return model.Order{
		ID:         "O1",
		Account:    "ACC1",
		Instrument: "X",
		Side:       side,
		Type:       model.OrderTypeLimit,
		Price:      decimal.NewFromInt(price),
		Quantity:   decimal.NewFromInt(qty),
	}
}

func baseInput(order model.Order) Input {
	return Input{
		Order:   order,
		Account: model.AccountSnapshot{Account: "ACC1", Positions: map[string]model.Position{}},
		Profile: model.RiskProfile{Account: "ACC1"},
		Now:     now,
	}
}

func TestMaxOrderNotionalRejected(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideBuy, 120, 100))
	in.Profile.MaxOrderNotional = decimal.NewFromInt(10000)

	d := NewEngine().Evaluate(in)
	require.False(t, d.Accepted)
	require.NotNil(t, d.Reason)
	assert.Equal(t, model.ReasonMaxOrderNotional, d.Reason.Kind)
	assert.Equal(t, "10000", d.Reason.Limit)
	assert.Equal(t, "12000", d.Reason.Observed)
}

func TestAcceptWithinLimits(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideBuy, 100, 50))
	in.Profile.MaxOrderNotional = decimal.NewFromInt(10000)
	in.Profile.MaxNetPosition = decimal.NewFromInt(100)
	in.Profile.MaxAggregateExposure = decimal.NewFromInt(50000)

	d := NewEngine().Evaluate(in)
	assert.True(t, d.Accepted)
	assert.Nil(t, d.Reason)
	assert.True(t, d.Notional.Equal(decimal.NewFromInt(5000)))
}

func TestFirstFailureWins(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideBuy, 200, 100))
	in.Halted = true
	in.Profile.MaxOrderNotional = decimal.NewFromInt(1)

	d := NewEngine().Evaluate(in)
	require.False(t, d.Accepted)
	assert.Equal(t, model.ReasonInstrumentHalted, d.Reason.Kind)
}

func TestNetPositionCountsInFlight(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideBuy, 10, 30))
	in.Profile.MaxNetPosition = decimal.NewFromInt(100)
	in.Account.Positions["X"] = model.Position{Instrument: "X", NetQuantity: decimal.NewFromInt(50), AvgPrice: decimal.NewFromInt(10)}

	assert.True(t, NewEngine().Evaluate(in).Accepted)

	in.Account.InFlight = []model.Reservation{
		{OrderID: "O0", Instrument: "X", Side: model.OrderSideBuy, Quantity: decimal.NewFromInt(25), Price: decimal.NewFromInt(10)},
	}
	d := NewEngine().Evaluate(in)
	require.False(t, d.Accepted)
	assert.Equal(t, model.ReasonMaxNetPosition, d.Reason.Kind)
	assert.Equal(t, "105", d.Reason.Observed)
}

func TestSellReducesNetPosition(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideSell, 10, 80))
	in.Profile.MaxNetPosition = decimal.NewFromInt(100)
	in.Account.Positions["X"] = model.Position{Instrument: "X", NetQuantity: decimal.NewFromInt(90)}

	assert.True(t, NewEngine().Evaluate(in).Accepted)
}

func TestAggregateExposure(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideBuy, 10, 10))
	in.Profile.MaxAggregateExposure = decimal.NewFromInt(1000)
	in.Account.Positions["Y"] = model.Position{Instrument: "Y", NetQuantity: decimal.NewFromInt(-50), AvgPrice: decimal.NewFromInt(16)}
	in.Account.InFlight = []model.Reservation{
		{OrderID: "O0", Instrument: "Z", Side: model.OrderSideSell, Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(101)},
	}

	d := NewEngine().Evaluate(in)
	require.False(t, d.Accepted)
	assert.Equal(t, model.ReasonMaxAggregateExposure, d.Reason.Kind)
	assert.Equal(t, "1001", d.Reason.Observed)
}

func TestOrderRateWindow(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideBuy, 1, 1))
	in.Profile.MaxOrders = 2
	in.Profile.RateWindow = time.Second
	in.Account.RecentOrders = []time.Time{now.Add(-2 * time.Second), now.Add(-500 * time.Millisecond)}

	assert.True(t, NewEngine().Evaluate(in).Accepted)

	in.Account.RecentOrders = append(in.Account.RecentOrders, now.Add(-100*time.Millisecond))
	d := NewEngine().Evaluate(in)
	require.False(t, d.Accepted)
	assert.Equal(t, model.ReasonRateLimit, d.Reason.Kind)
	assert.Equal(t, "3", d.Reason.Observed)
}

func TestMarketOrderNeedsReferencePrice(t *testing.T) {
	order := limitOrder(model.OrderSideBuy, 0, 10)
	order.Type = model.OrderTypeMarket
	in := baseInput(order)

	d := NewEngine().Evaluate(in)
	require.False(t, d.Accepted)
	assert.Equal(t, model.ReasonNoReferencePrice, d.Reason.Kind)

	in.ReferencePrice = decimal.NewFromInt(20)
	d = NewEngine().Evaluate(in)
	assert.True(t, d.Accepted)
	assert.True(t, d.Notional.Equal(decimal.NewFromInt(200)))
}

func TestEvaluateIsDeterministic(t *testing.T) {
	in := baseInput(limitOrder(model.OrderSideBuy, 101, 99))
	in.Profile.MaxOrderNotional = decimal.NewFromInt(10000)
	in.Profile.MaxOrders = 1
	in.Profile.RateWindow = time.Minute
	engine := NewEngine()

	first := engine.Evaluate(in)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, engine.Evaluate(in))
	}
}

func TestProfileBook(t *testing.T) {
	book := NewProfileBook(
		model.RiskProfile{MaxOrders: 5},
		[]model.RiskProfile{{Account: "A", MaxOrders: 1}},
		[]string{"H"},
	)

	assert.Equal(t, 1, book.Profile("A").MaxOrders)
	p := book.Profile("B")
	assert.Equal(t, "B", p.Account)
	assert.Equal(t, 5, p.MaxOrders)

	assert.True(t, book.IsHalted("H"))
	book.Halt("H", false)
	assert.False(t, book.IsHalted("H"))

	book.Set(model.RiskProfile{Account: "B", MaxOrders: 9})
	assert.Equal(t, 9, book.Profile("B").MaxOrders)
}
