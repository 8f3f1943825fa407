package oms_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joripage/venue-oms/pkg/marketdata"
	"github.com/joripage/venue-oms/pkg/oms"
	"github.com/joripage/venue-oms/pkg/oms/model"
	riskrule "github.com/joripage/venue-oms/pkg/oms/risk_rule"
	"github.com/joripage/venue-oms/pkg/router"
	"github.com/joripage/venue-oms/pkg/stream"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/joripage/venue-oms/pkg/venue/mock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	account    = "acc-1"
	instrument = "XYZ"
	waitFor    = 2 * time.Second
	tick       = 2 * time.Millisecond
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type alertRecorder struct {
	mu      sync.Mutex
	reasons []model.Reason
}

func (a *alertRecorder) Alert(ctx context.Context, order model.Order, reason model.Reason) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasons = append(a.reasons, reason)
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reasons)
}

// countingRule passes every order and counts evaluations.
type countingRule struct {
	n atomic.Int64
}

func (r *countingRule) Check(in *riskrule.Input) error {
	r.n.Add(1)
	return nil
}

type harness struct {
	t        *testing.T
	evals    *countingRule
	oms      *oms.OMS
	hub      *stream.Hub
	agg      *marketdata.Aggregator
	profiles *riskrule.ProfileBook
	alerts   *alertRecorder
	a, b     *mock.Venue
	ctx      context.Context
}

func newHarness(t *testing.T, startWorkers bool) *harness {
	logger := zap.NewNop()
	caps := venue.Capabilities{LimitOrders: true, MarketOrders: true, Cancel: true}
	h := &harness{
		t:        t,
		hub:      stream.NewHub(stream.Config{}, nil, logger),
		profiles: riskrule.NewProfileBook(model.RiskProfile{}, nil, nil),
		alerts:   &alertRecorder{},
		evals:    &countingRule{},
		a:        mock.New(mock.Config{ID: "A", Capabilities: caps}),
		b:        mock.New(mock.Config{ID: "B", Capabilities: caps}),
	}
	h.agg = marketdata.NewAggregator(marketdata.Config{}, h.hub, logger)

	reg := venue.NewRegistry()
	reg.Register(h.a, 1)
	reg.Register(h.b, 2)

	h.oms = oms.NewOMS(oms.Config{Workers: 2}, oms.Deps{
		Risk:     riskrule.NewEngine(h.evals),
		Profiles: h.profiles,
		Quotes:   h.agg,
		Router:   router.NewRouter(router.Config{}),
		Venues:   reg,
		Events:   h.hub,
		Alerter:  h.alerts,
		Logger:   logger,
	})
	sup := venue.NewSupervisor(venue.SupervisorConfig{
		Reconnect: venue.ReconnectConfig{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond},
	}, reg, h.agg, h.oms, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	t.Cleanup(func() {
		cancel()
		sup.Wait()
		h.oms.Wait()
	})
	sup.Start(ctx)
	if startWorkers {
		h.oms.Start(ctx)
	}

	require.Eventually(t, func() bool {
		return h.a.Status() == venue.StatusConnected && h.b.Status() == venue.StatusConnected
	}, waitFor, tick)

	h.agg.OnQuote("A", instrument, model.Quote{BidPrice: d("99.90"), BidSize: d("500"), AskPrice: d("100.10"), AskSize: d("500")})
	h.agg.OnQuote("B", instrument, model.Quote{BidPrice: d("99.95"), BidSize: d("500"), AskPrice: d("100.08"), AskSize: d("500")})
	return h
}

func (h *harness) submit(side model.OrderSide, qty, price string) model.Order {
	h.t.Helper()
	req := &model.AddOrder{
		Account:    account,
		Instrument: instrument,
		Side:       side,
		Type:       model.OrderTypeLimit,
		Price:      d(price),
		Quantity:   d(qty),
	}
	o, err := h.oms.SubmitOrder(h.ctx, req, "")
	require.NoError(h.t, err)
	return o
}

func (h *harness) waitStatus(orderID string, status model.OrderStatus) model.Order {
	h.t.Helper()
	var o model.Order
	require.Eventually(h.t, func() bool {
		var err error
		o, err = h.oms.GetOrder(orderID)
		return err == nil && o.Status == status
	}, waitFor, tick, "order %s never reached %s", orderID, status)
	return o
}

func TestSubmitOrderIdempotencyKey(t *testing.T) {
	h := newHarness(t, true)
	req := &model.AddOrder{
		Account:    account,
		Instrument: instrument,
		Side:       model.OrderSideBuy,
		Type:       model.OrderTypeLimit,
		Price:      d("101"),
		Quantity:   d("10"),
	}

	first, err := h.oms.SubmitOrder(h.ctx, req, "k1")
	require.NoError(t, err)
	second, err := h.oms.SubmitOrder(h.ctx, req, "k1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "k1", first.IdempotencyKey)
	assert.Len(t, h.oms.ListOrders(account), 1)
}

func TestSubmitOrderValidation(t *testing.T) {
	h := newHarness(t, true)

	cases := map[string]*model.AddOrder{
		"zero quantity": {Account: account, Instrument: instrument, Side: model.OrderSideBuy, Type: model.OrderTypeLimit, Price: d("1"), Quantity: d("0")},
		"limit without price": {Account: account, Instrument: instrument, Side: model.OrderSideBuy, Type: model.OrderTypeLimit, Quantity: d("1")},
		"market with price": {Account: account, Instrument: instrument, Side: model.OrderSideBuy, Type: model.OrderTypeMarket, Price: d("1"), Quantity: d("1")},
		"bad side": {Account: account, Instrument: instrument, Side: "HOLD", Type: model.OrderTypeLimit, Price: d("1"), Quantity: d("1")},
		"no account": {Instrument: instrument, Side: model.OrderSideBuy, Type: model.OrderTypeLimit, Price: d("1"), Quantity: d("1")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.oms.SubmitOrder(h.ctx, req, "")
			require.ErrorIs(t, err, oms.ErrValidation)
		})
	}
	assert.Empty(t, h.oms.ListOrders(account))
}

func TestRiskRejectsOrderNotional(t *testing.T) {
	h := newHarness(t, true)
	h.profiles.Set(model.RiskProfile{Account: account, MaxOrderNotional: d("10000")})

	o := h.submit(model.OrderSideBuy, "120", "100")
	o = h.waitStatus(o.ID, model.OrderStatusRejected)

	require.NotNil(t, o.Reason)
	assert.Equal(t, model.ReasonMaxOrderNotional, o.Reason.Kind)
	assert.Equal(t, "10000", o.Reason.Limit)
	assert.Equal(t, "12000", o.Reason.Observed)
	assert.Empty(t, o.Venue)
}

func TestRoutesToBestVenueAndSkipsDisconnected(t *testing.T) {
	h := newHarness(t, true)

	first := h.submit(model.OrderSideBuy, "10", "101")
	first = h.waitStatus(first.ID, model.OrderStatusSubmitted)
	assert.Equal(t, "B", first.Venue)
	assert.Equal(t, 1, first.RouteAttempts)

	h.b.Drop()
	second := h.submit(model.OrderSideBuy, "10", "101")
	second = h.waitStatus(second.ID, model.OrderStatusSubmitted)
	assert.Equal(t, "A", second.Venue)
}

func TestPartialFillsCompleteOrder(t *testing.T) {
	h := newHarness(t, true)
	h.b.SetFillPlan(d("3"), d("7"))

	sub, err := h.hub.SubscribeOrders(account, 0)
	require.NoError(t, err)
	defer sub.Close()

	o := h.submit(model.OrderSideBuy, "10", "101")
	o = h.waitStatus(o.ID, model.OrderStatusFilled)

	assert.True(t, o.CumQuantity.Equal(d("10")))
	assert.True(t, o.LeavesQuantity.IsZero())
	assert.True(t, o.AvgPrice.Equal(d("101")))
	assert.Len(t, o.Fills, 2)

	positions := h.oms.Positions(account)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].NetQuantity.Equal(d("10")))

	var statuses []model.OrderStatus
	var fills int
	for ev := range sub.C() {
		statuses = append(statuses, ev.Status)
		if ev.Kind == model.OrderEventFill {
			fills++
		}
		if ev.Status == model.OrderStatusFilled {
			break
		}
	}
	assert.Equal(t, []model.OrderStatus{
		model.OrderStatusPendingRiskCheck,
		model.OrderStatusPendingRoute,
		model.OrderStatusSubmitted,
		model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
	}, statuses)
	assert.Equal(t, 2, fills)
}

func TestTerminalOrderIgnoresLateReports(t *testing.T) {
	h := newHarness(t, true)
	h.b.SetFillPlan(d("10"))

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusFilled)
	seq := h.hub.LastSeq(account)

	for _, execType := range []model.OrderExecType{model.ExecTypeTrade, model.ExecTypeCanceled, model.ExecTypeExpired} {
		h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
			OrderID:      o.ID,
			Venue:        "B",
			ExecID:       "late-" + string(execType),
			ExecType:     execType,
			LastQuantity: d("1"),
			LastPrice:    d("101"),
		})
	}

	after, err := h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFilled, after.Status)
	assert.True(t, after.CumQuantity.Equal(d("10")))
	assert.Equal(t, seq, h.hub.LastSeq(account))
}

func TestDuplicateExecIDIsAppliedOnce(t *testing.T) {
	h := newHarness(t, true)

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusSubmitted)

	report := model.ExecutionReport{
		OrderID:      o.ID,
		Venue:        "B",
		ExecID:       "dup-1",
		ExecType:     model.ExecTypeTrade,
		LastQuantity: d("4"),
		LastPrice:    d("100.5"),
	}
	h.oms.OnExecutionReport(h.ctx, report)
	h.oms.OnExecutionReport(h.ctx, report)

	after, err := h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyFilled, after.Status)
	assert.True(t, after.CumQuantity.Equal(d("4")))
	assert.Len(t, after.Fills, 1)
}

func TestReportFromOtherVenueIsDiscarded(t *testing.T) {
	h := newHarness(t, true)

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusSubmitted)

	h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
		OrderID:      o.ID,
		Venue:        "A",
		ExecID:       "a-1",
		ExecType:     model.ExecTypeTrade,
		LastQuantity: d("4"),
		LastPrice:    d("100.5"),
	})

	after, err := h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusSubmitted, after.Status)
	assert.True(t, after.CumQuantity.IsZero())
}

func TestOverfillFreezesOnlyThatOrder(t *testing.T) {
	h := newHarness(t, true)
	h.b.SetFillPlan(d("3"))

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusPartiallyFilled)

	h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
		OrderID:      o.ID,
		Venue:        "B",
		ExecID:       "over-1",
		ExecType:     model.ExecTypeTrade,
		LastQuantity: d("8"),
		LastPrice:    d("101"),
	})

	frozen, err := h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFrozen, frozen.Status)
	require.NotNil(t, frozen.Reason)
	assert.Equal(t, model.ReasonInvariantViolation, frozen.Reason.Kind)
	assert.Equal(t, "10", frozen.Reason.Limit)
	assert.Equal(t, "11", frozen.Reason.Observed)
	assert.True(t, frozen.CumQuantity.Equal(d("3")))
	assert.Equal(t, 1, h.alerts.count())

	other := h.submit(model.OrderSideBuy, "5", "101")
	h.waitStatus(other.ID, model.OrderStatusSubmitted)
}

func TestCancelSubmittedOrder(t *testing.T) {
	h := newHarness(t, true)

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusSubmitted)

	pending, err := h.oms.CancelOrder(h.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPendingCancel, pending.Status)

	cancelled := h.waitStatus(o.ID, model.OrderStatusCancelled)
	require.NotNil(t, cancelled.Reason)
	assert.Equal(t, model.ReasonClientCancelled, cancelled.Reason.Kind)

	_, err = h.oms.CancelOrder(h.ctx, o.ID)
	assert.ErrorIs(t, err, oms.ErrInvalidState)
}

func TestCancelInvalidOrders(t *testing.T) {
	h := newHarness(t, true)
	h.b.SetFillPlan(d("10"))

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusFilled)

	_, err := h.oms.CancelOrder(h.ctx, o.ID)
	assert.ErrorIs(t, err, oms.ErrInvalidState)

	_, err = h.oms.CancelOrder(h.ctx, "missing")
	assert.ErrorIs(t, err, oms.ErrNotFound)
}

func TestCancelRejectedRestoresOpenState(t *testing.T) {
	h := newHarness(t, true)
	h.b.RejectNextCancel("order locked")

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusSubmitted)

	after, err := h.oms.CancelOrder(h.ctx, o.ID)
	require.ErrorIs(t, err, venue.ErrCancelRejected)
	assert.Equal(t, model.OrderStatusSubmitted, after.Status)
	assert.Empty(t, after.PrevStatus)

	// a second attempt goes through
	_, err = h.oms.CancelOrder(h.ctx, o.ID)
	require.NoError(t, err)
	h.waitStatus(o.ID, model.OrderStatusCancelled)
}

func TestCancelBeforeRouting(t *testing.T) {
	h := newHarness(t, false)

	o := h.submit(model.OrderSideBuy, "10", "101")
	assert.Equal(t, model.OrderStatusPendingRiskCheck, o.Status)

	pending, err := h.oms.CancelOrder(h.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPendingCancel, pending.Status)

	h.oms.Start(h.ctx)
	cancelled := h.waitStatus(o.ID, model.OrderStatusCancelled)
	require.NotNil(t, cancelled.Reason)
	assert.Equal(t, model.ReasonClientCancelled, cancelled.Reason.Kind)
	assert.Empty(t, cancelled.Venue)
	assert.Empty(t, h.a.Submitted())
	assert.Empty(t, h.b.Submitted())
}

func TestReroutesAfterVenueReject(t *testing.T) {
	h := newHarness(t, true)
	h.b.RejectNext("no liquidity", false)

	o := h.submit(model.OrderSideBuy, "10", "101")
	o = h.waitStatus(o.ID, model.OrderStatusSubmitted)

	assert.Equal(t, "A", o.Venue)
	assert.Equal(t, 2, o.RouteAttempts)
}

func TestRejectedWhenEveryVenueRejects(t *testing.T) {
	h := newHarness(t, true)
	h.b.RejectNext("no liquidity", false)
	h.a.RejectNext("price band", false)

	o := h.submit(model.OrderSideBuy, "10", "101")
	o = h.waitStatus(o.ID, model.OrderStatusRejected)

	require.NotNil(t, o.Reason)
	assert.Equal(t, model.ReasonVenueRejected, o.Reason.Kind)
	assert.Equal(t, "price band", o.Reason.Cause)
}

func TestNoVenueAvailable(t *testing.T) {
	h := newHarness(t, true)

	o, err := h.oms.SubmitOrder(h.ctx, &model.AddOrder{
		Account:    account,
		Instrument: "UNQUOTED",
		Side:       model.OrderSideBuy,
		Type:       model.OrderTypeLimit,
		Price:      d("10"),
		Quantity:   d("1"),
	}, "")
	require.NoError(t, err)

	o = h.waitStatus(o.ID, model.OrderStatusRejected)
	require.NotNil(t, o.Reason)
	assert.Equal(t, model.ReasonNoVenueAvailable, o.Reason.Kind)
}

func TestMarketOrderWithoutReferencePrice(t *testing.T) {
	h := newHarness(t, true)

	o, err := h.oms.SubmitOrder(h.ctx, &model.AddOrder{
		Account:    account,
		Instrument: "UNQUOTED",
		Side:       model.OrderSideSell,
		Type:       model.OrderTypeMarket,
		Quantity:   d("1"),
	}, "")
	require.NoError(t, err)

	o = h.waitStatus(o.ID, model.OrderStatusRejected)
	require.NotNil(t, o.Reason)
	assert.Equal(t, model.ReasonNoReferencePrice, o.Reason.Kind)
}

func TestInFlightOrdersCountTowardNetPosition(t *testing.T) {
	h := newHarness(t, true)
	h.profiles.Set(model.RiskProfile{Account: account, MaxNetPosition: d("15")})

	first := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(first.ID, model.OrderStatusSubmitted)

	second := h.submit(model.OrderSideBuy, "10", "101")
	second = h.waitStatus(second.ID, model.OrderStatusRejected)
	require.NotNil(t, second.Reason)
	assert.Equal(t, model.ReasonMaxNetPosition, second.Reason.Kind)
	assert.Equal(t, "20", second.Reason.Observed)

	// cancelling the first frees its reservation
	_, err := h.oms.CancelOrder(h.ctx, first.ID)
	require.NoError(t, err)
	h.waitStatus(first.ID, model.OrderStatusCancelled)

	third := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(third.ID, model.OrderStatusSubmitted)
}

func TestDegradedOrdersReconcileAfterReconnect(t *testing.T) {
	h := newHarness(t, true)

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusSubmitted)
	require.NoError(t, h.b.Fill(o.ID, d("3"), d("100.9")))
	h.waitStatus(o.ID, model.OrderStatusPartiallyFilled)

	h.b.Drop()
	require.Eventually(t, func() bool {
		got, _ := h.oms.GetOrder(o.ID)
		return got.Degraded
	}, waitFor, tick)

	h.b.Restore()
	require.Eventually(t, func() bool {
		got, _ := h.oms.GetOrder(o.ID)
		return !got.Degraded
	}, waitFor, tick)

	// the venue replays its reports; none may be counted twice
	require.Never(t, func() bool {
		got, _ := h.oms.GetOrder(o.ID)
		return !got.CumQuantity.Equal(d("3")) || got.Status != model.OrderStatusPartiallyFilled
	}, 100*time.Millisecond, 5*time.Millisecond)

	positions := h.oms.Positions(account)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].NetQuantity.Equal(d("3")))
}

func TestConcurrentSubmitsShareIdempotencyKey(t *testing.T) {
	h := newHarness(t, true)
	req := &model.AddOrder{
		Account:    account,
		Instrument: instrument,
		Side:       model.OrderSideBuy,
		Type:       model.OrderTypeLimit,
		Price:      d("101"),
		Quantity:   d("10"),
	}

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			o, err := h.oms.SubmitOrder(h.ctx, req, "same-key")
			ids[i], errs[i] = o.ID, err
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	h.waitStatus(ids[0], model.OrderStatusSubmitted)
	assert.Len(t, h.oms.ListOrders(account), 1)
	assert.Equal(t, int64(1), h.evals.n.Load())
	assert.Len(t, append(h.a.Submitted(), h.b.Submitted()...), 1)
}

func TestCancelLosesToFill(t *testing.T) {
	h := newHarness(t, true)
	h.a.HoldCancels(true)
	h.b.HoldCancels(true)

	const orders = 20
	ids := make([]string, orders)
	venues := make(map[string]string, orders)
	for i := range ids {
		o := h.submit(model.OrderSideBuy, "10", "101")
		o = h.waitStatus(o.ID, model.OrderStatusSubmitted)
		ids[i] = o.ID
		venues[o.ID] = o.Venue
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			after, err := h.oms.CancelOrder(h.ctx, id)
			if err != nil {
				// the fill got there first
				assert.ErrorIs(t, err, oms.ErrInvalidState)
				assert.Equal(t, model.OrderStatusFilled, after.Status)
			}
		}(id)
		go func(i int, id string) {
			defer wg.Done()
			h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
				OrderID:      id,
				Venue:        venues[id],
				ExecID:       fmt.Sprintf("race-%d", i),
				ExecType:     model.ExecTypeTrade,
				LastQuantity: d("10"),
				LastPrice:    d("100.5"),
			})
		}(i, id)
	}
	wg.Wait()

	for _, id := range ids {
		filled := h.waitStatus(id, model.OrderStatusFilled)
		assert.True(t, filled.CumQuantity.Equal(d("10")))
		assert.Empty(t, filled.PrevStatus)
		assert.Nil(t, filled.Reason)
	}
	positions := h.oms.Positions(account)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].NetQuantity.Equal(d("200")))
}

func TestSecondCancelWhilePendingReturnsOrder(t *testing.T) {
	h := newHarness(t, false)

	o := h.submit(model.OrderSideBuy, "10", "101")
	first, err := h.oms.CancelOrder(h.ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPendingCancel, first.Status)

	second, err := h.oms.CancelOrder(h.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPendingCancel, second.Status)
	assert.Equal(t, first.PrevStatus, second.PrevStatus)

	h.oms.Start(h.ctx)
	h.waitStatus(o.ID, model.OrderStatusCancelled)
}

func TestDegradedUntilVenueReportsOnOrder(t *testing.T) {
	h := newHarness(t, true)

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusSubmitted)

	h.b.Drop()
	require.Eventually(t, func() bool {
		got, _ := h.oms.GetOrder(o.ID)
		return got.Degraded
	}, waitFor, tick)

	// the status query fails while the venue is still down, so nothing
	// about the order has been confirmed yet
	h.oms.OnVenueStatus(h.ctx, "B", venue.StatusConnected)
	got, err := h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.True(t, got.Degraded)

	h.b.Restore()
	require.Eventually(t, func() bool {
		got, _ := h.oms.GetOrder(o.ID)
		return !got.Degraded
	}, waitFor, tick)
}

func TestStatusReportBooksMissedFills(t *testing.T) {
	h := newHarness(t, true)

	o := h.submit(model.OrderSideBuy, "10", "101")
	h.waitStatus(o.ID, model.OrderStatusSubmitted)
	h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
		OrderID:      o.ID,
		Venue:        "B",
		ExecID:       "t-1",
		ExecType:     model.ExecTypeTrade,
		LastQuantity: d("2"),
		LastPrice:    d("100"),
		CumQuantity:  d("2"),
	})

	// the venue filled 4 more at 101 while the session was down
	h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
		OrderID:     o.ID,
		Venue:       "B",
		ExecID:      "status-1",
		ExecType:    model.ExecTypeOrderStatus,
		CumQuantity: d("6"),
		AvgPrice:    d("100.6666666666666667"),
		VenueStatus: model.OrderStatusPartiallyFilled,
	})
	got, err := h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyFilled, got.Status)
	assert.True(t, got.CumQuantity.Equal(d("6")))
	require.Len(t, got.Fills, 2)
	assert.True(t, got.Fills[1].Quantity.Equal(d("4")))
	assert.True(t, got.Fills[1].Price.Round(4).Equal(d("101")))

	// the missed trade itself arrives afterwards and is recognised
	h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
		OrderID:      o.ID,
		Venue:        "B",
		ExecID:       "t-2",
		ExecType:     model.ExecTypeTrade,
		LastQuantity: d("4"),
		LastPrice:    d("101"),
		CumQuantity:  d("6"),
	})
	got, err = h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.True(t, got.CumQuantity.Equal(d("6")))
	assert.Len(t, got.Fills, 2)

	h.oms.OnExecutionReport(h.ctx, model.ExecutionReport{
		OrderID:     o.ID,
		Venue:       "B",
		ExecID:      "status-2",
		ExecType:    model.ExecTypeOrderStatus,
		CumQuantity: d("6"),
		AvgPrice:    d("100.6666666666666667"),
		VenueStatus: model.OrderStatusCancelled,
		Text:        "session cancel on disconnect",
	})
	cancelled, err := h.oms.GetOrder(o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Reason)
	assert.Equal(t, model.ReasonVenueCancelled, cancelled.Reason.Kind)

	positions := h.oms.Positions(account)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].NetQuantity.Equal(d("6")))
}

// gatedPublisher holds every event until the gate opens.
type gatedPublisher struct {
	gate   chan struct{}
	mu     sync.Mutex
	events []model.OrderEvent
}

func (p *gatedPublisher) PublishOrderEvent(ev model.OrderEvent) model.OrderEvent {
	<-p.gate
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return ev
}

func (p *gatedPublisher) statuses() []model.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.OrderStatus, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Order.Status)
	}
	return out
}

func TestSlowPublisherDoesNotBlockOrderReads(t *testing.T) {
	pub := &gatedPublisher{gate: make(chan struct{})}
	s := oms.NewOMS(oms.Config{}, oms.Deps{Events: pub, Logger: zap.NewNop()})
	ctx := context.Background()

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		_, err := s.SubmitOrder(ctx, &model.AddOrder{
			Account:    account,
			Instrument: instrument,
			Side:       model.OrderSideBuy,
			Type:       model.OrderTypeLimit,
			Price:      d("101"),
			Quantity:   d("10"),
		}, "slow-1")
		assert.NoError(t, err)
	}()

	var orderID string
	require.Eventually(t, func() bool {
		orders := s.ListOrders(account)
		if len(orders) != 1 {
			return false
		}
		orderID = orders[0].ID
		return orders[0].Status == model.OrderStatusPendingRiskCheck
	}, waitFor, tick)

	// the submitter is stuck publishing; the order stays usable
	cancelled, err := s.CancelOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPendingCancel, cancelled.Status)

	close(pub.gate)
	<-submitted
	require.Eventually(t, func() bool {
		return len(pub.statuses()) == 2
	}, waitFor, tick)
	assert.Equal(t, []model.OrderStatus{model.OrderStatusPendingRiskCheck, model.OrderStatusPendingCancel}, pub.statuses())
}
