package fix

import (
	"testing"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExecReport(clOrdID string, execType enum.ExecType) executionreport.ExecutionReport {
	msg := executionreport.New(
		field.NewOrderID("V-1"),
		field.NewExecID("E-1"),
		field.NewExecType(execType),
		field.NewOrdStatus(enum.OrdStatus_PARTIALLY_FILLED),
		field.NewSide(enum.Side_BUY),
		field.NewLeavesQty(decimal.NewFromInt(7), 0),
		field.NewCumQty(decimal.NewFromInt(3), 0),
		field.NewAvgPx(decimal.RequireFromString("100.5"), 1),
	)
	msg.SetClOrdID(clOrdID)
	return msg
}

func TestFromExecutionReportTrade(t *testing.T) {
	msg := newExecReport("ord-1", enum.ExecType_TRADE)
	msg.SetLastQty(decimal.NewFromInt(3), 0)
	msg.SetLastPx(decimal.RequireFromString("100.5"), 1)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg.SetTransactTime(ts)

	r, ok := fromExecutionReport("A", msg)
	require.True(t, ok)
	assert.Equal(t, "ord-1", r.OrderID)
	assert.Equal(t, "A", r.Venue)
	assert.Equal(t, "E-1", r.ExecID)
	assert.Equal(t, model.ExecTypeTrade, r.ExecType)
	assert.True(t, r.LastQuantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, r.LastPrice.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, ts.Equal(r.Timestamp))
}

func TestFromExecutionReportCancelUsesOrigClOrdID(t *testing.T) {
	msg := newExecReport("ord-1-C1", enum.ExecType_CANCELED)
	msg.SetOrigClOrdID("ord-1")

	r, ok := fromExecutionReport("A", msg)
	require.True(t, ok)
	assert.Equal(t, "ord-1", r.OrderID)
	assert.Equal(t, model.ExecTypeCanceled, r.ExecType)
}

func TestFromExecutionReportIgnoresUnknownExecType(t *testing.T) {
	msg := newExecReport("ord-1", enum.ExecType_PENDING_NEW)
	_, ok := fromExecutionReport("A", msg)
	assert.False(t, ok)
}

func TestFromOrderCancelReject(t *testing.T) {
	msg := ordercancelreject.New(
		field.NewOrderID("V-1"),
		field.NewClOrdID("ord-1-C1"),
		field.NewOrigClOrdID("ord-1"),
		field.NewOrdStatus(enum.OrdStatus_FILLED),
		field.NewCxlRejResponseTo(enum.CxlRejResponseTo_ORDER_CANCEL_REQUEST),
	)
	msg.SetText("too late to cancel")

	r := fromOrderCancelReject("A", msg)
	assert.Equal(t, "ord-1", r.OrderID)
	assert.Equal(t, model.ExecTypeCancelRejected, r.ExecType)
	assert.Equal(t, "too late to cancel", r.Text)
}

func TestNewOrderSingle(t *testing.T) {
	order := model.Order{
		ID:          "ord-1",
		Account:     "acct-1",
		Instrument:  "XYZ",
		Side:        model.OrderSideSell,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.OrderTimeInForceIOC,
		Price:       decimal.RequireFromString("100.25"),
		Quantity:    decimal.NewFromInt(10),
	}
	msg := newOrderSingle(order, "")

	clOrdID, err := msg.GetClOrdID()
	require.Nil(t, err)
	assert.Equal(t, "ord-1", clOrdID)

	side, _ := msg.GetSide()
	assert.Equal(t, enum.Side_SELL, side)
	ordType, _ := msg.GetOrdType()
	assert.Equal(t, enum.OrdType_LIMIT, ordType)
	tif, _ := msg.GetTimeInForce()
	assert.Equal(t, enum.TimeInForce_IMMEDIATE_OR_CANCEL, tif)
	account, _ := msg.GetAccount()
	assert.Equal(t, "acct-1", account)
	price, _ := msg.GetPrice()
	assert.True(t, price.Equal(order.Price))
	qty, _ := msg.GetOrderQty()
	assert.True(t, qty.Equal(order.Quantity))
}

func TestFractionalQuantityKeepsItsDigits(t *testing.T) {
	for _, qty := range []string{"0.4", "2.5", "10", "0.125"} {
		t.Run(qty, func(t *testing.T) {
			order := model.Order{
				ID:         "ord-1",
				Instrument: "XYZ",
				Side:       model.OrderSideBuy,
				Type:       model.OrderTypeLimit,
				Price:      decimal.RequireFromString("99.5"),
				Quantity:   decimal.RequireFromString(qty),
			}

			single := newOrderSingle(order, "")
			raw, err := single.Body.GetString(tag.OrderQty)
			require.Nil(t, err)
			assert.Equal(t, qty, raw)
			raw, err = single.Body.GetString(tag.Price)
			require.Nil(t, err)
			assert.Equal(t, "99.5", raw)

			cancel := orderCancelRequest(order, cancelClOrdID(order.ID, 1))
			raw, err = cancel.Body.GetString(tag.OrderQty)
			require.Nil(t, err)
			assert.Equal(t, qty, raw)
		})
	}
}

func TestOrderStatusRequest(t *testing.T) {
	msg := orderStatusRequest(model.Order{
		ID:         "ord-1",
		Instrument: "XYZ",
		Side:       model.OrderSideSell,
	}, "A-status-1")

	clOrdID, err := msg.GetClOrdID()
	require.Nil(t, err)
	assert.Equal(t, "ord-1", clOrdID)
	side, _ := msg.GetSide()
	assert.Equal(t, enum.Side_SELL, side)
	symbol, _ := msg.GetSymbol()
	assert.Equal(t, "XYZ", symbol)
	reqID, _ := msg.GetOrdStatusReqID()
	assert.Equal(t, "A-status-1", reqID)

	sessionID := quickfix.SessionID{BeginString: "FIX.4.4", SenderCompID: "OMS", TargetCompID: "VENUE"}
	assert.Equal(t, "ord-1", routingKey(msg.ToMessage(), sessionID))
}

func TestFromExecutionReportOrderStatus(t *testing.T) {
	msg := newExecReport("ord-1", enum.ExecType_ORDER_STATUS)

	r, ok := fromExecutionReport("A", msg)
	require.True(t, ok)
	assert.Equal(t, model.ExecTypeOrderStatus, r.ExecType)
	assert.Equal(t, model.OrderStatusPartiallyFilled, r.VenueStatus)
	assert.True(t, r.CumQuantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, r.AvgPrice.Equal(decimal.RequireFromString("100.5")))
}

func TestMarketOrderHasNoPrice(t *testing.T) {
	msg := newOrderSingle(model.Order{
		ID:       "ord-2",
		Side:     model.OrderSideBuy,
		Type:     model.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	}, "house")

	assert.False(t, msg.HasPrice())
	account, _ := msg.GetAccount()
	assert.Equal(t, "house", account)
}

func TestRoutingKey(t *testing.T) {
	sessionID := quickfix.SessionID{BeginString: "FIX.4.4", SenderCompID: "OMS", TargetCompID: "VENUE"}

	fill := newExecReport("ord-1", enum.ExecType_TRADE)
	assert.Equal(t, "ord-1", routingKey(fill.ToMessage(), sessionID))

	cancel := newExecReport("ord-1-C1", enum.ExecType_CANCELED)
	cancel.SetOrigClOrdID("ord-1")
	assert.Equal(t, "ord-1", routingKey(cancel.ToMessage(), sessionID))

	empty := quickfix.NewMessage()
	empty.Header.SetString(tag.MsgType, "W")
	assert.Equal(t, sessionID.String(), routingKey(empty, sessionID))
}

func TestCancelClOrdID(t *testing.T) {
	assert.Equal(t, "ord-1-C3", cancelClOrdID("ord-1", 3))
}
