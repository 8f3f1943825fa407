package fix

import (
	"fmt"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/marketdatarequest"
	"github.com/quickfixgo/fix44/marketdatasnapshotfullrefresh"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/fix44/orderstatusrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
)

var (
	sideMapping = map[model.OrderSide]enum.Side{
		model.OrderSideBuy:  enum.Side_BUY,
		model.OrderSideSell: enum.Side_SELL,
	}

	ordTypeMapping = map[model.OrderType]enum.OrdType{
		model.OrderTypeLimit:  enum.OrdType_LIMIT,
		model.OrderTypeMarket: enum.OrdType_MARKET,
	}

	timeInForceMapping = map[model.OrderTimeInForce]enum.TimeInForce{
		model.OrderTimeInForceDAY: enum.TimeInForce_DAY,
		model.OrderTimeInForceGTC: enum.TimeInForce_GOOD_TILL_CANCEL,
		model.OrderTimeInForceIOC: enum.TimeInForce_IMMEDIATE_OR_CANCEL,
		model.OrderTimeInForceFOK: enum.TimeInForce_FILL_OR_KILL,
	}

	execTypeMapping = map[enum.ExecType]model.OrderExecType{
		enum.ExecType_NEW:          model.ExecTypeNew,
		enum.ExecType_TRADE:        model.ExecTypeTrade,
		enum.ExecType_CANCELED:     model.ExecTypeCanceled,
		enum.ExecType_REJECTED:     model.ExecTypeRejected,
		enum.ExecType_EXPIRED:      model.ExecTypeExpired,
		enum.ExecType_ORDER_STATUS: model.ExecTypeOrderStatus,
		// partial fill and fill, still sent by FIX 4.2 era venues
		enum.ExecType("1"): model.ExecTypeTrade,
		enum.ExecType("2"): model.ExecTypeTrade,
	}

	ordStatusMapping = map[enum.OrdStatus]model.OrderStatus{
		enum.OrdStatus_PENDING_NEW:      model.OrderStatusPendingRoute,
		enum.OrdStatus_NEW:              model.OrderStatusSubmitted,
		enum.OrdStatus_PARTIALLY_FILLED: model.OrderStatusPartiallyFilled,
		enum.OrdStatus_PENDING_CANCEL:   model.OrderStatusPendingCancel,
		enum.OrdStatus_FILLED:           model.OrderStatusFilled,
		enum.OrdStatus_CANCELED:         model.OrderStatusCancelled,
		enum.OrdStatus_DONE_FOR_DAY:     model.OrderStatusExpired,
		enum.OrdStatus_EXPIRED:          model.OrderStatusExpired,
		enum.OrdStatus_REJECTED:         model.OrderStatusRejected,
	}
)

// decimalScale keeps every digit the value carries, so 2.5 is sent as 2.5
// and never rounded to the venue's default precision.
func decimalScale(v decimal.Decimal) int32 {
	if e := v.Exponent(); e < 0 {
		return -e
	}
	return 0
}

// newOrderSingle uses the order id as ClOrdID so every report can be matched
// back without a lookup table.
func newOrderSingle(order model.Order, account string) newordersingle.NewOrderSingle {
	msg := newordersingle.New(
		field.NewClOrdID(order.ID),
		field.NewSide(sideMapping[order.Side]),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(ordTypeMapping[order.Type]),
	)
	msg.SetSymbol(order.Instrument)
	if account != "" {
		msg.SetAccount(account)
	} else {
		msg.SetAccount(order.Account)
	}
	msg.SetOrderQty(order.Quantity, decimalScale(order.Quantity))
	if order.Type == model.OrderTypeLimit {
		msg.SetPrice(order.Price, decimalScale(order.Price))
	}
	if tif, ok := timeInForceMapping[order.TimeInForce]; ok {
		msg.SetTimeInForce(tif)
	}
	return msg
}

func cancelClOrdID(orderID string, n uint64) string {
	return fmt.Sprintf("%s-C%d", orderID, n)
}

func orderCancelRequest(order model.Order, clOrdID string) ordercancelrequest.OrderCancelRequest {
	msg := ordercancelrequest.New(
		field.NewOrigClOrdID(order.ID),
		field.NewClOrdID(clOrdID),
		field.NewSide(sideMapping[order.Side]),
		field.NewTransactTime(time.Now()),
	)
	msg.SetSymbol(order.Instrument)
	msg.SetOrderQty(order.Quantity, decimalScale(order.Quantity))
	return msg
}

// orderStatusRequest asks the venue for its view of an order; the answer is an
// ExecutionReport with ExecType ORDER_STATUS keyed by the same ClOrdID.
func orderStatusRequest(order model.Order, reqID string) orderstatusrequest.OrderStatusRequest {
	msg := orderstatusrequest.New(
		field.NewClOrdID(order.ID),
		field.NewSide(sideMapping[order.Side]),
	)
	msg.SetSymbol(order.Instrument)
	msg.SetOrdStatusReqID(reqID)
	return msg
}

func marketDataRequest(reqID, instrument string, subscribe bool) marketdatarequest.MarketDataRequest {
	reqType := enum.SubscriptionRequestType_SNAPSHOT_PLUS_UPDATES
	if !subscribe {
		// disable previous snapshot plus updates
		reqType = enum.SubscriptionRequestType("2")
	}
	msg := marketdatarequest.New(
		field.NewMDReqID(reqID),
		field.NewSubscriptionRequestType(reqType),
		field.NewMarketDepth(1),
	)

	entryTypes := marketdatarequest.NewNoMDEntryTypesRepeatingGroup()
	entryTypes.Add().SetMDEntryType(enum.MDEntryType_BID)
	entryTypes.Add().SetMDEntryType(enum.MDEntryType_OFFER)
	msg.SetNoMDEntryTypes(entryTypes)

	symbols := marketdatarequest.NewNoRelatedSymRepeatingGroup()
	symbols.Add().SetSymbol(instrument)
	msg.SetNoRelatedSym(symbols)
	return msg
}

// orderIDOf resolves the system order id a report refers to. Cancel related
// reports carry the cancel's ClOrdID and the original in OrigClOrdID.
func orderIDOf(clOrdID, origClOrdID string) string {
	if origClOrdID != "" {
		return origClOrdID
	}
	return clOrdID
}

func fromExecutionReport(venueID string, msg executionreport.ExecutionReport) (model.ExecutionReport, bool) {
	clOrdID, _ := msg.GetClOrdID()
	origClOrdID, _ := msg.GetOrigClOrdID()
	execID, _ := msg.GetExecID()
	execType, _ := msg.GetExecType()
	lastQty, _ := msg.GetLastQty()
	lastPx, _ := msg.GetLastPx()
	cumQty, _ := msg.GetCumQty()
	avgPx, _ := msg.GetAvgPx()
	ordStatus, _ := msg.GetOrdStatus()
	text, _ := msg.GetText()
	transactTime, err := msg.GetTransactTime()
	if err != nil {
		transactTime = time.Now()
	}

	t, ok := execTypeMapping[execType]
	if !ok {
		return model.ExecutionReport{}, false
	}
	r := model.ExecutionReport{
		OrderID:      orderIDOf(clOrdID, origClOrdID),
		Venue:        venueID,
		ExecID:       execID,
		ExecType:     t,
		LastQuantity: lastQty,
		LastPrice:    lastPx,
		CumQuantity:  cumQty,
		AvgPrice:     avgPx,
		Text:         text,
		Timestamp:    transactTime,
	}
	if t == model.ExecTypeOrderStatus {
		status, ok := ordStatusMapping[ordStatus]
		if !ok {
			return model.ExecutionReport{}, false
		}
		r.VenueStatus = status
	}
	return r, true
}

func fromOrderCancelReject(venueID string, msg ordercancelreject.OrderCancelReject) model.ExecutionReport {
	clOrdID, _ := msg.GetClOrdID()
	origClOrdID, _ := msg.GetOrigClOrdID()
	text, _ := msg.GetText()
	return model.ExecutionReport{
		OrderID:   orderIDOf(clOrdID, origClOrdID),
		Venue:     venueID,
		ExecID:    clOrdID,
		ExecType:  model.ExecTypeCancelRejected,
		Text:      text,
		Timestamp: time.Now(),
	}
}

func fromSnapshot(venueID string, msg marketdatasnapshotfullrefresh.MarketDataSnapshotFullRefresh) (model.Quote, quickfix.MessageRejectError) {
	symbol, err := msg.GetSymbol()
	if err != nil {
		return model.Quote{}, err
	}
	q := model.Quote{
		Venue:      venueID,
		Instrument: symbol,
		Timestamp:  time.Now(),
		Live:       true,
	}

	entries, err := msg.GetNoMDEntries()
	if err != nil {
		return model.Quote{}, err
	}
	for i := 0; i < entries.Len(); i++ {
		e := entries.Get(i)
		entryType, _ := e.GetMDEntryType()
		px, _ := e.GetMDEntryPx()
		size, _ := e.GetMDEntrySize()
		switch entryType {
		case enum.MDEntryType_BID:
			q.BidPrice, q.BidSize = px, size
		case enum.MDEntryType_OFFER:
			q.AskPrice, q.AskSize = px, size
		}
	}
	return q, nil
}
