package fix

import (
	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/marketdatasnapshotfullrefresh"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

// application implements quickfix.Application. Inbound application messages
// are sharded by order so reports for one order are handled in arrival order
// while different orders proceed in parallel.
type application struct {
	*quickfix.MessageRouter
	adapter    *Adapter
	shardQueue *shardqueue.Shardqueue
}

type inboundMsg struct {
	msg       *quickfix.Message
	sessionID quickfix.SessionID
}

func newApplication(adapter *Adapter, shards, queueSize int) *application {
	app := &application{
		MessageRouter: quickfix.NewMessageRouter(),
		adapter:       adapter,
	}

	app.AddRoute(executionreport.Route(app.onExecutionReport))
	app.AddRoute(ordercancelreject.Route(app.onOrderCancelReject))
	app.AddRoute(marketdatasnapshotfullrefresh.Route(app.onMarketDataSnapshot))

	app.shardQueue = shardqueue.NewShardQueue(shards, queueSize)
	app.shardQueue.Start(func(msg interface{}) error {
		if v, ok := msg.(*inboundMsg); ok {
			if err := app.Route(v.msg, v.sessionID); err != nil {
				app.adapter.logger.Warn("route error", zap.Error(err))
			}
		}
		return nil
	})
	return app
}

func (a *application) OnCreate(sessionID quickfix.SessionID) {}

func (a *application) OnLogon(sessionID quickfix.SessionID) {
	a.adapter.onLogon(sessionID)
}

func (a *application) OnLogout(sessionID quickfix.SessionID) {
	a.adapter.onLogout(sessionID)
}

func (a *application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

func (a *application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

func (a *application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

func (a *application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.shardQueue.Shard(routingKey(msg, sessionID), &inboundMsg{msg, sessionID})
	return nil
}

// routingKey keeps a cancel's reports on the same shard as the order's fills.
func routingKey(msg *quickfix.Message, sessionID quickfix.SessionID) string {
	if orig, err := msg.Body.GetString(tag.OrigClOrdID); err == nil && orig != "" {
		return orig
	}
	if clOrdID, err := msg.Body.GetString(tag.ClOrdID); err == nil && clOrdID != "" {
		return clOrdID
	}
	if symbol, err := msg.Body.GetString(tag.Symbol); err == nil && symbol != "" {
		return "SYMBOL:" + symbol
	}
	return sessionID.String()
}

func (a *application) onExecutionReport(msg executionreport.ExecutionReport, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	r, ok := fromExecutionReport(a.adapter.cfg.ID, msg)
	if !ok {
		execType, _ := msg.GetExecType()
		a.adapter.logger.Debug("ignoring execution report", zap.String("exec_type", string(execType)))
		return nil
	}
	a.adapter.onExecutionReport(r)
	return nil
}

func (a *application) onOrderCancelReject(msg ordercancelreject.OrderCancelReject, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.adapter.onExecutionReport(fromOrderCancelReject(a.adapter.cfg.ID, msg))
	return nil
}

func (a *application) onMarketDataSnapshot(msg marketdatasnapshotfullrefresh.MarketDataSnapshotFullRefresh, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	q, err := fromSnapshot(a.adapter.cfg.ID, msg)
	if err != nil {
		return err
	}
	a.adapter.onQuote(q)
	return nil
}
