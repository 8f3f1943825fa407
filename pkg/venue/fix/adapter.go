// Package fix connects to a venue over a FIX 4.4 initiator session.
package fix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"go.uber.org/zap"
)

type Config struct {
	ID           string             `yaml:"id"`
	SettingsFile string             `yaml:"settings_file"`
	Account      string             `yaml:"account"`
	Capabilities venue.Capabilities `yaml:"capabilities"`
	// AckTimeout bounds how long SubmitOrder waits for the venue's first
	// execution report.
	AckTimeout  time.Duration `yaml:"ack_timeout"`
	Shards      int           `yaml:"shards"`
	QueueSize   int           `yaml:"queue_size"`
	// EventBuffer sizes the channel read by the supervisor. Quotes are
	// dropped once it is three quarters full; execution reports and status
	// changes wait for room instead.
	EventBuffer int `yaml:"event_buffer"`
}

func (c *Config) applyDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.Shards <= 0 {
		c.Shards = 16
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 100_000
	}
	if c.EventBuffer < 4 {
		c.EventBuffer = 4096
	}
}

type Adapter struct {
	cfg    Config
	logger *zap.Logger
	app    *application
	events chan venue.Event
	// quoteLimit is the buffer length above which quotes are dropped.
	quoteLimit int

	mu        sync.Mutex
	status    venue.Status
	initiator *quickfix.Initiator
	sessionID *quickfix.SessionID
	// stopped is closed by Disconnect and releases emitters blocked on a
	// full buffer nobody reads anymore.
	stopped chan struct{}

	// order id -> chan model.ExecutionReport
	pendingAcks sync.Map
	cancelSeq   atomic.Uint64
	statusSeq   atomic.Uint64
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		cfg:    cfg,
		logger: logger.With(zap.String("venue", cfg.ID)),
		events:     make(chan venue.Event, cfg.EventBuffer),
		quoteLimit: cfg.EventBuffer - cfg.EventBuffer/4,
		status:     venue.StatusDisconnected,
		stopped:    make(chan struct{}),
	}
	a.app = newApplication(a, cfg.Shards, cfg.QueueSize)
	return a
}

func (a *Adapter) ID() string                       { return a.cfg.ID }
func (a *Adapter) Capabilities() venue.Capabilities { return a.cfg.Capabilities }
func (a *Adapter) Events() <-chan venue.Event       { return a.events }

func (a *Adapter) Status() venue.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// emit delivers an execution or status event, waiting for the supervisor to
// make room. It only gives up once the adapter is disconnected.
func (a *Adapter) emit(ev venue.Event) {
	ev.Venue = a.cfg.ID
	select {
	case a.events <- ev:
		return
	default:
	}

	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	select {
	case a.events <- ev:
	case <-stopped:
		a.logger.Error("adapter stopped with a full event buffer, dropping event",
			zap.Int("kind", int(ev.Kind)), zap.String("order_id", ev.Report.OrderID))
	}
}

// emitQuote never blocks. Quotes are superseded by the next one, so they give
// way whenever the buffer runs short.
func (a *Adapter) emitQuote(q model.Quote) {
	ev := venue.Event{Venue: a.cfg.ID, Kind: venue.EventQuote, Quote: q}
	if len(a.events) < a.quoteLimit {
		select {
		case a.events <- ev:
			return
		default:
		}
	}
	metrics.VenueQuotesDropped.WithLabelValues(a.cfg.ID).Inc()
}

func (a *Adapter) setStatus(s venue.Status, cause error) {
	a.mu.Lock()
	if a.status == s {
		a.mu.Unlock()
		return
	}
	a.status = s
	a.mu.Unlock()
	a.emit(venue.Event{Kind: venue.EventStatus, Status: s, Err: cause})
}

// Connect starts the initiator. The session is usable once the venue logs on;
// quickfix keeps reconnecting the socket on its own while the initiator runs.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initiator != nil {
		return nil
	}
	select {
	case <-a.stopped:
		a.stopped = make(chan struct{})
	default:
	}

	raw, err := os.ReadFile(a.cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("error reading %v: %w", a.cfg.SettingsFile, err)
	}
	settings, err := quickfix.ParseSettings(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("error parsing fix settings: %w", err)
	}
	logFactory, err := file.NewLogFactory(settings)
	if err != nil {
		return fmt.Errorf("unable to create fix log factory: %w", err)
	}
	initiator, err := quickfix.NewInitiator(a.app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		return fmt.Errorf("unable to create initiator: %w", err)
	}
	if err := initiator.Start(); err != nil {
		return fmt.Errorf("unable to start FIX initiator: %w", err)
	}
	a.initiator = initiator
	a.status = venue.StatusConnecting
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	initiator := a.initiator
	a.initiator = nil
	a.sessionID = nil
	select {
	case <-a.stopped:
	default:
		close(a.stopped)
	}
	a.mu.Unlock()

	if initiator != nil {
		initiator.Stop()
	}
	a.setStatus(venue.StatusDisconnected, nil)
	return nil
}

func (a *Adapter) session() (quickfix.SessionID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionID == nil || a.status != venue.StatusConnected {
		return quickfix.SessionID{}, venue.ErrDisconnected
	}
	return *a.sessionID, nil
}

func (a *Adapter) onLogon(sessionID quickfix.SessionID) {
	a.mu.Lock()
	a.sessionID = &sessionID
	a.mu.Unlock()
	a.logger.Info("fix logon", zap.String("session", sessionID.String()))
	a.setStatus(venue.StatusConnected, nil)
}

func (a *Adapter) onLogout(sessionID quickfix.SessionID) {
	a.mu.Lock()
	a.sessionID = nil
	a.mu.Unlock()
	a.logger.Warn("fix logout", zap.String("session", sessionID.String()))
	a.setStatus(venue.StatusDisconnected, venue.ErrDisconnected)
}

// SubmitOrder sends a NewOrderSingle and waits for the first execution report
// so a venue reject can be returned to the caller. When no report arrives in
// time the order is assumed working; its reports are applied when they come.
func (a *Adapter) SubmitOrder(ctx context.Context, order model.Order) (venue.Ack, error) {
	if !a.cfg.Capabilities.Supports(order.Type) {
		return venue.Ack{}, venue.ErrUnsupported
	}
	sessionID, err := a.session()
	if err != nil {
		return venue.Ack{}, err
	}

	ack := make(chan model.ExecutionReport, 1)
	a.pendingAcks.Store(order.ID, ack)
	defer a.pendingAcks.Delete(order.ID)

	if err := quickfix.SendToTarget(newOrderSingle(order, a.cfg.Account), sessionID); err != nil {
		return venue.Ack{}, fmt.Errorf("%w: %v", venue.ErrDisconnected, err)
	}

	timer := time.NewTimer(a.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return venue.Ack{}, ctx.Err()
	case r := <-ack:
		if r.ExecType == model.ExecTypeRejected {
			return venue.Ack{}, venue.NewSubmitRejected(a.cfg.ID, r.Text, false)
		}
		return venue.Ack{OrderID: order.ID, Venue: a.cfg.ID, VenueOrderID: r.ExecID, Timestamp: r.Timestamp}, nil
	case <-timer.C:
		a.logger.Warn("no execution report before ack timeout, assuming order is working",
			zap.String("order_id", order.ID), zap.Duration("timeout", a.cfg.AckTimeout))
		return venue.Ack{OrderID: order.ID, Venue: a.cfg.ID, Timestamp: time.Now()}, nil
	}
}

// CancelOrder sends an OrderCancelRequest. The outcome arrives later as an
// execution report or an OrderCancelReject.
func (a *Adapter) CancelOrder(ctx context.Context, order model.Order) error {
	if !a.cfg.Capabilities.Cancel {
		return venue.ErrUnsupported
	}
	sessionID, err := a.session()
	if err != nil {
		return err
	}
	clOrdID := cancelClOrdID(order.ID, a.cancelSeq.Add(1))
	if err := quickfix.SendToTarget(orderCancelRequest(order, clOrdID), sessionID); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrDisconnected, err)
	}
	return nil
}

// QueryOrder sends an OrderStatusRequest. The venue answers with an ORDER_STATUS
// execution report which is routed like any other report for the order.
func (a *Adapter) QueryOrder(ctx context.Context, order model.Order) error {
	sessionID, err := a.session()
	if err != nil {
		return err
	}
	reqID := fmt.Sprintf("%s-status-%d", a.cfg.ID, a.statusSeq.Add(1))
	if err := quickfix.SendToTarget(orderStatusRequest(order, reqID), sessionID); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrDisconnected, err)
	}
	return nil
}

func (a *Adapter) SubscribeMarketData(ctx context.Context, instrument string) error {
	return a.marketData(instrument, true)
}

func (a *Adapter) UnsubscribeMarketData(ctx context.Context, instrument string) error {
	return a.marketData(instrument, false)
}

func (a *Adapter) marketData(instrument string, subscribe bool) error {
	if !a.cfg.Capabilities.MarketData {
		return venue.ErrUnsupported
	}
	sessionID, err := a.session()
	if err != nil {
		return err
	}
	reqID := a.cfg.ID + "-md-" + instrument
	if err := quickfix.SendToTarget(marketDataRequest(reqID, instrument, subscribe), sessionID); err != nil {
		return fmt.Errorf("%w: %v", venue.ErrDisconnected, err)
	}
	return nil
}

func (a *Adapter) onExecutionReport(r model.ExecutionReport) {
	if r.ExecType == model.ExecTypeOrderStatus {
		a.emit(venue.Event{Kind: venue.EventExecution, Report: r})
		return
	}
	if v, ok := a.pendingAcks.LoadAndDelete(r.OrderID); ok {
		v.(chan model.ExecutionReport) <- r
		// a synchronous reject is returned by SubmitOrder instead
		if r.ExecType == model.ExecTypeRejected {
			return
		}
	}
	a.emit(venue.Event{Kind: venue.EventExecution, Report: r})
}

func (a *Adapter) onQuote(q model.Quote) {
	a.emitQuote(q)
}
