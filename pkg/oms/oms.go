// Package oms owns the order lifecycle: creation, risk, routing, execution
// reports and cancellation.
package oms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	riskrule "github.com/joripage/venue-oms/pkg/oms/risk_rule"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Workers          int `yaml:"workers"`
	QueueSize        int `yaml:"queue_size"`
	MaxRouteAttempts int `yaml:"max_route_attempts"`
}

func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxRouteAttempts <= 0 {
		c.MaxRouteAttempts = 3
	}
}

// Deps are the collaborators the order manager drives.
type Deps struct {
	Risk      *riskrule.Engine
	Profiles  RiskProfiles
	Positions *PositionBook
	Quotes    QuoteSource
	Router    VenueRouter
	Venues    VenueRegistry
	Events    EventPublisher
	Alerter   Alerter
	Logger    *zap.Logger
}

type OMS struct {
	cfg       Config
	risk      *riskrule.Engine
	profiles  RiskProfiles
	positions *PositionBook
	quotes    QuoteSource
	router    VenueRouter
	venues    VenueRegistry
	events    EventPublisher
	alerter   Alerter
	logger    *zap.Logger
	now       func() time.Time

	orderIDMapping     sync.Map // order id -> *orderEntry
	idempotencyMapping sync.Map // idempotency key -> order id
	accountMapping     sync.Map // account -> *accountIndex

	queue chan string
	wg    sync.WaitGroup
}

func NewOMS(cfg Config, deps Deps) *OMS {
	cfg.ApplyDefaults()
	if deps.Risk == nil {
		deps.Risk = riskrule.NewEngine()
	}
	if deps.Positions == nil {
		deps.Positions = NewPositionBook()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Alerter == nil {
		deps.Alerter = NewLogAlerter(deps.Logger)
	}
	return &OMS{
		cfg:       cfg,
		risk:      deps.Risk,
		profiles:  deps.Profiles,
		positions: deps.Positions,
		quotes:    deps.Quotes,
		router:    deps.Router,
		venues:    deps.Venues,
		events:    deps.Events,
		alerter:   deps.Alerter,
		logger:    deps.Logger,
		now:       time.Now,
		queue:     make(chan string, cfg.QueueSize),
	}
}

// Start runs the worker pool that takes accepted orders through risk and
// routing. Workers stop when ctx is done.
func (s *OMS) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case orderID := <-s.queue:
					s.process(ctx, orderID)
				}
			}
		}()
	}
}

func (s *OMS) Wait() {
	s.wg.Wait()
}

func validate(req *model.AddOrder) error {
	switch {
	case req == nil:
		return &ValidationError{Field: "request", Msg: "is required"}
	case req.Account == "":
		return &ValidationError{Field: "account", Msg: "is required"}
	case req.Instrument == "":
		return &ValidationError{Field: "instrument", Msg: "is required"}
	case !req.Side.Valid():
		return &ValidationError{Field: "side", Msg: fmt.Sprintf("%q is not BUY or SELL", req.Side)}
	case !req.Type.Valid():
		return &ValidationError{Field: "type", Msg: fmt.Sprintf("%q is not LIMIT or MARKET", req.Type)}
	case req.TimeInForce != "" && !req.TimeInForce.Valid():
		return &ValidationError{Field: "time_in_force", Msg: fmt.Sprintf("%q is not supported", req.TimeInForce)}
	case !req.Quantity.IsPositive():
		return &ValidationError{Field: "quantity", Msg: "must be positive"}
	case req.Type == model.OrderTypeLimit && !req.Price.IsPositive():
		return &ValidationError{Field: "price", Msg: "must be positive for limit orders"}
	case req.Type == model.OrderTypeMarket && !req.Price.IsZero():
		return &ValidationError{Field: "price", Msg: "must be empty for market orders"}
	}
	return nil
}

// SubmitOrder creates an order and queues it for risk and routing. A key that
// was seen before returns the existing order untouched. An empty key disables
// deduplication.
func (s *OMS) SubmitOrder(ctx context.Context, req *model.AddOrder, idempotencyKey string) (model.Order, error) {
	if idempotencyKey != "" {
		if orderID, ok := s.orderIDByKey(idempotencyKey); ok {
			return s.GetOrder(orderID)
		}
	}
	if err := validate(req); err != nil {
		return model.Order{}, err
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	now := s.now()
	tif := req.TimeInForce
	if tif == "" {
		tif = model.OrderTimeInForceDAY
	}
	e := &orderEntry{order: model.Order{
		ID:             uuid.NewString(),
		IdempotencyKey: idempotencyKey,
		Account:        req.Account,
		Instrument:     req.Instrument,
		Side:           req.Side,
		Type:           req.Type,
		TimeInForce:    tif,
		Price:          req.Price,
		Quantity:       req.Quantity,
		Status:         model.OrderStatusNew,
		CumQuantity:    decimal.Zero,
		LeavesQuantity: req.Quantity,
		AvgPrice:       decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}}
	orderID := e.order.ID

	s.storeOrder(e)
	if existing, loaded := s.claimIdempotencyKey(idempotencyKey, orderID); loaded {
		s.orderIDMapping.Delete(orderID)
		return s.GetOrder(existing)
	}
	s.indexAccount(req.Account, orderID)
	metrics.OrdersSubmitted.WithLabelValues(string(req.Type)).Inc()

	e.mu.Lock()
	s.applyLocked(e, triggerAccept, nil, nil)
	snapshot := e.order.Clone()
	s.unlock(e)

	select {
	case s.queue <- orderID:
		return snapshot, nil
	case <-ctx.Done():
		e.mu.Lock()
		s.applyLocked(e, triggerRiskReject, nil, &model.Reason{
			Kind:    model.ReasonValidation,
			Message: "submission abandoned before risk check",
			Cause:   ctx.Err().Error(),
		})
		snapshot = e.order.Clone()
		s.unlock(e)
		return snapshot, ctx.Err()
	}
}

// CancelOrder marks the order PENDING_CANCEL. Orders already at a venue get a
// cancel request; earlier ones are cancelled when their worker next looks at
// them. A venue refusing the cancel restores the previous open state and the
// refusal is returned. Cancelling an order that is already PENDING_CANCEL
// returns it unchanged.
func (s *OMS) CancelOrder(ctx context.Context, orderID string) (model.Order, error) {
	e, err := s.getEntry(orderID)
	if err != nil {
		return model.Order{}, err
	}

	e.mu.Lock()
	status := e.order.Status
	if status == model.OrderStatusPendingCancel {
		// already cancelling; the venue's answer settles it
		snapshot := e.order.Clone()
		s.unlock(e)
		return snapshot, nil
	}
	if _, ok := transition(status, e.order.PrevStatus, triggerCancelRequest); !ok {
		snapshot := e.order.Clone()
		s.unlock(e)
		return snapshot, fmt.Errorf("%w: cannot cancel order in %s", ErrInvalidState, status)
	}
	s.applyLocked(e, triggerCancelRequest, nil, nil)
	atVenue := status == model.OrderStatusSubmitted || status == model.OrderStatusPartiallyFilled
	if atVenue {
		e.cancelSent = true
	}
	order := e.order.Clone()
	s.unlock(e)

	if !atVenue {
		return order, nil
	}
	if err := s.sendCancel(ctx, e, order); err != nil {
		snapshot, _ := s.GetOrder(orderID)
		return snapshot, err
	}
	return order, nil
}

func (s *OMS) GetOrder(orderID string) (model.Order, error) {
	e, err := s.getEntry(orderID)
	if err != nil {
		return model.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

// ListOrders returns the account's orders in creation order.
func (s *OMS) ListOrders(account string) []model.Order {
	ids := s.accountOrderIDs(account)
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		if o, err := s.GetOrder(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

func (s *OMS) Positions(account string) []model.Position {
	return s.positions.Positions(account)
}

func eventKind(status model.OrderStatus, fill *model.Fill) model.OrderEventKind {
	if fill != nil {
		return model.OrderEventFill
	}
	switch status {
	case model.OrderStatusRejected:
		return model.OrderEventRejected
	case model.OrderStatusCancelled:
		return model.OrderEventCancelled
	case model.OrderStatusFrozen:
		return model.OrderEventAlert
	}
	return model.OrderEventStatus
}

// applyLocked moves the order by t and publishes the resulting event. reason
// becomes the order's reason on terminal states and is only attached to the
// event otherwise. Invalid moves are logged and leave the order untouched.
func (s *OMS) applyLocked(e *orderEntry, t trigger, fill *model.Fill, reason *model.Reason) bool {
	o := &e.order
	next, ok := transition(o.Status, o.PrevStatus, t)
	if !ok {
		s.logger.Warn("discarding event not valid for order status",
			zap.String("order_id", o.ID), zap.String("status", string(o.Status)), zap.String("trigger", string(t)))
		metrics.DiscardedEvents.WithLabelValues(string(t)).Inc()
		return false
	}

	switch {
	case next == model.OrderStatusPendingCancel && o.Status != model.OrderStatusPendingCancel:
		o.PrevStatus = o.Status
	case next != model.OrderStatusPendingCancel:
		o.PrevStatus = ""
	}
	o.Status = next
	o.UpdatedAt = s.now()
	if next.IsTerminal() {
		o.Reason = reason
		o.Degraded = false
		s.positions.Release(o.Account, o.ID)
	}
	metrics.OrderTransitions.WithLabelValues(string(next)).Inc()

	s.publishLocked(e, fill, reason)
	return true
}

// publishLocked queues an event for the order's current state. It is sent by
// the next unlock.
func (s *OMS) publishLocked(e *orderEntry, fill *model.Fill, reason *model.Reason) {
	if s.events == nil {
		return
	}
	ev := model.NewOrderEvent(eventKind(e.order.Status, fill), e.order.Clone(), s.now())
	ev.Fill = fill
	if reason != nil {
		ev.Reason = reason
	}
	e.outbox = append(e.outbox, ev)
}

// unlock releases e.mu and publishes what the critical section produced. A
// slow subscriber then holds up only the goroutine doing the publishing,
// never readers of the order.
func (s *OMS) unlock(e *orderEntry) {
	if e.flushing || len(e.outbox) == 0 {
		e.mu.Unlock()
		return
	}
	e.flushing = true
	for len(e.outbox) > 0 {
		batch := e.outbox
		e.outbox = nil
		e.mu.Unlock()
		for _, ev := range batch {
			s.events.PublishOrderEvent(ev)
		}
		e.mu.Lock()
	}
	e.flushing = false
	e.mu.Unlock()
}
