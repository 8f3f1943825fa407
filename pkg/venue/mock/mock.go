// Package mock is a deterministic in-process venue used by tests and by
// cmd/oms when a venue is configured with type "mock".
package mock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/shopspring/decimal"
)

var ErrConnectRefused = errors.New("mock venue refused connection")

type Config struct {
	ID           string             `yaml:"id"`
	Capabilities venue.Capabilities `yaml:"capabilities"`
	// AutoFill fills every accepted order in full right after the NEW report.
	AutoFill bool `yaml:"auto_fill"`
	// TickInterval > 0 starts a synthetic quote ticker for subscribed
	// instruments seeded from Seeds.
	TickInterval time.Duration              `yaml:"tick_interval"`
	Seeds        map[string]decimal.Decimal `yaml:"seeds"`
	Spread       decimal.Decimal            `yaml:"spread"`
	EventBuffer  int                        `yaml:"event_buffer"`
}

type order struct {
	order   model.Order
	filled  decimal.Decimal
	done    bool
	execSeq int
	reports []model.ExecutionReport
}

type scriptedReject struct {
	reason    string
	transient bool
}

type Venue struct {
	cfg    Config
	events chan venue.Event

	mu            sync.Mutex
	status        venue.Status
	down          bool
	failConnects  int
	rejects       []scriptedReject
	cancelRejects []string
	holdCancels   bool
	fillPlan      []decimal.Decimal
	orders        map[string]*order
	submitted     []string
	subs          map[string]bool
	quotes        map[string]model.Quote
	stopTicker    chan struct{}
	dropped       int
}

func New(cfg Config) *Venue {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 1024
	}
	return &Venue{
		cfg:    cfg,
		events: make(chan venue.Event, cfg.EventBuffer),
		status: venue.StatusDisconnected,
		orders: make(map[string]*order),
		subs:   make(map[string]bool),
		quotes: make(map[string]model.Quote),
	}
}

func (v *Venue) ID() string                       { return v.cfg.ID }
func (v *Venue) Capabilities() venue.Capabilities { return v.cfg.Capabilities }
func (v *Venue) Events() <-chan venue.Event       { return v.events }

func (v *Venue) Status() venue.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// emit never blocks; events beyond the buffer are counted and lost, the same
// as a venue session overflowing.
func (v *Venue) emit(ev venue.Event) {
	ev.Venue = v.cfg.ID
	select {
	case v.events <- ev:
	default:
		v.dropped++
	}
}

func (v *Venue) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == venue.StatusConnected {
		return nil
	}
	if v.down {
		return ErrConnectRefused
	}
	if v.failConnects > 0 {
		v.failConnects--
		return ErrConnectRefused
	}
	v.status = venue.StatusConnected
	v.emit(venue.Event{Kind: venue.EventStatus, Status: venue.StatusConnected})
	if v.cfg.TickInterval > 0 {
		v.stopTicker = make(chan struct{})
		go v.tick(v.stopTicker)
	}
	return nil
}

func (v *Venue) Disconnect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnectLocked(nil)
	return nil
}

func (v *Venue) disconnectLocked(cause error) {
	if v.status == venue.StatusDisconnected {
		return
	}
	v.status = venue.StatusDisconnected
	if v.stopTicker != nil {
		close(v.stopTicker)
		v.stopTicker = nil
	}
	v.emit(venue.Event{Kind: venue.EventStatus, Status: venue.StatusDisconnected, Err: cause})
}

// Drop simulates a lost session. Reconnects fail until Restore is called.
func (v *Venue) Drop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.down = true
	v.disconnectLocked(errors.New("session dropped"))
}

func (v *Venue) Restore() {
	v.mu.Lock()
	v.down = false
	v.mu.Unlock()
}

// FailConnects makes the next n Connect calls fail.
func (v *Venue) FailConnects(n int) {
	v.mu.Lock()
	v.failConnects = n
	v.mu.Unlock()
}

// RejectNext scripts the next submission to be rejected.
func (v *Venue) RejectNext(reason string, transient bool) {
	v.mu.Lock()
	v.rejects = append(v.rejects, scriptedReject{reason: reason, transient: transient})
	v.mu.Unlock()
}

// RejectNextCancel scripts the next cancel request to be refused.
func (v *Venue) RejectNextCancel(reason string) {
	v.mu.Lock()
	v.cancelRejects = append(v.cancelRejects, reason)
	v.mu.Unlock()
}

// HoldCancels makes the venue accept cancel requests without answering them,
// leaving the order open so fills can still arrive.
func (v *Venue) HoldCancels(hold bool) {
	v.mu.Lock()
	v.holdCancels = hold
	v.mu.Unlock()
}

// SetFillPlan makes the next accepted order receive one TRADE report per
// quantity, in order.
func (v *Venue) SetFillPlan(quantities ...decimal.Decimal) {
	v.mu.Lock()
	v.fillPlan = quantities
	v.mu.Unlock()
}

// Submitted returns the ids of every order the venue accepted.
func (v *Venue) Submitted() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.submitted...)
}

func (v *Venue) Dropped() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dropped
}

func (v *Venue) SubmitOrder(ctx context.Context, o model.Order) (venue.Ack, error) {
	if err := ctx.Err(); err != nil {
		return venue.Ack{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != venue.StatusConnected {
		return venue.Ack{}, venue.ErrDisconnected
	}
	if !v.cfg.Capabilities.Supports(o.Type) {
		return venue.Ack{}, venue.ErrUnsupported
	}
	if len(v.rejects) > 0 {
		r := v.rejects[0]
		v.rejects = v.rejects[1:]
		return venue.Ack{}, venue.NewSubmitRejected(v.cfg.ID, r.reason, r.transient)
	}

	mo := &order{order: o.Clone(), filled: decimal.Zero}
	v.orders[o.ID] = mo
	v.submitted = append(v.submitted, o.ID)
	v.reportLocked(mo, model.ExecTypeNew, decimal.Zero, decimal.Zero, "")

	plan := v.fillPlan
	v.fillPlan = nil
	if len(plan) == 0 && v.cfg.AutoFill {
		plan = []decimal.Decimal{o.Quantity}
	}
	price := v.fillPriceLocked(o)
	for _, qty := range plan {
		v.fillLocked(mo, qty, price)
	}

	return venue.Ack{
		OrderID:      o.ID,
		Venue:        v.cfg.ID,
		VenueOrderID: fmt.Sprintf("%s-%s", v.cfg.ID, o.ID),
		Timestamp:    time.Now(),
	}, nil
}

func (v *Venue) fillPriceLocked(o model.Order) decimal.Decimal {
	if o.Type == model.OrderTypeLimit {
		return o.Price
	}
	q, ok := v.quotes[o.Instrument]
	if !ok {
		return decimal.Zero
	}
	if o.Side == model.OrderSideBuy {
		return q.AskPrice
	}
	return q.BidPrice
}

func (v *Venue) fillLocked(mo *order, qty, price decimal.Decimal) {
	if mo.done {
		return
	}
	mo.filled = mo.filled.Add(qty)
	if mo.filled.GreaterThanOrEqual(mo.order.Quantity) {
		mo.done = true
	}
	v.reportLocked(mo, model.ExecTypeTrade, qty, price, "")
}

func (v *Venue) reportLocked(mo *order, execType model.OrderExecType, qty, price decimal.Decimal, text string) {
	mo.execSeq++
	r := model.ExecutionReport{
		OrderID:      mo.order.ID,
		Venue:        v.cfg.ID,
		ExecID:       fmt.Sprintf("%s-%s-%d", v.cfg.ID, mo.order.ID, mo.execSeq),
		ExecType:     execType,
		LastQuantity: qty,
		LastPrice:    price,
		Text:         text,
		Timestamp:    time.Now(),
	}
	mo.reports = append(mo.reports, r)
	v.emit(venue.Event{Kind: venue.EventExecution, Report: r})
}

// Fill emits a TRADE report for an accepted order. The quantity is not
// checked against the order so tests can drive overfills.
func (v *Venue) Fill(orderID string, qty, price decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	mo, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("mock %s: unknown order %s", v.cfg.ID, orderID)
	}
	mo.filled = mo.filled.Add(qty)
	if mo.filled.GreaterThanOrEqual(mo.order.Quantity) {
		mo.done = true
	}
	v.reportLocked(mo, model.ExecTypeTrade, qty, price, "")
	return nil
}

// Expire ends an accepted order with an EXPIRED report.
func (v *Venue) Expire(orderID string) error {
	return v.finish(orderID, model.ExecTypeExpired, "")
}

// Reject ends an accepted order with an unsolicited REJECTED report.
func (v *Venue) Reject(orderID, text string) error {
	return v.finish(orderID, model.ExecTypeRejected, text)
}

func (v *Venue) finish(orderID string, execType model.OrderExecType, text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	mo, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("mock %s: unknown order %s", v.cfg.ID, orderID)
	}
	mo.done = true
	v.reportLocked(mo, execType, decimal.Zero, decimal.Zero, text)
	return nil
}

func (v *Venue) CancelOrder(ctx context.Context, o model.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != venue.StatusConnected {
		return venue.ErrDisconnected
	}
	if !v.cfg.Capabilities.Cancel {
		return venue.ErrUnsupported
	}
	mo, ok := v.orders[o.ID]
	if !ok {
		return venue.NewCancelRejected(v.cfg.ID, "unknown order")
	}
	if mo.done {
		return venue.NewCancelRejected(v.cfg.ID, "too late to cancel")
	}
	if len(v.cancelRejects) > 0 {
		reason := v.cancelRejects[0]
		v.cancelRejects = v.cancelRejects[1:]
		return venue.NewCancelRejected(v.cfg.ID, reason)
	}
	if v.holdCancels {
		return nil
	}
	mo.done = true
	v.reportLocked(mo, model.ExecTypeCanceled, decimal.Zero, decimal.Zero, "")
	return nil
}

// QueryOrder replays every report the venue produced for the order. Receivers
// dedupe by exec id.
func (v *Venue) QueryOrder(ctx context.Context, o model.Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != venue.StatusConnected {
		return venue.ErrDisconnected
	}
	mo, ok := v.orders[o.ID]
	if !ok {
		return fmt.Errorf("mock %s: unknown order %s", v.cfg.ID, o.ID)
	}
	for _, r := range mo.reports {
		v.emit(venue.Event{Kind: venue.EventExecution, Report: r})
	}
	return nil
}

func (v *Venue) SubscribeMarketData(ctx context.Context, instrument string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != venue.StatusConnected {
		return venue.ErrDisconnected
	}
	if !v.cfg.Capabilities.MarketData {
		return venue.ErrUnsupported
	}
	v.subs[instrument] = true
	if q, ok := v.quotes[instrument]; ok {
		v.emit(venue.Event{Kind: venue.EventQuote, Quote: q})
	}
	return nil
}

func (v *Venue) UnsubscribeMarketData(ctx context.Context, instrument string) error {
	v.mu.Lock()
	delete(v.subs, instrument)
	v.mu.Unlock()
	return nil
}

// PushQuote records q as the venue's current top of book and emits it when the
// instrument is subscribed.
func (v *Venue) PushQuote(q model.Quote) {
	v.mu.Lock()
	defer v.mu.Unlock()
	q.Venue = v.cfg.ID
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	q.Live = true
	v.quotes[q.Instrument] = q
	if v.status == venue.StatusConnected && v.subs[q.Instrument] {
		v.emit(venue.Event{Kind: venue.EventQuote, Quote: q})
	}
}

func (v *Venue) tick(stop <-chan struct{}) {
	rnd := rand.New(rand.NewSource(int64(len(v.cfg.ID))))
	mids := make(map[string]decimal.Decimal, len(v.cfg.Seeds))
	for k, p := range v.cfg.Seeds {
		mids[k] = p
	}
	spread := v.cfg.Spread
	if spread.IsZero() {
		spread = decimal.RequireFromString("0.02")
	}
	half := spread.Div(decimal.NewFromInt(2))
	step := spread.Div(decimal.NewFromInt(4))
	size := decimal.NewFromInt(100)

	t := time.NewTicker(v.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		v.mu.Lock()
		instruments := make([]string, 0, len(v.subs))
		for instr := range v.subs {
			if _, ok := mids[instr]; ok {
				instruments = append(instruments, instr)
			}
		}
		v.mu.Unlock()

		for _, instr := range instruments {
			mid := mids[instr].Add(step.Mul(decimal.NewFromInt(int64(rnd.Intn(3) - 1))))
			mids[instr] = mid
			v.PushQuote(model.Quote{
				Instrument: instr,
				BidPrice:   mid.Sub(half),
				BidSize:    size,
				AskPrice:   mid.Add(half),
				AskSize:    size,
			})
		}
	}
}
