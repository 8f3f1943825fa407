// Package stream fans order events and consolidated quotes out to
// subscribers and sinks.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/joripage/venue-oms/pkg/metrics"
	eventstore "github.com/joripage/venue-oms/pkg/oms/event_store"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"go.uber.org/zap"
)

type Config struct {
	OrderQueueSize int           `yaml:"order_queue_size"`
	QuoteQueueSize int           `yaml:"quote_queue_size"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	ReplayLimit    int           `yaml:"replay_limit"`
	// SinkQueueSize bounds the quotes waiting for each sink. Order events
	// for sinks are never dropped.
	SinkQueueSize    int           `yaml:"sink_queue_size"`
	SinkRetryInitial time.Duration `yaml:"sink_retry_initial"`
	SinkRetryMax     time.Duration `yaml:"sink_retry_max"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.OrderQueueSize <= 0 {
		c.OrderQueueSize = 256
	}
	if c.QuoteQueueSize <= 0 {
		c.QuoteQueueSize = 16
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 2 * time.Second
	}
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = 10000
	}
	if c.SinkQueueSize <= 0 {
		c.SinkQueueSize = 4096
	}
	if c.SinkRetryInitial <= 0 {
		c.SinkRetryInitial = 100 * time.Millisecond
	}
	if c.SinkRetryMax <= 0 {
		c.SinkRetryMax = 5 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
}

type orderFeed struct {
	mu   sync.Mutex
	subs map[*OrderSubscription]struct{}
}

func (f *orderFeed) remove(s *OrderSubscription, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(s, err)
}

func (f *orderFeed) removeLocked(s *OrderSubscription, err error) {
	if _, ok := f.subs[s]; !ok {
		return
	}
	delete(f.subs, s)
	s.end(err)
}

type Hub struct {
	cfg    Config
	store  eventstore.EventStore
	logger *zap.Logger

	feeds sync.Map // account -> *orderFeed

	quoteMu   sync.Mutex
	quoteSubs map[string]map[*QuoteSubscription]struct{}

	sinks []*sinkWorker
}

func NewHub(cfg Config, store eventstore.EventStore, logger *zap.Logger, sinks ...Sink) *Hub {
	cfg.ApplyDefaults()
	if store == nil {
		store = eventstore.NewInMemoryEventStore(cfg.ReplayLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		quoteSubs: make(map[string]map[*QuoteSubscription]struct{}),
	}
	for _, sink := range sinks {
		h.sinks = append(h.sinks, newSinkWorker(sink, cfg, logger))
	}
	return h
}

func (h *Hub) feed(account string) *orderFeed {
	if f, ok := h.feeds.Load(account); ok {
		return f.(*orderFeed)
	}
	f, _ := h.feeds.LoadOrStore(account, &orderFeed{subs: make(map[*OrderSubscription]struct{})})
	return f.(*orderFeed)
}

// PublishOrderEvent sequences ev and delivers it to every subscriber of the
// account. A subscriber whose queue stays full for the grace period is
// disconnected with ErrSlowSubscriber; events are never skipped.
func (h *Hub) PublishOrderEvent(ev model.OrderEvent) model.OrderEvent {
	f := h.feed(ev.Account)
	f.mu.Lock()
	ev = h.store.Append(ev)
	for s := range f.subs {
		h.deliver(f, s, ev)
	}
	for _, w := range h.sinks {
		w.pushEvent(ev)
	}
	f.mu.Unlock()
	return ev
}

func (h *Hub) deliver(f *orderFeed, s *OrderSubscription, ev model.OrderEvent) {
	select {
	case s.ch <- ev:
		return
	case <-s.done:
		f.removeLocked(s, nil)
		return
	default:
	}

	timer := time.NewTimer(h.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case s.ch <- ev:
	case <-s.done:
		f.removeLocked(s, nil)
	case <-timer.C:
		h.logger.Warn("disconnecting slow order subscriber",
			zap.String("account", s.account), zap.Uint64("seq", ev.Seq))
		metrics.SubscribersClosed.WithLabelValues("orders").Inc()
		f.removeLocked(s, ErrSlowSubscriber)
	}
}

// SubscribeOrders replays the account's retained events after lastSeq and then
// streams live ones. It returns eventstore.ErrResyncGap when the events after
// lastSeq are no longer retained.
func (h *Hub) SubscribeOrders(account string, lastSeq uint64) (*OrderSubscription, error) {
	f := h.feed(account)
	f.mu.Lock()
	defer f.mu.Unlock()

	replay, err := h.store.Since(account, lastSeq)
	if err != nil {
		return nil, err
	}
	s := &OrderSubscription{
		account: account,
		ch:      make(chan model.OrderEvent, h.cfg.OrderQueueSize+len(replay)),
		done:    make(chan struct{}),
		feed:    f,
	}
	for _, ev := range replay {
		s.ch <- ev
	}
	f.subs[s] = struct{}{}
	return s, nil
}

// LastSeq is the newest sequence number assigned for account.
func (h *Hub) LastSeq(account string) uint64 {
	return h.store.LastSeq(account)
}

// PublishQuote never blocks; slow subscribers lose their oldest pending
// update.
func (h *Hub) PublishQuote(q model.ConsolidatedQuote) {
	h.quoteMu.Lock()
	for s := range h.quoteSubs[q.Instrument] {
		s.push(q)
	}
	h.quoteMu.Unlock()

	for _, w := range h.sinks {
		w.pushQuote(q)
	}
}

// SubscribeQuotes starts a quote subscription whose first element is initial
// when it is non-nil.
func (h *Hub) SubscribeQuotes(instrument string, initial *model.ConsolidatedQuote) *QuoteSubscription {
	s := newQuoteSubscription(h, instrument, h.cfg.QuoteQueueSize)
	if initial != nil {
		s.push(*initial)
	}
	h.quoteMu.Lock()
	subs, ok := h.quoteSubs[instrument]
	if !ok {
		subs = make(map[*QuoteSubscription]struct{})
		h.quoteSubs[instrument] = subs
	}
	subs[s] = struct{}{}
	h.quoteMu.Unlock()
	return s
}

func (h *Hub) removeQuoteSubscription(s *QuoteSubscription) {
	h.quoteMu.Lock()
	defer h.quoteMu.Unlock()
	subs := h.quoteSubs[s.instrument]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.quoteSubs, s.instrument)
	}
}

// Run feeds the sinks until ctx is done, then flushes the order events they
// still owe and returns.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range h.sinks {
		wg.Add(1)
		go func(w *sinkWorker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
