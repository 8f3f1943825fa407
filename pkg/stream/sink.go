package stream

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gammazero/deque"
	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"go.uber.org/zap"
)

// Sink receives every order event and consolidated quote asynchronously, for
// example to forward them to a broker.
type Sink interface {
	Name() string
	WriteOrderEvent(ctx context.Context, ev model.OrderEvent) error
	WriteQuote(ctx context.Context, q model.ConsolidatedQuote) error
}

// sinkWorker feeds one sink. Order events wait in an unbounded queue and are
// retried until the sink takes them, in sequence order. Quotes go through a
// bounded channel and are dropped when it is full.
type sinkWorker struct {
	sink   Sink
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	events deque.Deque[model.OrderEvent]
	wake   chan struct{}
	quotes chan model.ConsolidatedQuote
}

func newSinkWorker(sink Sink, cfg Config, logger *zap.Logger) *sinkWorker {
	return &sinkWorker{
		sink:   sink,
		cfg:    cfg,
		logger: logger.With(zap.String("sink", sink.Name())),
		wake:   make(chan struct{}, 1),
		quotes: make(chan model.ConsolidatedQuote, cfg.SinkQueueSize),
	}
}

func (w *sinkWorker) pushEvent(ev model.OrderEvent) {
	w.mu.Lock()
	w.events.PushBack(ev)
	n := w.events.Len()
	w.mu.Unlock()
	metrics.SinkBacklog.WithLabelValues(w.sink.Name()).Set(float64(n))

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *sinkWorker) pushQuote(q model.ConsolidatedQuote) {
	select {
	case w.quotes <- q:
	default:
		metrics.SinkDropped.WithLabelValues(w.sink.Name(), "quote").Inc()
	}
}

func (w *sinkWorker) front() (model.OrderEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.events.Len() == 0 {
		return model.OrderEvent{}, false
	}
	return w.events.Front(), true
}

func (w *sinkWorker) pop() {
	w.mu.Lock()
	w.events.PopFront()
	n := w.events.Len()
	w.mu.Unlock()
	metrics.SinkBacklog.WithLabelValues(w.sink.Name()).Set(float64(n))
}

func (w *sinkWorker) writeEvent(ctx context.Context, ev model.OrderEvent) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.SinkRetryInitial
	b.MaxInterval = w.cfg.SinkRetryMax
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return w.sink.WriteOrderEvent(ctx, ev)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		metrics.SinkErrors.WithLabelValues(w.sink.Name()).Inc()
		w.logger.Warn("sink write failed, retrying",
			zap.String("account", ev.Account), zap.Uint64("seq", ev.Seq), zap.Duration("next", next), zap.Error(err))
	})
}

func (w *sinkWorker) run(ctx context.Context) {
	defer w.drain()
	for {
		if ev, ok := w.front(); ok {
			if err := w.writeEvent(ctx, ev); err != nil {
				return
			}
			w.pop()
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case q := <-w.quotes:
			if err := w.sink.WriteQuote(ctx, q); err != nil {
				metrics.SinkErrors.WithLabelValues(w.sink.Name()).Inc()
				w.logger.Debug("quote write failed", zap.String("instrument", q.Instrument), zap.Error(err))
			}
		}
	}
}

// drain flushes the order events still queued once the hub stops, for at most
// DrainTimeout. Pending quotes are discarded.
func (w *sinkWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()
	for {
		ev, ok := w.front()
		if !ok {
			return
		}
		if err := w.writeEvent(ctx, ev); err != nil {
			w.mu.Lock()
			left := w.events.Len()
			w.mu.Unlock()
			metrics.SinkDropped.WithLabelValues(w.sink.Name(), "order_event").Add(float64(left))
			w.logger.Error("shutdown before sink caught up, order events not written",
				zap.Int("events", left), zap.Error(err))
			return
		}
		w.pop()
	}
}
