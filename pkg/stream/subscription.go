package stream

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
	"github.com/joripage/venue-oms/pkg/oms/model"
)

// OrderSubscription delivers one account's order events in sequence order.
// The channel returned by C is closed when the subscription ends; Err then
// reports why.
type OrderSubscription struct {
	account string
	ch      chan model.OrderEvent
	done    chan struct{}
	once    sync.Once
	feed    *orderFeed

	mu  sync.Mutex
	err error
}

func (s *OrderSubscription) C() <-chan model.OrderEvent {
	return s.ch
}

func (s *OrderSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *OrderSubscription) Close() {
	s.once.Do(func() { close(s.done) })
	s.feed.remove(s, nil)
}

// end is called with the feed lock held.
func (s *OrderSubscription) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	close(s.ch)
}

// QuoteSubscription is a bounded queue of consolidated quotes for one
// instrument. When full the oldest pending update is dropped, so a slow reader
// skips intermediate states but always sees the latest one.
type QuoteSubscription struct {
	instrument string
	limit      int
	hub        *Hub
	notify     chan struct{}

	mu      sync.Mutex
	queue   deque.Deque[model.ConsolidatedQuote]
	dropped int
	closed  bool
}

func newQuoteSubscription(hub *Hub, instrument string, limit int) *QuoteSubscription {
	return &QuoteSubscription{
		instrument: instrument,
		limit:      limit,
		hub:        hub,
		notify:     make(chan struct{}, 1),
	}
}

func (s *QuoteSubscription) push(q model.ConsolidatedQuote) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	dropped := false
	for s.queue.Len() >= s.limit {
		s.queue.PopFront()
		s.dropped++
		dropped = true
	}
	s.queue.PushBack(q)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Next blocks until an update is available, ctx is done or the subscription
// is closed.
func (s *QuoteSubscription) Next(ctx context.Context) (model.ConsolidatedQuote, error) {
	for {
		s.mu.Lock()
		if s.queue.Len() > 0 {
			q := s.queue.PopFront()
			s.mu.Unlock()
			return q, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return model.ConsolidatedQuote{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return model.ConsolidatedQuote{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Dropped reports how many updates were coalesced away.
func (s *QuoteSubscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *QuoteSubscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.hub.removeQuoteSubscription(s)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
