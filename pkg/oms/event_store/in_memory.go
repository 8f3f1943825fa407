package eventstore

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/joripage/venue-oms/pkg/oms/model"
)

type accountLog struct {
	seq    uint64
	events deque.Deque[model.OrderEvent]
}

type InMemoryEventStore struct {
	mu       sync.RWMutex
	limit    int
	accounts map[string]*accountLog
	orders   map[string][]uint64 // OrderID -> seqs of its events
}

// NewInMemoryEventStore keeps at most limit events per account for replay.
// limit <= 0 keeps everything.
func NewInMemoryEventStore(limit int) *InMemoryEventStore {
	return &InMemoryEventStore{
		limit:    limit,
		accounts: make(map[string]*accountLog),
		orders:   make(map[string][]uint64),
	}
}

func (s *InMemoryEventStore) Append(ev model.OrderEvent) model.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.accounts[ev.Account]
	if !ok {
		log = &accountLog{}
		s.accounts[ev.Account] = log
	}
	log.seq++
	ev.Seq = log.seq
	ev.EventID = model.NewEventID(ev.Account, ev.Seq)

	log.events.PushBack(ev)
	if s.limit > 0 {
		for log.events.Len() > s.limit {
			log.events.PopFront()
		}
	}
	s.orders[ev.OrderID] = append(s.orders[ev.OrderID], ev.Seq)
	return ev
}

func (s *InMemoryEventStore) Since(account string, seq uint64) ([]model.OrderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.accounts[account]
	if !ok || seq >= log.seq {
		return nil, nil
	}
	if log.events.Len() == 0 || log.events.Front().Seq > seq+1 {
		return nil, ErrResyncGap
	}

	start := int(seq + 1 - log.events.Front().Seq)
	out := make([]model.OrderEvent, 0, log.events.Len()-start)
	for i := start; i < log.events.Len(); i++ {
		out = append(out, log.events.At(i))
	}
	return out, nil
}

func (s *InMemoryEventStore) LastSeq(account string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if log, ok := s.accounts[account]; ok {
		return log.seq
	}
	return 0
}

func (s *InMemoryEventStore) OrderChain(orderID string) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.orders[orderID]
	out := make([]uint64, len(chain))
	copy(out, chain)
	return out
}
