package oms

import (
	"sort"
	"sync"

	"github.com/joripage/venue-oms/pkg/oms/model"
)

// orderEntry guards one order. Every transition of the order happens with mu
// held; unrelated orders never share a lock.
type orderEntry struct {
	mu    sync.Mutex
	order model.Order
	// cancelSent is set once a cancel request has been handed to the venue.
	cancelSent bool
	// outbox holds events produced under mu. They are published after mu is
	// released, by one goroutine at a time and in the order they were made.
	outbox   []model.OrderEvent
	flushing bool
}

type accountIndex struct {
	mu  sync.Mutex
	ids []string
}

func (s *OMS) storeOrder(e *orderEntry) {
	s.orderIDMapping.Store(e.order.ID, e)
}

func (s *OMS) getEntry(orderID string) (*orderEntry, error) {
	v, ok := s.orderIDMapping.Load(orderID)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*orderEntry), nil
}

// claimIdempotencyKey binds key to orderID unless another order already holds
// it, in which case that order id is returned with loaded set.
func (s *OMS) claimIdempotencyKey(key, orderID string) (existing string, loaded bool) {
	v, loaded := s.idempotencyMapping.LoadOrStore(key, orderID)
	return v.(string), loaded
}

func (s *OMS) orderIDByKey(key string) (string, bool) {
	v, ok := s.idempotencyMapping.Load(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (s *OMS) indexAccount(account, orderID string) {
	v, _ := s.accountMapping.LoadOrStore(account, &accountIndex{})
	idx := v.(*accountIndex)
	idx.mu.Lock()
	idx.ids = append(idx.ids, orderID)
	idx.mu.Unlock()
}

func (s *OMS) accountOrderIDs(account string) []string {
	v, ok := s.accountMapping.Load(account)
	if !ok {
		return nil
	}
	idx := v.(*accountIndex)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return append([]string(nil), idx.ids...)
}

// entriesAtVenue returns the orders last routed to venueID, oldest first.
func (s *OMS) entriesAtVenue(venueID string) []*orderEntry {
	var out []*orderEntry
	s.orderIDMapping.Range(func(_, v any) bool {
		e := v.(*orderEntry)
		e.mu.Lock()
		match := e.order.Venue == venueID && !e.order.Status.IsTerminal()
		e.mu.Unlock()
		if match {
			out = append(out, e)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].order.CreatedAt.Before(out[j].order.CreatedAt)
	})
	return out
}
