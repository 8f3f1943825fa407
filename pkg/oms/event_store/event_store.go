package eventstore

import (
	"errors"

	"github.com/joripage/venue-oms/pkg/oms/model"
)

// ErrResyncGap is returned when events after the requested sequence are no
// longer retained and the caller has to rebuild from order snapshots.
var ErrResyncGap = errors.New("requested sequence is older than the retained window")

type EventStore interface {
	// Append assigns the next account sequence to ev, stores and returns it.
	Append(ev model.OrderEvent) model.OrderEvent
	// Since returns retained events of account with Seq > seq, in order.
	Since(account string, seq uint64) ([]model.OrderEvent, error)
	LastSeq(account string) uint64
	// OrderChain returns the sequence numbers recorded for an order.
	OrderChain(orderID string) []uint64
}
