package stream

import "errors"

var (
	// ErrSlowSubscriber closes an order subscription whose queue stayed full
	// for longer than the grace period. The client resubscribes with its last
	// sequence number.
	ErrSlowSubscriber = errors.New("subscriber fell behind")
	ErrClosed         = errors.New("subscription closed")
)
