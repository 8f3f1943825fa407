package venue

import (
	"errors"
	"fmt"
)

var (
	ErrSubmitRejected = errors.New("venue rejected submission")
	ErrCancelRejected = errors.New("venue rejected cancel")
	ErrDisconnected   = errors.New("venue disconnected")
	ErrUnsupported    = errors.New("venue does not support operation")
	ErrUnknownVenue   = errors.New("unknown venue")
)

// RejectError carries the venue's own reason text for a rejected request.
type RejectError struct {
	Venue     string
	Reason    string
	Transient bool
	kind      error
}

func NewSubmitRejected(venue, reason string, transient bool) *RejectError {
	return &RejectError{Venue: venue, Reason: reason, Transient: transient, kind: ErrSubmitRejected}
}

func NewCancelRejected(venue, reason string) *RejectError {
	return &RejectError{Venue: venue, Reason: reason, kind: ErrCancelRejected}
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Venue, e.kind, e.Reason)
}

func (e *RejectError) Unwrap() error {
	return e.kind
}
