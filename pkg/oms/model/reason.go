package model

import "fmt"

type ReasonKind string

const (
	ReasonValidation           ReasonKind = "validation"
	ReasonInstrumentHalted     ReasonKind = "instrument-halted"
	ReasonMaxOrderNotional     ReasonKind = "max-order-notional"
	ReasonNoReferencePrice     ReasonKind = "no-reference-price"
	ReasonMaxNetPosition       ReasonKind = "max-net-position"
	ReasonMaxAggregateExposure ReasonKind = "max-aggregate-exposure"
	ReasonRateLimit            ReasonKind = "rate-limit"
	ReasonNoVenueAvailable     ReasonKind = "no-venue-available"
	ReasonVenueRejected        ReasonKind = "venue-rejected"
	ReasonVenueCancelled       ReasonKind = "venue-cancelled"
	ReasonClientCancelled      ReasonKind = "client-cancelled"
	ReasonCancelRejected       ReasonKind = "cancel-rejected"
	ReasonExpired              ReasonKind = "expired"
	ReasonInvariantViolation   ReasonKind = "invariant-violation"
)

// Reason explains an outcome. Cause keeps the raw venue text apart from the
// rendered Message.
type Reason struct {
	Kind     ReasonKind `json:"kind"`
	Message  string     `json:"message"`
	Limit    string     `json:"limit,omitempty"`
	Observed string     `json:"observed,omitempty"`
	Cause    string     `json:"cause,omitempty"`
}

func (r Reason) String() string {
	if r.Limit != "" || r.Observed != "" {
		return fmt.Sprintf("%s: %s (limit=%s observed=%s)", r.Kind, r.Message, r.Limit, r.Observed)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}
