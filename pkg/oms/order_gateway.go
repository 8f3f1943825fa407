package oms

import (
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/venue"
)

// EventPublisher sequences and fans out order events.
type EventPublisher interface {
	PublishOrderEvent(ev model.OrderEvent) model.OrderEvent
}

type QuoteSource interface {
	Consolidated(instrument string) (model.ConsolidatedQuote, bool)
}

type VenueRouter interface {
	SelectVenue(order model.Order, quote model.ConsolidatedQuote, handles []venue.Handle, excluded map[string]bool) (string, error)
	RecordResult(venueID string, rejected bool)
}

type VenueRegistry interface {
	Get(venueID string) (venue.Adapter, error)
	Handles() []venue.Handle
}

type RiskProfiles interface {
	Profile(account string) model.RiskProfile
	IsHalted(instrument string) bool
}
