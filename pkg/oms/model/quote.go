package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one venue's top of book for an instrument.
type Quote struct {
	Venue      string          `json:"venue"`
	Instrument string          `json:"instrument"`
	BidPrice   decimal.Decimal `json:"bid_price"`
	BidSize    decimal.Decimal `json:"bid_size"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	AskSize    decimal.Decimal `json:"ask_size"`
	Timestamp  time.Time       `json:"timestamp"`
	Live       bool            `json:"live"`
}

func (q Quote) HasBid() bool {
	return q.BidPrice.IsPositive() && q.BidSize.IsPositive()
}

func (q Quote) HasAsk() bool {
	return q.AskPrice.IsPositive() && q.AskSize.IsPositive()
}

// ConsolidatedQuote is the best bid and offer across live venues. Venues lists
// the live quotes it was computed from.
type ConsolidatedQuote struct {
	Instrument string          `json:"instrument"`
	HasBid     bool            `json:"has_bid"`
	BidPrice   decimal.Decimal `json:"bid_price"`
	BidSize    decimal.Decimal `json:"bid_size"`
	BidVenue   string          `json:"bid_venue"`
	HasAsk     bool            `json:"has_ask"`
	AskPrice   decimal.Decimal `json:"ask_price"`
	AskSize    decimal.Decimal `json:"ask_size"`
	AskVenue   string          `json:"ask_venue"`
	Venues     []Quote         `json:"venues,omitempty"`
	Version    uint64          `json:"version"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SameTop reports whether both quotes carry the same best bid and offer.
func (c ConsolidatedQuote) SameTop(o ConsolidatedQuote) bool {
	return c.HasBid == o.HasBid && c.HasAsk == o.HasAsk &&
		c.BidVenue == o.BidVenue && c.AskVenue == o.AskVenue &&
		c.BidPrice.Equal(o.BidPrice) && c.BidSize.Equal(o.BidSize) &&
		c.AskPrice.Equal(o.AskPrice) && c.AskSize.Equal(o.AskSize)
}

// ReferencePrice is the price an order on side would cross at.
func (c ConsolidatedQuote) ReferencePrice(side OrderSide) (decimal.Decimal, bool) {
	switch side {
	case OrderSideBuy:
		return c.AskPrice, c.HasAsk
	case OrderSideSell:
		return c.BidPrice, c.HasBid
	}
	return decimal.Zero, false
}

// VenuePrice returns the live price venue shows on the side an order would take.
func (c ConsolidatedQuote) VenuePrice(venue string, side OrderSide) (decimal.Decimal, bool) {
	for _, q := range c.Venues {
		if q.Venue != venue || !q.Live {
			continue
		}
		switch side {
		case OrderSideBuy:
			return q.AskPrice, q.HasAsk()
		case OrderSideSell:
			return q.BidPrice, q.HasBid()
		}
	}
	return decimal.Zero, false
}
