// Package router picks the venue an order is sent to.
package router

import (
	"errors"
	"sort"
	"sync"

	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/shopspring/decimal"
)

var ErrNoVenueAvailable = errors.New("no venue available")

type Config struct {
	// DefaultVenue takes orders no venue is quoting, provided it is eligible.
	DefaultVenue string `yaml:"default_venue"`
}

type venueStats struct {
	submitted int64
	rejected  int64
}

type Router struct {
	cfg Config

	mu    sync.RWMutex
	stats map[string]*venueStats
}

func NewRouter(cfg Config) *Router {
	return &Router{
		cfg:   cfg,
		stats: make(map[string]*venueStats),
	}
}

type candidate struct {
	venue         string
	price         decimal.Decimal
	rejectionRate float64
	priority      int
}

// SelectVenue ranks connected venues that support the order type and are not
// excluded. Venues quoting the side the order takes are ranked by price, then
// rejection rate, then priority, then id.
func (r *Router) SelectVenue(order model.Order, quote model.ConsolidatedQuote, handles []venue.Handle, excluded map[string]bool) (string, error) {
	eligible := make(map[string]venue.Handle, len(handles))
	for _, h := range handles {
		if h.Status != venue.StatusConnected || excluded[h.Venue] || !h.Capabilities.Supports(order.Type) {
			continue
		}
		eligible[h.Venue] = h
	}

	candidates := make([]candidate, 0, len(eligible))
	for id, h := range eligible {
		price, ok := quote.VenuePrice(id, order.Side)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{
			venue:         id,
			price:         price,
			rejectionRate: r.RejectionRate(id),
			priority:      h.Priority,
		})
	}

	if len(candidates) == 0 {
		if _, ok := eligible[r.cfg.DefaultVenue]; ok && r.cfg.DefaultVenue != "" {
			metrics.RouteDecisions.WithLabelValues(r.cfg.DefaultVenue, "default").Inc()
			return r.cfg.DefaultVenue, nil
		}
		metrics.RouteDecisions.WithLabelValues("", "none").Inc()
		return "", ErrNoVenueAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.price.Equal(b.price) {
			if order.Side == model.OrderSideBuy {
				return a.price.LessThan(b.price)
			}
			return a.price.GreaterThan(b.price)
		}
		if a.rejectionRate != b.rejectionRate {
			return a.rejectionRate < b.rejectionRate
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.venue < b.venue
	})

	metrics.RouteDecisions.WithLabelValues(candidates[0].venue, "best_price").Inc()
	return candidates[0].venue, nil
}

// RecordResult feeds the outcome of a submission into the venue's rejection
// rate.
func (r *Router) RecordResult(venueID string, rejected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[venueID]
	if !ok {
		s = &venueStats{}
		r.stats[venueID] = s
	}
	s.submitted++
	if rejected {
		s.rejected++
	}
}

func (r *Router) RejectionRate(venueID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[venueID]
	if !ok || s.submitted == 0 {
		return 0
	}
	return float64(s.rejected) / float64(s.submitted)
}
