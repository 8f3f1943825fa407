// Package marketdata consolidates per-venue top of book into a best bid and
// offer per instrument.
package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/stream"
	"go.uber.org/zap"
)

type Config struct {
	// StalenessThreshold is how old a venue quote may get before it stops
	// counting towards the consolidated quote.
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.StalenessThreshold <= 0 {
		c.StalenessThreshold = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
}

// QuoteFeed is where consolidated updates are published and subscribed.
type QuoteFeed interface {
	PublishQuote(q model.ConsolidatedQuote)
	SubscribeQuotes(instrument string, initial *model.ConsolidatedQuote) *stream.QuoteSubscription
}

type book struct {
	mu      sync.Mutex
	quotes  map[string]model.Quote // venue -> quote
	current model.ConsolidatedQuote
	has     bool
}

type Aggregator struct {
	cfg    Config
	feed   QuoteFeed
	logger *zap.Logger
	now    func() time.Time

	books sync.Map // instrument -> *book

	indexMu sync.Mutex
	index   map[string]map[string]struct{} // venue -> instruments
}

func NewAggregator(cfg Config, feed QuoteFeed, logger *zap.Logger) *Aggregator {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:    cfg,
		feed:   feed,
		logger: logger,
		now:    time.Now,
		index:  make(map[string]map[string]struct{}),
	}
}

func (a *Aggregator) book(instrument string) *book {
	if b, ok := a.books.Load(instrument); ok {
		return b.(*book)
	}
	b, _ := a.books.LoadOrStore(instrument, &book{
		quotes:  make(map[string]model.Quote),
		current: model.ConsolidatedQuote{Instrument: instrument},
	})
	return b.(*book)
}

func (a *Aggregator) indexVenue(venue, instrument string) {
	a.indexMu.Lock()
	defer a.indexMu.Unlock()
	instruments, ok := a.index[venue]
	if !ok {
		instruments = make(map[string]struct{})
		a.index[venue] = instruments
	}
	instruments[instrument] = struct{}{}
}

func (a *Aggregator) instrumentsOf(venue string) []string {
	a.indexMu.Lock()
	defer a.indexMu.Unlock()
	out := make([]string, 0, len(a.index[venue]))
	for instr := range a.index[venue] {
		out = append(out, instr)
	}
	return out
}

// OnQuote replaces the venue's quote for instrument and recomputes the
// instrument's consolidated quote.
func (a *Aggregator) OnQuote(venue, instrument string, q model.Quote) {
	metrics.QuoteUpdates.WithLabelValues(venue).Inc()
	q.Venue = venue
	q.Instrument = instrument
	q.Live = true
	if q.Timestamp.IsZero() {
		q.Timestamp = a.now()
	}
	a.indexVenue(venue, instrument)

	b := a.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.quotes[venue]; ok && q.Timestamp.Before(prev.Timestamp) {
		return
	}
	b.quotes[venue] = q
	a.recomputeLocked(instrument, b)
}

// OnVenueDisconnected drops every quote of venue from consolidation at once.
func (a *Aggregator) OnVenueDisconnected(venue string) {
	for _, instrument := range a.instrumentsOf(venue) {
		b := a.book(instrument)
		b.mu.Lock()
		if q, ok := b.quotes[venue]; ok && q.Live {
			q.Live = false
			b.quotes[venue] = q
			a.recomputeLocked(instrument, b)
		}
		b.mu.Unlock()
	}
}

// Consolidated returns the current consolidated quote and whether any venue
// has ever quoted the instrument.
func (a *Aggregator) Consolidated(instrument string) (model.ConsolidatedQuote, bool) {
	v, ok := a.books.Load(instrument)
	if !ok {
		return model.ConsolidatedQuote{Instrument: instrument}, false
	}
	b := v.(*book)
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneConsolidated(b.current), b.has
}

// Subscribe returns a coalescing subscription whose first element is the
// current consolidated quote when one exists. It can be called again at any
// time to restart from the latest state.
func (a *Aggregator) Subscribe(instrument string) *stream.QuoteSubscription {
	b := a.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.has {
		return a.feed.SubscribeQuotes(instrument, nil)
	}
	initial := cloneConsolidated(b.current)
	return a.feed.SubscribeQuotes(instrument, &initial)
}

// Run marks quotes older than the staleness threshold not live until ctx is
// done.
func (a *Aggregator) Run(ctx context.Context) {
	t := time.NewTicker(a.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Sweep()
		}
	}
}

func (a *Aggregator) Sweep() {
	cutoff := a.now().Add(-a.cfg.StalenessThreshold)
	a.books.Range(func(key, value any) bool {
		instrument := key.(string)
		b := value.(*book)
		b.mu.Lock()
		changed := false
		for venue, q := range b.quotes {
			if q.Live && q.Timestamp.Before(cutoff) {
				q.Live = false
				b.quotes[venue] = q
				changed = true
				metrics.StaleQuotes.WithLabelValues(venue).Inc()
				a.logger.Debug("quote went stale", zap.String("venue", venue), zap.String("instrument", instrument))
			}
		}
		if changed {
			a.recomputeLocked(instrument, b)
		}
		b.mu.Unlock()
		return true
	})
}

func (a *Aggregator) recomputeLocked(instrument string, b *book) {
	next := consolidate(instrument, b.quotes)
	next.Version = b.current.Version
	if b.has && next.SameTop(b.current) {
		next.Timestamp = b.current.Timestamp
		b.current = next
		return
	}
	next.Version++
	next.Timestamp = a.now()
	b.current = next
	b.has = true
	metrics.ConsolidatedUpdates.Inc()
	if a.feed != nil {
		a.feed.PublishQuote(cloneConsolidated(next))
	}
}

// consolidate picks the best live bid and ask. Ties go to the larger size,
// then the lower venue id.
func consolidate(instrument string, quotes map[string]model.Quote) model.ConsolidatedQuote {
	out := model.ConsolidatedQuote{Instrument: instrument}
	venues := make([]string, 0, len(quotes))
	for venue, q := range quotes {
		if q.Live {
			venues = append(venues, venue)
		}
	}
	sort.Strings(venues)

	for _, venue := range venues {
		q := quotes[venue]
		out.Venues = append(out.Venues, q)
		if q.HasBid() {
			if !out.HasBid || q.BidPrice.GreaterThan(out.BidPrice) ||
				(q.BidPrice.Equal(out.BidPrice) && q.BidSize.GreaterThan(out.BidSize)) {
				out.HasBid = true
				out.BidPrice, out.BidSize, out.BidVenue = q.BidPrice, q.BidSize, venue
			}
		}
		if q.HasAsk() {
			if !out.HasAsk || q.AskPrice.LessThan(out.AskPrice) ||
				(q.AskPrice.Equal(out.AskPrice) && q.AskSize.GreaterThan(out.AskSize)) {
				out.HasAsk = true
				out.AskPrice, out.AskSize, out.AskVenue = q.AskPrice, q.AskSize, venue
			}
		}
	}
	return out
}

func cloneConsolidated(c model.ConsolidatedQuote) model.ConsolidatedQuote {
	if c.Venues != nil {
		c.Venues = append([]model.Quote(nil), c.Venues...)
	}
	return c
}
