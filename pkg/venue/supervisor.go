package venue

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"go.uber.org/zap"
)

// QuoteConsumer receives market data from every adapter.
type QuoteConsumer interface {
	OnQuote(venue, instrument string, q model.Quote)
	OnVenueDisconnected(venue string)
}

// ExecutionConsumer receives order traffic and connectivity changes.
type ExecutionConsumer interface {
	OnExecutionReport(ctx context.Context, report model.ExecutionReport)
	OnVenueStatus(ctx context.Context, venue string, status Status)
}

type ReconnectConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

func (c *ReconnectConfig) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
}

type SupervisorConfig struct {
	Reconnect ReconnectConfig
	// Instruments lists, per venue id, the market data to (re)subscribe after
	// every successful connect.
	Instruments map[string][]string
}

// Supervisor runs each adapter as an independent unit: one goroutine drains
// its events, another owns its connection lifecycle.
type Supervisor struct {
	cfg      SupervisorConfig
	registry *Registry
	quotes   QuoteConsumer
	execs    ExecutionConsumer
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewSupervisor(cfg SupervisorConfig, registry *Registry, quotes QuoteConsumer, execs ExecutionConsumer, logger *zap.Logger) *Supervisor {
	cfg.Reconnect.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		registry: registry,
		quotes:   quotes,
		execs:    execs,
		logger:   logger,
	}
}

// Start launches the per-adapter goroutines and returns immediately.
func (s *Supervisor) Start(ctx context.Context) {
	for _, a := range s.registry.Adapters() {
		lost := make(chan struct{}, 1)
		s.wg.Add(2)
		go s.pump(ctx, a, lost)
		go s.maintain(ctx, a, lost)
	}
}

// Wait blocks until every adapter goroutine has exited after ctx is done.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Reconnect.InitialInterval
	b.MaxInterval = s.cfg.Reconnect.MaxInterval
	b.Multiplier = s.cfg.Reconnect.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (s *Supervisor) maintain(ctx context.Context, a Adapter, lost <-chan struct{}) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("venue", a.ID()))
	b := s.newBackOff()

	for {
		err := a.Connect(ctx)
		if err != nil {
			metrics.VenueReconnects.WithLabelValues(a.ID(), "failure").Inc()
			wait := b.NextBackOff()
			logger.Warn("venue connect failed", zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				s.shutdown(a, logger)
				return
			case <-time.After(wait):
				continue
			}
		}
		metrics.VenueReconnects.WithLabelValues(a.ID(), "success").Inc()
		b.Reset()
		s.subscribe(ctx, a, logger)

		select {
		case <-ctx.Done():
			s.shutdown(a, logger)
			return
		case <-lost:
			logger.Warn("venue connection lost, reconnecting")
		}
	}
}

func (s *Supervisor) subscribe(ctx context.Context, a Adapter, logger *zap.Logger) {
	if !a.Capabilities().MarketData {
		return
	}
	for _, instrument := range s.cfg.Instruments[a.ID()] {
		if err := a.SubscribeMarketData(ctx, instrument); err != nil {
			logger.Warn("market data subscribe failed", zap.String("instrument", instrument), zap.Error(err))
		}
	}
}

func (s *Supervisor) shutdown(a Adapter, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Disconnect(ctx); err != nil {
		logger.Warn("venue disconnect failed", zap.Error(err))
	}
}

func (s *Supervisor) pump(ctx context.Context, a Adapter, lost chan<- struct{}) {
	defer s.wg.Done()
	events := a.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(ctx, a, ev, lost)
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, a Adapter, ev Event, lost chan<- struct{}) {
	switch ev.Kind {
	case EventQuote:
		s.quotes.OnQuote(a.ID(), ev.Quote.Instrument, ev.Quote)
	case EventExecution:
		s.execs.OnExecutionReport(ctx, ev.Report)
	case EventStatus:
		s.logger.Info("venue status", zap.String("venue", a.ID()), zap.String("status", string(ev.Status)), zap.Error(ev.Err))
		switch ev.Status {
		case StatusConnected:
			metrics.VenueConnected.WithLabelValues(a.ID()).Set(1)
		case StatusDisconnected:
			metrics.VenueConnected.WithLabelValues(a.ID()).Set(0)
			s.quotes.OnVenueDisconnected(a.ID())
			select {
			case lost <- struct{}{}:
			default:
			}
		}
		s.execs.OnVenueStatus(ctx, a.ID(), ev.Status)
	}
}
