package kafkawrapper

import (
	"context"

	"github.com/joripage/venue-oms/pkg/oms/model"
)

// Publisher is the producer side the sink needs.
type Publisher interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
}

type SinkConfig struct {
	OrderEventTopic string `yaml:"order_event_topic"`
	QuoteTopic      string `yaml:"quote_topic"`
}

// Sink forwards order events keyed by account and consolidated quotes keyed by
// instrument. An empty topic turns that half off.
type Sink struct {
	cfg SinkConfig
	pub Publisher
}

func NewSink(cfg SinkConfig, pub Publisher) *Sink {
	return &Sink{cfg: cfg, pub: pub}
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) WriteOrderEvent(ctx context.Context, ev model.OrderEvent) error {
	if s.cfg.OrderEventTopic == "" {
		return nil
	}
	return s.pub.PublishJSON(ctx, s.cfg.OrderEventTopic, ev.Account, ev, map[string]string{
		"event_id": ev.EventID,
		"kind":     string(ev.Kind),
	})
}

func (s *Sink) WriteQuote(ctx context.Context, q model.ConsolidatedQuote) error {
	if s.cfg.QuoteTopic == "" {
		return nil
	}
	return s.pub.PublishJSON(ctx, s.cfg.QuoteTopic, q.Instrument, q, nil)
}
