package redis_wrapper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/redis/go-redis/v9"
)

// Cmdable is the part of *redis.Client the sink uses.
type Cmdable interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type SinkConfig struct {
	Prefix string `yaml:"prefix"`
	// QuoteTTL expires the last-quote snapshot key; zero keeps it.
	QuoteTTL time.Duration `yaml:"quote_ttl"`
}

// Sink publishes order events on <prefix>:orders:<account> and consolidated
// quotes on <prefix>:quotes:<instrument>, keeping the latest quote at
// <prefix>:quote:<instrument> for late readers.
type Sink struct {
	cfg    SinkConfig
	client Cmdable
}

func NewSink(cfg SinkConfig, client Cmdable) *Sink {
	if cfg.Prefix == "" {
		cfg.Prefix = "oms"
	}
	return &Sink{cfg: cfg, client: client}
}

func (s *Sink) Name() string { return "redis" }

func (s *Sink) OrderChannel(account string) string {
	return fmt.Sprintf("%s:orders:%s", s.cfg.Prefix, account)
}

func (s *Sink) QuoteChannel(instrument string) string {
	return fmt.Sprintf("%s:quotes:%s", s.cfg.Prefix, instrument)
}

func (s *Sink) QuoteKey(instrument string) string {
	return fmt.Sprintf("%s:quote:%s", s.cfg.Prefix, instrument)
}

func (s *Sink) WriteOrderEvent(ctx context.Context, ev model.OrderEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.OrderChannel(ev.Account), b).Err()
}

func (s *Sink) WriteQuote(ctx context.Context, q model.ConsolidatedQuote) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.QuoteKey(q.Instrument), b, s.cfg.QuoteTTL).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, s.QuoteChannel(q.Instrument), b).Err()
}
