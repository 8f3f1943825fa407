// Package kafkawrapper publishes to Kafka and runs a pool of batch consumers
// on one topic.
package kafkawrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
	Headers   map[string]string
	Raw       kafka.Message
}

type ProducerConfig struct {
	Brokers      []string      `yaml:"brokers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchBytes   int64         `yaml:"batch_bytes"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// Async makes Publish return before the broker acknowledges.
	Async bool `yaml:"async"`
}

type Producer struct {
	w *kafka.Writer
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 1 << 20
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	acks := kafka.RequireAll
	if cfg.Async {
		acks = kafka.RequireOne
	}
	wr := &kafka.Writer{
		Addr: kafka.TCP(cfg.Brokers...),
		// same key, same partition: per-account order events stay ordered
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		RequiredAcks:           acks,
		Async:                  cfg.Async,
	}
	return &Producer{w: wr}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.w == nil {
		return errors.New("producer not initialized")
	}
	var kh []kafka.Header
	for k, v := range headers {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: kh,
		Time:    time.Now(),
	})
}

func (p *Producer) PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, []byte(key), b, headers)
}

func (p *Producer) Close(ctx context.Context) error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

type ConsumerConfig struct {
	Brokers     []string      `yaml:"brokers"`
	GroupID     string        `yaml:"group_id"`
	Topic       string        `yaml:"topic"`
	WorkerCount int           `yaml:"worker_count"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffMin  time.Duration `yaml:"backoff_min"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	DLQTopic    string        `yaml:"dlq_topic"`
	// BatchSize is the most messages handed to the handler at once.
	BatchSize int `yaml:"batch_size"`
	// BatchTimeout flushes a partial batch.
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

func (c *ConsumerConfig) applyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffMin == 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 10 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 200 * time.Millisecond
	}
}

// BatchHandler processes one batch. A batch is committed once the handler
// succeeds or, after MaxRetries, once it has been sent to the DLQ.
type BatchHandler func(ctx context.Context, batch []Message) error

type ConsumerGroup struct {
	r          *kafka.Reader
	cfg        ConsumerConfig
	prodForDLQ *Producer
	logger     *zap.Logger
}

func NewConsumerGroup(cfg ConsumerConfig, logger *zap.Logger) (*ConsumerGroup, error) {
	cfg.applyDefaults()
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("consumer needs a topic and a group id")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	var prod *Producer
	if cfg.DLQTopic != "" {
		prod = NewProducer(ProducerConfig{Brokers: cfg.Brokers})
	}

	return &ConsumerGroup{r: rd, cfg: cfg, prodForDLQ: prod, logger: logger.With(zap.String("topic", cfg.Topic))}, nil
}

func (cg *ConsumerGroup) Close() error {
	if cg == nil {
		return nil
	}
	if cg.prodForDLQ != nil {
		_ = cg.prodForDLQ.Close(context.Background())
	}
	if cg.r != nil {
		return cg.r.Close()
	}
	return nil
}

// Run feeds batches to handler on WorkerCount goroutines until ctx is done.
func (cg *ConsumerGroup) Run(ctx context.Context, handler BatchHandler) error {
	if cg == nil || cg.r == nil {
		return errors.New("consumer not initialized")
	}

	batches := make(chan []kafka.Message, cg.cfg.WorkerCount)
	go cg.fetch(ctx, batches)

	done := make(chan struct{}, cg.cfg.WorkerCount)
	for i := 0; i < cg.cfg.WorkerCount; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for ms := range batches {
				if !cg.handle(ctx, handler, ms) {
					return
				}
			}
		}()
	}

	for i := 0; i < cg.cfg.WorkerCount; i++ {
		<-done
	}
	return ctx.Err()
}

func (cg *ConsumerGroup) fetch(ctx context.Context, batches chan<- []kafka.Message) {
	defer close(batches)
	var buf []kafka.Message
	flush := func() bool {
		if len(buf) == 0 {
			return true
		}
		select {
		case batches <- buf:
			buf = nil
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, cg.cfg.BatchTimeout)
		m, err := cg.r.FetchMessage(fetchCtx)
		cancel()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			if !flush() {
				return
			}
			continue
		case err != nil:
			cg.logger.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		buf = append(buf, m)
		if len(buf) >= cg.cfg.BatchSize && !flush() {
			return
		}
	}
}

// handle retries handler with exponential backoff. It returns false when ctx
// ended first.
func (cg *ConsumerGroup) handle(ctx context.Context, handler BatchHandler, ms []kafka.Message) bool {
	wrapped := make([]Message, len(ms))
	for i, m := range ms {
		wrapped[i] = wrapMessage(m)
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = cg.cfg.BackoffMin
	boff.MaxInterval = cg.cfg.BackoffMax
	boff.MaxElapsedTime = 0
	boff.Reset()

	for attempt := 0; ; attempt++ {
		err := handler(ctx, wrapped)
		if err == nil {
			break
		}
		if attempt >= cg.cfg.MaxRetries {
			cg.logger.Error("batch failed, giving up",
				zap.Int("messages", len(ms)), zap.Int("attempts", attempt+1), zap.Error(err))
			cg.toDLQ(ctx, ms)
			break
		}
		select {
		case <-time.After(boff.NextBackOff()):
		case <-ctx.Done():
			return false
		}
	}

	if err := cg.r.CommitMessages(ctx, ms...); err != nil {
		cg.logger.Warn("commit failed", zap.Error(err))
	}
	return ctx.Err() == nil
}

func (cg *ConsumerGroup) toDLQ(ctx context.Context, ms []kafka.Message) {
	if cg.prodForDLQ == nil {
		return
	}
	for _, m := range ms {
		if err := cg.prodForDLQ.Publish(ctx, cg.cfg.DLQTopic, m.Key, m.Value, headersToMap(m.Headers)); err != nil {
			cg.logger.Error("dlq publish failed", zap.String("dlq", cg.cfg.DLQTopic), zap.Error(fmt.Errorf("offset %d: %w", m.Offset, err)))
		}
	}
}

func wrapMessage(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Headers:   headersToMap(m.Headers),
		Raw:       m,
	}
}

func headersToMap(hs []kafka.Header) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}
