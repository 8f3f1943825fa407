// Package worker persists the order event stream consumed from Kafka.
package worker

import (
	"context"
	"encoding/json"

	kafkawrapper "github.com/joripage/venue-oms/pkg/kafka_wrapper"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/oms/repo"
	"go.uber.org/zap"
)

// Consumer is the batch source the worker runs on.
type Consumer interface {
	Run(ctx context.Context, handler kafkawrapper.BatchHandler) error
}

type Worker struct {
	repo   repo.IRepo
	logger *zap.Logger
}

func NewWorker(r repo.IRepo, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{repo: r, logger: logger}
}

func (w *Worker) Start(ctx context.Context, consumer Consumer) error {
	return consumer.Run(ctx, w.HandleBatch)
}

// HandleBatch writes one batch in a single transaction. Events, fills and
// order rows are idempotent, so a redelivered batch is harmless. Messages
// that do not decode are logged and skipped.
func (w *Worker) HandleBatch(ctx context.Context, batch []kafkawrapper.Message) error {
	var (
		events []*repo.OrderEventRecord
		fills  []*repo.FillRecord
		orders = make(map[string]*repo.OrderRecord)
		ids    []string
	)
	for _, msg := range batch {
		var ev model.OrderEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			w.logger.Warn("skip undecodable order event",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		rec, err := repo.NewOrderEventRecord(ev)
		if err != nil {
			w.logger.Warn("skip order event", zap.String("order_id", ev.OrderID), zap.Error(err))
			continue
		}
		events = append(events, rec)
		if f := repo.NewFillRecord(ev); f != nil {
			fills = append(fills, f)
		}

		// one row per order per statement, the newest wins
		o := repo.NewOrderRecord(ev)
		if prev, ok := orders[o.ID]; !ok {
			ids = append(ids, o.ID)
			orders[o.ID] = o
		} else if o.LastSeq > prev.LastSeq {
			orders[o.ID] = o
		}
	}
	if len(events) == 0 {
		return nil
	}

	latest := make([]*repo.OrderRecord, 0, len(ids))
	for _, id := range ids {
		latest = append(latest, orders[id])
	}

	return w.repo.Transaction(ctx, func(r repo.IRepo) error {
		if err := r.OrderEvent().BulkCreate(ctx, events); err != nil {
			return err
		}
		if err := r.Fill().BulkCreate(ctx, fills); err != nil {
			return err
		}
		return r.Order().Upsert(ctx, latest)
	})
}
