package oms

import (
	"context"

	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"go.uber.org/zap"
)

// Alerter is the operational path for orders frozen by an invariant
// violation.
type Alerter interface {
	Alert(ctx context.Context, order model.Order, reason model.Reason)
}

type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, order model.Order, reason model.Reason) {
	metrics.InvariantViolations.Inc()
	a.logger.Error("order frozen",
		zap.String("order_id", order.ID),
		zap.String("account", order.Account),
		zap.String("venue", order.Venue),
		zap.String("reason", reason.String()),
	)
}
