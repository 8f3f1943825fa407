package oms

import (
	"context"
	"fmt"

	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OnExecutionReport applies one venue report to its order. Reports for
// terminal orders, for venues the order is no longer routed to and repeated
// exec ids are dropped.
func (s *OMS) OnExecutionReport(ctx context.Context, r model.ExecutionReport) {
	e, err := s.getEntry(r.OrderID)
	if err != nil {
		s.logger.Warn("execution report for unknown order",
			zap.String("order_id", r.OrderID), zap.String("venue", r.Venue), zap.String("exec_type", string(r.ExecType)))
		metrics.DiscardedEvents.WithLabelValues("unknown-order").Inc()
		return
	}

	e.mu.Lock()
	frozen, reason := s.applyReportLocked(e, r)
	s.unlock(e)

	if reason != nil {
		s.alerter.Alert(ctx, frozen, *reason)
	}
}

// applyReportLocked also ends the order's degraded period: any report proves
// the venue is talking about it again.
func (s *OMS) applyReportLocked(e *orderEntry, r model.ExecutionReport) (model.Order, *model.Reason) {
	o := &e.order
	if o.Status.IsTerminal() {
		s.logger.Debug("report for terminal order",
			zap.String("order_id", o.ID), zap.String("status", string(o.Status)), zap.String("exec_type", string(r.ExecType)))
		metrics.DiscardedEvents.WithLabelValues("terminal").Inc()
		return model.Order{}, nil
	}
	if o.Venue == "" || r.Venue != o.Venue {
		s.logger.Warn("report from venue the order is not routed to",
			zap.String("order_id", o.ID), zap.String("venue", r.Venue), zap.String("routed_to", o.Venue))
		metrics.DiscardedEvents.WithLabelValues("venue-mismatch").Inc()
		return model.Order{}, nil
	}

	reconnected := o.Degraded
	o.Degraded = false
	queued := len(e.outbox)

	// a report that can only follow acceptance acknowledges a submission that
	// is still in flight
	if acknowledges(r) {
		switch {
		case o.Status == model.OrderStatusPendingRoute:
			s.applyLocked(e, triggerVenueAck, nil, nil)
		case o.Status == model.OrderStatusPendingCancel && o.PrevStatus == model.OrderStatusPendingRoute:
			o.PrevStatus = model.OrderStatusSubmitted
		}
	}

	frozen, reason := s.applyExecLocked(e, r)
	if reconnected && len(e.outbox) == queued {
		o.UpdatedAt = s.now()
		s.publishLocked(e, nil, nil)
	}
	return frozen, reason
}

func acknowledges(r model.ExecutionReport) bool {
	switch r.ExecType {
	case model.ExecTypeRejected, model.ExecTypeCancelRejected:
		return false
	case model.ExecTypeOrderStatus:
		return r.VenueStatus != model.OrderStatusPendingRoute && r.VenueStatus != model.OrderStatusRejected
	}
	return true
}

func (s *OMS) applyExecLocked(e *orderEntry, r model.ExecutionReport) (model.Order, *model.Reason) {
	o := &e.order
	switch r.ExecType {
	case model.ExecTypeNew:
	case model.ExecTypeTrade:
		return s.applyFillLocked(e, r)
	case model.ExecTypeCanceled:
		reason := &model.Reason{Kind: model.ReasonVenueCancelled, Message: "cancelled by venue", Cause: r.Text}
		if o.Status == model.OrderStatusPendingCancel {
			reason = &model.Reason{Kind: model.ReasonClientCancelled, Message: "cancelled on client request"}
		}
		s.applyLocked(e, triggerVenueCancel, nil, reason)
	case model.ExecTypeRejected:
		if o.Status == model.OrderStatusPendingRoute {
			// the submission call reports this one
			metrics.DiscardedEvents.WithLabelValues(string(triggerVenueReject)).Inc()
			return model.Order{}, nil
		}
		s.applyLocked(e, triggerVenueReject, nil, &model.Reason{
			Kind:    model.ReasonVenueRejected,
			Message: "rejected by " + r.Venue,
			Cause:   r.Text,
		})
	case model.ExecTypeExpired:
		s.applyLocked(e, triggerExpire, nil, &model.Reason{Kind: model.ReasonExpired, Message: "expired at venue", Cause: r.Text})
	case model.ExecTypeCancelRejected:
		e.cancelSent = false
		if o.Status != model.OrderStatusPendingCancel {
			return model.Order{}, nil
		}
		s.applyLocked(e, triggerCancelReject, nil, &model.Reason{
			Kind:    model.ReasonCancelRejected,
			Message: "cancel refused by " + r.Venue,
			Cause:   r.Text,
		})
	case model.ExecTypeOrderStatus:
		return s.reconcileLocked(e, r)
	default:
		s.logger.Warn("unhandled exec type", zap.String("order_id", o.ID), zap.String("exec_type", string(r.ExecType)))
	}
	return model.Order{}, nil
}

// reconcileLocked brings the order in line with the venue's answer to a status
// query. Quantity the venue filled while it was unreachable is booked as one
// fill priced so the order's average matches the venue's.
func (s *OMS) reconcileLocked(e *orderEntry, r model.ExecutionReport) (model.Order, *model.Reason) {
	o := &e.order
	if missing := r.CumQuantity.Sub(o.CumQuantity); missing.IsPositive() {
		price := r.AvgPrice.Mul(r.CumQuantity).Sub(o.AvgPrice.Mul(o.CumQuantity)).Div(missing)
		if !price.IsPositive() {
			price = r.AvgPrice
		}
		s.logger.Info("booking fills missed while venue was unreachable",
			zap.String("order_id", o.ID), zap.String("venue", r.Venue),
			zap.String("qty", missing.String()), zap.String("price", price.String()))
		frozen, reason := s.applyFillLocked(e, model.ExecutionReport{
			OrderID:      o.ID,
			Venue:        r.Venue,
			ExecID:       fmt.Sprintf("%s-status-%s", r.Venue, r.CumQuantity.String()),
			ExecType:     model.ExecTypeTrade,
			LastQuantity: missing,
			LastPrice:    price,
			Timestamp:    r.Timestamp,
		})
		if reason != nil {
			return frozen, reason
		}
	}

	next := r
	switch r.VenueStatus {
	case model.OrderStatusCancelled:
		next.ExecType = model.ExecTypeCanceled
	case model.OrderStatusExpired:
		next.ExecType = model.ExecTypeExpired
	case model.OrderStatusRejected:
		next.ExecType = model.ExecTypeRejected
	default:
		return model.Order{}, nil
	}
	if o.Status.IsTerminal() {
		return model.Order{}, nil
	}
	return s.applyExecLocked(e, next)
}

func (s *OMS) applyFillLocked(e *orderEntry, r model.ExecutionReport) (model.Order, *model.Reason) {
	o := &e.order
	if r.ExecID != "" && o.HasFill(r.ExecID) {
		s.logger.Debug("duplicate fill", zap.String("order_id", o.ID), zap.String("exec_id", r.ExecID))
		metrics.DiscardedEvents.WithLabelValues("duplicate-fill").Inc()
		return model.Order{}, nil
	}
	// venues that report running totals let a fill already booked from a
	// status query be recognised under its own exec id
	if r.CumQuantity.IsPositive() && r.CumQuantity.LessThanOrEqual(o.CumQuantity) {
		s.logger.Debug("fill already covered by cumulative quantity",
			zap.String("order_id", o.ID), zap.String("exec_id", r.ExecID), zap.String("cum_qty", r.CumQuantity.String()))
		metrics.DiscardedEvents.WithLabelValues("duplicate-fill").Inc()
		return model.Order{}, nil
	}
	if !r.LastQuantity.IsPositive() || !r.LastPrice.IsPositive() {
		s.logger.Warn("fill without quantity or price",
			zap.String("order_id", o.ID), zap.String("exec_id", r.ExecID),
			zap.String("qty", r.LastQuantity.String()), zap.String("price", r.LastPrice.String()))
		metrics.DiscardedEvents.WithLabelValues("invalid-fill").Inc()
		return model.Order{}, nil
	}

	cum := o.CumQuantity.Add(r.LastQuantity)
	if cum.GreaterThan(o.Quantity) {
		return s.freezeLocked(e, r, cum)
	}

	t := triggerPartialFill
	if cum.Equal(o.Quantity) {
		t = triggerFullFill
	}
	if _, ok := transition(o.Status, o.PrevStatus, t); !ok {
		s.logger.Warn("fill not valid for order status",
			zap.String("order_id", o.ID), zap.String("status", string(o.Status)), zap.String("exec_id", r.ExecID))
		metrics.DiscardedEvents.WithLabelValues(string(t)).Inc()
		return model.Order{}, nil
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	fill := model.Fill{
		OrderID:   o.ID,
		ExecID:    r.ExecID,
		Venue:     r.Venue,
		Quantity:  r.LastQuantity,
		Price:     r.LastPrice,
		Timestamp: ts,
	}
	o.AvgPrice = o.AvgPrice.Mul(o.CumQuantity).Add(r.LastQuantity.Mul(r.LastPrice)).Div(cum)
	o.CumQuantity = cum
	o.LeavesQuantity = o.Quantity.Sub(cum)
	o.Fills = append(o.Fills, fill)
	if o.Status == model.OrderStatusPendingCancel {
		o.PrevStatus = model.OrderStatusPartiallyFilled
	}

	s.positions.ApplyFill(*o, r.LastQuantity, r.LastPrice)
	s.applyLocked(e, t, &fill, nil)
	return model.Order{}, nil
}

// freezeLocked stops all processing of an order whose fills exceed its
// quantity. The fill that broke it is not applied.
func (s *OMS) freezeLocked(e *orderEntry, r model.ExecutionReport, cum decimal.Decimal) (model.Order, *model.Reason) {
	reason := &model.Reason{
		Kind:     model.ReasonInvariantViolation,
		Message:  "cumulative fill quantity exceeds order quantity",
		Limit:    e.order.Quantity.String(),
		Observed: cum.String(),
		Cause:    "exec " + r.ExecID + " from " + r.Venue,
	}
	s.applyLocked(e, triggerFreeze, nil, reason)
	return e.order.Clone(), reason
}

// OnVenueStatus flags orders resting at a venue while it is unreachable and,
// once it is back, asks the venue to replay their state. The flag is cleared
// by the first report for the order after that.
func (s *OMS) OnVenueStatus(ctx context.Context, venueID string, status venue.Status) {
	switch status {
	case venue.StatusDisconnected:
		for _, e := range s.entriesAtVenue(venueID) {
			e.mu.Lock()
			switch e.order.Status {
			case model.OrderStatusSubmitted, model.OrderStatusPartiallyFilled, model.OrderStatusPendingCancel:
				if !e.order.Degraded {
					e.order.Degraded = true
					e.order.UpdatedAt = s.now()
					s.publishLocked(e, nil, nil)
				}
			}
			s.unlock(e)
		}

	case venue.StatusConnected:
		var stale []model.Order
		for _, e := range s.entriesAtVenue(venueID) {
			e.mu.Lock()
			if e.order.Degraded {
				stale = append(stale, e.order.Clone())
			}
			e.mu.Unlock()
		}
		if len(stale) == 0 {
			return
		}
		adapter, err := s.venues.Get(venueID)
		if err != nil {
			return
		}
		querier, ok := adapter.(venue.StatusQuerier)
		if !ok {
			s.logger.Info("venue cannot replay order state, orders stay degraded until it reports on them",
				zap.String("venue", venueID), zap.Int("orders", len(stale)))
			return
		}
		for _, o := range stale {
			if err := querier.QueryOrder(ctx, o); err != nil {
				s.logger.Warn("order status query failed",
					zap.String("order_id", o.ID), zap.String("venue", venueID), zap.Error(err))
			}
		}
	}
}
