package oms

import (
	"context"
	"errors"
	"fmt"

	"github.com/joripage/venue-oms/pkg/metrics"
	"github.com/joripage/venue-oms/pkg/oms/model"
	riskrule "github.com/joripage/venue-oms/pkg/oms/risk_rule"
	"github.com/joripage/venue-oms/pkg/venue"
	"go.uber.org/zap"
)

// process takes one order from PENDING_RISK_CHECK to a venue or to a
// terminal state.
func (s *OMS) process(ctx context.Context, orderID string) {
	e, err := s.getEntry(orderID)
	if err != nil {
		return
	}

	e.mu.Lock()
	if s.resolvePendingCancelLocked(e) || e.order.Status != model.OrderStatusPendingRiskCheck {
		s.unlock(e)
		return
	}
	order := e.order.Clone()
	s.unlock(e)

	decision := s.evaluate(order)

	e.mu.Lock()
	if !decision.Accepted {
		metrics.RiskRejections.WithLabelValues(string(decision.Reason.Kind)).Inc()
		s.logger.Info("order rejected by risk",
			zap.String("order_id", orderID), zap.String("reason", decision.Reason.String()))
		s.applyLocked(e, triggerRiskReject, nil, decision.Reason)
		s.unlock(e)
		return
	}
	if s.resolvePendingCancelLocked(e) {
		s.unlock(e)
		return
	}
	s.applyLocked(e, triggerRiskPass, nil, nil)
	s.unlock(e)

	s.route(ctx, e)
}

func (s *OMS) evaluate(order model.Order) riskrule.Decision {
	refPrice, _ := s.consolidated(order.Instrument).ReferencePrice(order.Side)

	var profile model.RiskProfile
	halted := false
	if s.profiles != nil {
		profile = s.profiles.Profile(order.Account)
		halted = s.profiles.IsHalted(order.Instrument)
	}

	now := s.now()
	return s.positions.EvaluateAndReserve(order, now, profile.RateWindow, func(snap model.AccountSnapshot) riskrule.Decision {
		return s.risk.Evaluate(riskrule.Input{
			Order:          order,
			Account:        snap,
			Profile:        profile,
			Halted:         halted,
			ReferencePrice: refPrice,
			Now:            now,
		})
	})
}

func (s *OMS) consolidated(instrument string) model.ConsolidatedQuote {
	if s.quotes == nil {
		return model.ConsolidatedQuote{Instrument: instrument}
	}
	q, _ := s.quotes.Consolidated(instrument)
	return q
}

// resolvePendingCancelLocked finishes a cancel requested before the order
// reached a venue.
func (s *OMS) resolvePendingCancelLocked(e *orderEntry) bool {
	if e.order.Status != model.OrderStatusPendingCancel || e.cancelSent {
		return false
	}
	return s.applyLocked(e, triggerCancelResolved, nil, &model.Reason{
		Kind:    model.ReasonClientCancelled,
		Message: "cancelled before reaching a venue",
	})
}

// route asks the router for a venue and submits, excluding venues that
// refused the order, for at most MaxRouteAttempts submissions.
func (s *OMS) route(ctx context.Context, e *orderEntry) {
	excluded := make(map[string]bool)
	var (
		lastReject *venue.RejectError
		lastErr    error
	)

	for attempt := 1; attempt <= s.cfg.MaxRouteAttempts; attempt++ {
		e.mu.Lock()
		if s.resolvePendingCancelLocked(e) || e.order.Status != model.OrderStatusPendingRoute {
			s.unlock(e)
			return
		}
		order := e.order.Clone()
		s.unlock(e)

		venueID, err := s.router.SelectVenue(order, s.consolidated(order.Instrument), s.venues.Handles(), excluded)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		adapter, err := s.venues.Get(venueID)
		if err != nil {
			excluded[venueID] = true
			lastErr = err
			continue
		}

		e.mu.Lock()
		if s.resolvePendingCancelLocked(e) || e.order.Status != model.OrderStatusPendingRoute {
			s.unlock(e)
			return
		}
		e.order.Venue = venueID
		e.order.RouteAttempts = attempt
		order = e.order.Clone()
		s.unlock(e)

		ack, err := adapter.SubmitOrder(ctx, order)
		if err == nil {
			s.router.RecordResult(venueID, false)
			s.onSubmitted(ctx, e, ack)
			return
		}

		s.logger.Warn("venue submission failed",
			zap.String("order_id", order.ID), zap.String("venue", venueID), zap.Int("attempt", attempt), zap.Error(err))
		var rej *venue.RejectError
		if errors.As(err, &rej) {
			s.router.RecordResult(venueID, true)
			lastReject = rej
			if !rej.Transient {
				excluded[venueID] = true
			}
		} else {
			excluded[venueID] = true
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	reason := &model.Reason{Kind: model.ReasonNoVenueAvailable, Message: "no eligible venue for order"}
	switch {
	case lastReject != nil:
		reason = &model.Reason{
			Kind:    model.ReasonVenueRejected,
			Message: fmt.Sprintf("rejected by %s", lastReject.Venue),
			Cause:   lastReject.Reason,
		}
	case lastErr != nil:
		reason.Cause = lastErr.Error()
	}

	e.mu.Lock()
	defer s.unlock(e)
	if s.resolvePendingCancelLocked(e) || e.order.Status != model.OrderStatusPendingRoute {
		return
	}
	s.applyLocked(e, triggerRouteFail, nil, reason)
}

// onSubmitted records the venue's acceptance. A cancel that arrived while the
// submission was in flight is forwarded to the venue now.
func (s *OMS) onSubmitted(ctx context.Context, e *orderEntry, ack venue.Ack) {
	e.mu.Lock()
	switch e.order.Status {
	case model.OrderStatusPendingRoute:
		s.applyLocked(e, triggerVenueAck, nil, nil)
		s.unlock(e)
		return
	case model.OrderStatusPendingCancel:
		if e.cancelSent {
			s.unlock(e)
			return
		}
		if e.order.PrevStatus == model.OrderStatusPendingRoute {
			e.order.PrevStatus = model.OrderStatusSubmitted
		}
		e.cancelSent = true
		order := e.order.Clone()
		s.unlock(e)
		if err := s.sendCancel(ctx, e, order); err != nil {
			s.logger.Warn("deferred cancel failed", zap.String("order_id", order.ID), zap.Error(err))
		}
		return
	}
	s.unlock(e)
}

// sendCancel forwards a cancel to the order's venue. When the venue refuses
// synchronously the order goes back to its previous open state.
func (s *OMS) sendCancel(ctx context.Context, e *orderEntry, order model.Order) error {
	adapter, err := s.venues.Get(order.Venue)
	if err == nil {
		err = adapter.CancelOrder(ctx, order)
	}
	if err == nil {
		return nil
	}

	cause := err.Error()
	var rej *venue.RejectError
	if errors.As(err, &rej) {
		cause = rej.Reason
	}

	e.mu.Lock()
	defer s.unlock(e)
	e.cancelSent = false
	if e.order.Status == model.OrderStatusPendingCancel {
		s.applyLocked(e, triggerCancelReject, nil, &model.Reason{
			Kind:    model.ReasonCancelRejected,
			Message: fmt.Sprintf("cancel refused by %s", order.Venue),
			Cause:   cause,
		})
	}
	return fmt.Errorf("cancel order %s: %w", order.ID, err)
}
