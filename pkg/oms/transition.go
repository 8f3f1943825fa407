package oms

import "github.com/joripage/venue-oms/pkg/oms/model"

type trigger string

const (
	triggerAccept         trigger = "accept"
	triggerRiskPass       trigger = "risk-pass"
	triggerRiskReject     trigger = "risk-reject"
	triggerRouteFail      trigger = "route-fail"
	triggerVenueAck       trigger = "venue-ack"
	triggerPartialFill    trigger = "partial-fill"
	triggerFullFill       trigger = "full-fill"
	triggerVenueCancel    trigger = "venue-cancel"
	triggerVenueReject    trigger = "venue-reject"
	triggerExpire         trigger = "expire"
	triggerCancelRequest  trigger = "cancel-request"
	triggerCancelReject   trigger = "cancel-reject"
	triggerCancelResolved trigger = "cancel-resolved"
	triggerFreeze         trigger = "freeze"
)

// transition is the complete order state machine. It returns false for any
// pair that is not a valid move; callers log and discard those. prev is the
// open state a pending cancel restores to.
func transition(status, prev model.OrderStatus, t trigger) (model.OrderStatus, bool) {
	if status.IsTerminal() {
		return status, false
	}
	if t == triggerFreeze {
		return model.OrderStatusFrozen, true
	}

	switch status {
	case model.OrderStatusNew:
		if t == triggerAccept {
			return model.OrderStatusPendingRiskCheck, true
		}

	case model.OrderStatusPendingRiskCheck:
		switch t {
		case triggerRiskPass:
			return model.OrderStatusPendingRoute, true
		case triggerRiskReject:
			return model.OrderStatusRejected, true
		case triggerCancelRequest:
			return model.OrderStatusPendingCancel, true
		}

	case model.OrderStatusPendingRoute:
		switch t {
		case triggerVenueAck:
			return model.OrderStatusSubmitted, true
		case triggerRouteFail:
			return model.OrderStatusRejected, true
		case triggerCancelRequest:
			return model.OrderStatusPendingCancel, true
		}

	case model.OrderStatusSubmitted, model.OrderStatusPartiallyFilled:
		switch t {
		case triggerPartialFill:
			return model.OrderStatusPartiallyFilled, true
		case triggerFullFill:
			return model.OrderStatusFilled, true
		case triggerVenueCancel:
			return model.OrderStatusCancelled, true
		case triggerVenueReject:
			return model.OrderStatusRejected, true
		case triggerExpire:
			return model.OrderStatusExpired, true
		case triggerCancelRequest:
			return model.OrderStatusPendingCancel, true
		}

	case model.OrderStatusPendingCancel:
		switch t {
		case triggerPartialFill, triggerVenueAck:
			return model.OrderStatusPendingCancel, true
		case triggerFullFill:
			return model.OrderStatusFilled, true
		case triggerVenueCancel, triggerCancelResolved:
			return model.OrderStatusCancelled, true
		case triggerVenueReject, triggerRiskReject, triggerRouteFail:
			return model.OrderStatusRejected, true
		case triggerExpire:
			return model.OrderStatusExpired, true
		case triggerCancelReject:
			if prev.IsOpen() {
				return prev, true
			}
		}
	}
	return status, false
}
