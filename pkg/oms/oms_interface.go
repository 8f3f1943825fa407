package oms

import (
	"context"

	"github.com/joripage/venue-oms/pkg/oms/model"
)

// IOMS is the synchronous surface offered to the boundary layer.
type IOMS interface {
	SubmitOrder(ctx context.Context, req *model.AddOrder, idempotencyKey string) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) (model.Order, error)
	GetOrder(orderID string) (model.Order, error)
	ListOrders(account string) []model.Order
	Positions(account string) []model.Position
}

var _ IOMS = (*OMS)(nil)
