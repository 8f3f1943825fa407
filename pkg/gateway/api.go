package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/joripage/venue-oms/pkg/logging"
	"github.com/joripage/venue-oms/pkg/oms"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/venue"
	"go.uber.org/zap"
)

func init() {
	// a misspelled order field is an error, not a silently empty value
	binding.EnableDecoderDisallowUnknownFields = true
}

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	RequestIDHeader      = "X-Request-ID"
)

type errorBody struct {
	Error string       `json:"error"`
	Field string       `json:"field,omitempty"`
	Order *model.Order `json:"order,omitempty"`
}

// statusOf maps order manager errors to HTTP statuses.
func statusOf(err error) int {
	var verr *oms.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, oms.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, oms.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, oms.ErrInvalidState), errors.Is(err, venue.ErrCancelRejected):
		return http.StatusConflict
	case errors.Is(err, venue.ErrDisconnected):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// known returns nil for the zero order an error path hands back.
func known(o model.Order) *model.Order {
	if o.ID == "" {
		return nil
	}
	return &o
}

// requestContext tags the request context with a request id and a logger
// carrying it, and logs the request once it is served.
func (g *Gateway) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logging.WithRequestID(c.Request.Context(), c.GetHeader(RequestIDHeader))
		ctx = logging.WithLogger(ctx, g.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, logging.RequestID(ctx))

		c.Next()

		logging.FromContext(ctx).Debug("request served",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (g *Gateway) fail(c *gin.Context, err error, order *model.Order) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Order: order}
	var verr *oms.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request.Context()).Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, body)
}

func (g *Gateway) submitOrder(c *gin.Context) {
	var req model.AddOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "malformed order: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	order, err := g.oms.SubmitOrder(ctx, &req, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		g.fail(c, err, known(order))
		return
	}
	logging.FromContext(ctx).Debug("order accepted", zap.String("order_id", order.ID), zap.String("account", order.Account))
	c.JSON(http.StatusAccepted, order)
}

func (g *Gateway) getOrder(c *gin.Context) {
	order, err := g.oms.GetOrder(c.Param("id"))
	if err != nil {
		g.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) cancelOrder(c *gin.Context) {
	order, err := g.oms.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err, known(order))
		return
	}
	c.JSON(http.StatusAccepted, order)
}

func (g *Gateway) listOrders(c *gin.Context) {
	c.JSON(http.StatusOK, g.oms.ListOrders(c.Param("account")))
}

func (g *Gateway) positions(c *gin.Context) {
	c.JSON(http.StatusOK, g.oms.Positions(c.Param("account")))
}
