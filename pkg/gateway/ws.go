// Package gateway is the client boundary: JSON order entry over HTTP, order
// events and consolidated quotes over websocket.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joripage/venue-oms/pkg/logging"
	"github.com/joripage/venue-oms/pkg/oms"
	eventstore "github.com/joripage/venue-oms/pkg/oms/event_store"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/stream"
	"go.uber.org/zap"
)

const (
	FrameOrderEvent = "order_event"
	FrameSnapshot   = "snapshot"
	FrameQuote      = "quote"
	FrameError      = "error"
)

// Frame is one websocket message. Snapshot frames carry every order of the
// account and the sequence the live stream continues from.
type Frame struct {
	Type    string                   `json:"type"`
	Event   *model.OrderEvent        `json:"event,omitempty"`
	Orders  []model.Order            `json:"orders,omitempty"`
	LastSeq uint64                   `json:"last_seq,omitempty"`
	Quote   *model.ConsolidatedQuote `json:"quote,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

type OrderStream interface {
	SubscribeOrders(account string, lastSeq uint64) (*stream.OrderSubscription, error)
	LastSeq(account string) uint64
}

type QuoteStream interface {
	Subscribe(instrument string) *stream.QuoteSubscription
}

type Gateway struct {
	oms          oms.IOMS
	orders       OrderStream
	quotes       QuoteStream
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func New(svc oms.IOMS, orders OrderStream, quotes QuoteStream, writeTimeout time.Duration, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Gateway{
		oms:          svc,
		orders:       orders,
		quotes:       quotes,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts every endpoint on r.
func (g *Gateway) Register(r gin.IRouter) {
	api := r.Group("/", g.requestContext())
	api.POST("/orders", g.submitOrder)
	api.GET("/orders/:id", g.getOrder)
	api.DELETE("/orders/:id", g.cancelOrder)
	api.GET("/accounts/:account/orders", g.listOrders)
	api.GET("/accounts/:account/positions", g.positions)

	r.GET("/ws/orders", gin.WrapF(g.ServeOrders))
	r.GET("/ws/quotes", gin.WrapF(g.ServeQuotes))
}

// ServeOrders streams /ws/orders?account=A&since=N. Events after since are
// replayed first. When they are no longer retained the client gets a snapshot
// frame and the stream continues after it.
func (g *Gateway) ServeOrders(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		http.Error(w, "account is required", http.StatusBadRequest)
		return
	}
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "since must be a sequence number", http.StatusBadRequest)
			return
		}
		since = v
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := logging.WithRequestID(r.Context(), r.Header.Get(RequestIDHeader))
	logger := g.logger.With(zap.String("request_id", logging.RequestID(ctx)), zap.String("account", account))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go drain(conn, cancel)

	sub, err := g.orders.SubscribeOrders(account, since)
	if errors.Is(err, eventstore.ErrResyncGap) {
		lastSeq := g.orders.LastSeq(account)
		snapshot := Frame{Type: FrameSnapshot, Orders: g.oms.ListOrders(account), LastSeq: lastSeq}
		if err := g.write(conn, snapshot); err != nil {
			return
		}
		sub, err = g.orders.SubscribeOrders(account, lastSeq)
	}
	if err != nil {
		logger.Warn("order subscription failed", zap.Error(err))
		_ = g.write(conn, Frame{Type: FrameError, Error: err.Error()})
		return
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				if err := sub.Err(); err != nil {
					logger.Info("order stream ended", zap.Error(err))
					_ = g.write(conn, Frame{Type: FrameError, Error: err.Error()})
				}
				return
			}
			if err := g.write(conn, Frame{Type: FrameOrderEvent, Event: &ev}); err != nil {
				logger.Debug("order stream write failed", zap.Error(err))
				return
			}
		}
	}
}

// ServeQuotes streams /ws/quotes?instrument=X, starting with the current
// consolidated quote.
func (g *Gateway) ServeQuotes(w http.ResponseWriter, r *http.Request) {
	instrument := r.URL.Query().Get("instrument")
	if instrument == "" {
		http.Error(w, "instrument is required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drain(conn, cancel)

	sub := g.quotes.Subscribe(instrument)
	defer sub.Close()

	for {
		q, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := g.write(conn, Frame{Type: FrameQuote, Quote: &q}); err != nil {
			return
		}
	}
}

func (g *Gateway) write(conn *websocket.Conn, f Frame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	return conn.WriteJSON(f)
}

// drain reads until the client goes away; the streams are one way.
func drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
