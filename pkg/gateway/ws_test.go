package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joripage/venue-oms/pkg/marketdata"
	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/stream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, hub *stream.Hub, agg *marketdata.Aggregator, svc *fakeOMS) string {
	engine := gin.New()
	var quotes QuoteStream
	if agg != nil {
		quotes = agg
	}
	New(svc, hub, quotes, time.Second, nil).Register(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func publish(hub *stream.Hub, orderID string) model.OrderEvent {
	return hub.PublishOrderEvent(model.NewOrderEvent(model.OrderEventStatus,
		model.Order{ID: orderID, Account: "acc-1", Status: model.OrderStatusSubmitted}, time.Now()))
}

func TestOrdersReplayThenLive(t *testing.T) {
	hub := stream.NewHub(stream.Config{}, nil, nil)
	url := serve(t, hub, nil, newFakeOMS())

	publish(hub, "o1")
	publish(hub, "o2")

	conn := dial(t, url+"/ws/orders?account=acc-1&since=1")

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameOrderEvent, f.Type)
	require.NotNil(t, f.Event)
	assert.Equal(t, uint64(2), f.Event.Seq)

	publish(hub, "o3")
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, uint64(3), f.Event.Seq)
	assert.Equal(t, "o3", f.Event.OrderID)
}

func TestOrdersSnapshotOnResyncGap(t *testing.T) {
	hub := stream.NewHub(stream.Config{ReplayLimit: 2}, nil, nil)
	svc := newFakeOMS(model.Order{ID: "o1", Account: "acc-1"}, model.Order{ID: "o2", Account: "acc-1"})
	url := serve(t, hub, nil, svc)

	for _, id := range []string{"o1", "o1", "o2", "o2"} {
		publish(hub, id)
	}

	conn := dial(t, url+"/ws/orders?account=acc-1&since=0")

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameSnapshot, f.Type)
	assert.Equal(t, uint64(4), f.LastSeq)
	assert.Len(t, f.Orders, 2)

	publish(hub, "o2")
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameOrderEvent, f.Type)
	assert.Equal(t, uint64(5), f.Event.Seq)
}

func TestOrdersRequiresAccount(t *testing.T) {
	hub := stream.NewHub(stream.Config{}, nil, nil)
	url := serve(t, hub, nil, newFakeOMS())

	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws/orders", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuotesStartWithSnapshot(t *testing.T) {
	hub := stream.NewHub(stream.Config{}, nil, nil)
	agg := marketdata.NewAggregator(marketdata.Config{}, hub, nil)
	url := serve(t, hub, agg, newFakeOMS())

	agg.OnQuote("A", "XYZ", model.Quote{
		BidPrice: decimal.RequireFromString("99"), BidSize: decimal.RequireFromString("5"),
		AskPrice: decimal.RequireFromString("101"), AskSize: decimal.RequireFromString("5"),
	})

	conn := dial(t, url+"/ws/quotes?instrument=XYZ")

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, FrameQuote, f.Type)
	require.NotNil(t, f.Quote)
	assert.Equal(t, "A", f.Quote.AskVenue)
	assert.True(t, f.Quote.AskPrice.Equal(decimal.RequireFromString("101")))
}
