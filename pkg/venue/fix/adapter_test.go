package fix

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/joripage/venue-oms/pkg/oms/model"
	"github.com/joripage/venue-oms/pkg/venue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ venue.StatusQuerier = (*Adapter)(nil)

func TestQuotesNeverCrowdOutExecutionReports(t *testing.T) {
	a := New(Config{ID: "X", EventBuffer: 8}, nil)

	for i := 0; i < 20; i++ {
		a.onQuote(model.Quote{Instrument: "XYZ"})
	}
	assert.Equal(t, 6, len(a.Events()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			a.onExecutionReport(model.ExecutionReport{
				OrderID:  fmt.Sprintf("o%d", i),
				ExecID:   fmt.Sprintf("e%d", i),
				ExecType: model.ExecTypeTrade,
			})
		}
	}()

	var orderIDs []string
	for len(orderIDs) < 5 {
		select {
		case ev := <-a.Events():
			assert.Equal(t, "X", ev.Venue)
			if ev.Kind == venue.EventExecution {
				orderIDs = append(orderIDs, ev.Report.OrderID)
			}
		case <-time.After(time.Second):
			t.Fatalf("got %d of 5 execution reports", len(orderIDs))
		}
	}
	<-done
	assert.Equal(t, []string{"o0", "o1", "o2", "o3", "o4"}, orderIDs)
}

func TestDisconnectReleasesBlockedEmitter(t *testing.T) {
	a := New(Config{ID: "X", EventBuffer: 4}, nil)
	for i := 0; i < 4; i++ {
		a.onExecutionReport(model.ExecutionReport{OrderID: "o", ExecType: model.ExecTypeNew})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.onExecutionReport(model.ExecutionReport{OrderID: "o", ExecType: model.ExecTypeTrade})
	}()

	select {
	case <-done:
		t.Fatal("emit returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Disconnect(context.Background()))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit still blocked after disconnect")
	}
}

func TestQueryOrderNeedsSession(t *testing.T) {
	a := New(Config{ID: "X"}, nil)
	err := a.QueryOrder(context.Background(), model.Order{ID: "o", Side: model.OrderSideBuy})
	assert.ErrorIs(t, err, venue.ErrDisconnected)
}
