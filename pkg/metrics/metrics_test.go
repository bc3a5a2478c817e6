package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/ledgerdex/pkg/app/dex"
)

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation("fill_order", nil, time.Millisecond)
	m.ObserveOperation("fill_order", dex.ErrOrderFilled, time.Millisecond)
	m.ObserveOperation("fill_order", dex.ErrSelfFill, time.Millisecond)
	m.ObserveOperation("withdraw", errors.New("disk full"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("fill_order", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("fill_order", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("fill_order", "forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationDuration))
}

func TestResultUnwrapsReasons(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), dex.ErrInsufficientBalance)
	assert.Equal(t, "insufficient_balance", result(wrapped))
	assert.Equal(t, "not_found", result(dex.ErrOrderNotFound))
}

func TestObserveEvent(t *testing.T) {
	m := New()
	m.ObserveEvent(dex.Event{Type: dex.EventOrderCreated})
	m.ObserveEvent(dex.Event{Type: dex.EventOrderCreated})
	m.ObserveEvent(dex.Event{Type: dex.EventOrderFilled})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("OrderCreated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("OrderFilled")))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/v1/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/orders/{id}", "404")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.WebSocketConnected()
	m.EventDropped("kafka")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "ledgerdex_api_websocket_clients 1"))
	assert.True(t, strings.Contains(text, `ledgerdex_events_dropped_total{sink="kafka"} 1`))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}
