package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUpdates(t *testing.T) {
	Init()

	startAccepted := testutil.ToFloat64(ordersTotal.WithLabelValues("MSFT", "accepted"))
	startExec := testutil.ToFloat64(executionsTotal.WithLabelValues("MSFT"))
	startHistogramCount := getHistogramSampleCount(t)

	ObserveMatchingLatency(25 * time.Microsecond)
	IncOrders("MSFT", "accepted")
	AddExecutions("MSFT", 3)
	SetOrderbookDepth("MSFT", "bid", 12)

	if got := testutil.ToFloat64(ordersTotal.WithLabelValues("MSFT", "accepted")); got != startAccepted+1 {
		t.Fatalf("ordermatch_orders_total mismatch: got %v want %v", got, startAccepted+1)
	}
	if got := testutil.ToFloat64(executionsTotal.WithLabelValues("MSFT")); got != startExec+3 {
		t.Fatalf("ordermatch_executions_total mismatch: got %v want %v", got, startExec+3)
	}
	if got := testutil.ToFloat64(orderbookDepth.WithLabelValues("MSFT", "bid")); got != 12 {
		t.Fatalf("ordermatch_orderbook_open_qty mismatch: got %v want 12", got)
	}
	if got := getHistogramSampleCount(t); got != startHistogramCount+1 {
		t.Fatalf("latency sample count mismatch: got %v want %v", got, startHistogramCount+1)
	}
}

func TestAddExecutionsNoop(t *testing.T) {
	start := testutil.ToFloat64(executionsTotal.WithLabelValues("NOOP"))
	AddExecutions("NOOP", 0)
	AddExecutions("NOOP", -2)
	if got := testutil.ToFloat64(executionsTotal.WithLabelValues("NOOP")); got != start {
		t.Fatalf("executions changed on non-positive add: got %v want %v", got, start)
	}
}

func TestSnapshotSave(t *testing.T) {
	startErr := testutil.ToFloat64(snapshotSaves.WithLabelValues("pebble", "error"))
	ObserveSnapshotSave("pebble", 42, nil)
	if got := testutil.ToFloat64(snapshotOrders); got != 42 {
		t.Fatalf("snapshot orders = %v", got)
	}
	ObserveSnapshotSave("pebble", 7, errors.New("disk full"))
	if got := testutil.ToFloat64(snapshotOrders); got != 42 {
		t.Fatalf("failed save must not change orders gauge, got %v", got)
	}
	if got := testutil.ToFloat64(snapshotSaves.WithLabelValues("pebble", "error")); got != startErr+1 {
		t.Fatalf("error saves = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	IncBookHalted("HALT")
	IncStreamError("ordermatch:orders", "g")
	SetStreamPending("ordermatch:orders", "g", 5)
	IncStreamDLQ("ordermatch:orders", "g")
	IncCancels("HALT", "rejected")
	IncMarketData("HALT", "rejected")

	count, err := testutil.GatherAndCount(
		registry,
		"ordermatch_book_halted_total",
		"ordermatch_stream_errors_total",
		"ordermatch_stream_pending",
		"ordermatch_stream_dlq_total",
		"ordermatch_cancels_total",
		"ordermatch_marketdata_requests_total",
	)
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if count < 6 {
		t.Fatalf("expected metrics to be registered, got count %d", count)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "ordermatch_book_halted_total") {
		t.Fatal("handler output missing ordermatch_book_halted_total")
	}
}

func getHistogramSampleCount(t *testing.T) uint64 {
	t.Helper()
	mfs, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather histogram: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "ordermatch_match_latency_seconds" {
			continue
		}
		metrics := mf.GetMetric()
		if len(metrics) == 0 {
			return 0
		}
		return metrics[0].GetHistogram().GetSampleCount()
	}
	return 0
}
