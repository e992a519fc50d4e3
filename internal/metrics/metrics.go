package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	matchingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ordermatch_match_latency_seconds",
		Help:    "Latency of insert+match for one order in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_orders_total",
			Help: "New orders processed, by result (accepted/rejected).",
		},
		[]string{"symbol", "result"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_executions_total",
			Help: "Total number of fills.",
		},
		[]string{"symbol"},
	)
	cancelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_cancels_total",
			Help: "Cancel requests, by result (canceled/rejected).",
		},
		[]string{"symbol", "result"},
	)
	marketDataTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_marketdata_requests_total",
			Help: "Market data requests, by result (snapshot/rejected).",
		},
		[]string{"symbol", "result"},
	)
	orderbookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordermatch_orderbook_open_qty",
			Help: "Resting open quantity per side.",
		},
		[]string{"symbol", "side"},
	)
	bookHalted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_book_halted_total",
			Help: "Order books halted after an invariant violation.",
		},
		[]string{"symbol"},
	)
	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_stream_errors_total",
			Help: "Redis stream consume/publish errors.",
		},
		[]string{"stream", "group"},
	)
	streamPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordermatch_stream_pending",
			Help: "Pending entries of the consumer group.",
		},
		[]string{"stream", "group"},
	)
	streamDLQ = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_stream_dlq_total",
			Help: "Messages moved to the dead letter stream.",
		},
		[]string{"stream", "group"},
	)
	snapshotSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordermatch_snapshot_saves_total",
			Help: "Order book snapshot saves, by backend and result.",
		},
		[]string{"backend", "result"},
	)
	snapshotOrders = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ordermatch_snapshot_orders",
		Help: "Resting orders in the last saved snapshot.",
	})
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			matchingLatency,
			ordersTotal,
			executionsTotal,
			cancelsTotal,
			marketDataTotal,
			orderbookDepth,
			bookHalted,
			streamErrors,
			streamPending,
			streamDLQ,
			snapshotSaves,
			snapshotOrders,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObserveMatchingLatency(d time.Duration) {
	Init()
	matchingLatency.Observe(d.Seconds())
}

// IncOrders result 为 accepted 或 rejected
func IncOrders(symbol, result string) {
	Init()
	ordersTotal.WithLabelValues(symbol, result).Inc()
}

func AddExecutions(symbol string, n int) {
	Init()
	if n <= 0 {
		return
	}
	executionsTotal.WithLabelValues(symbol).Add(float64(n))
}

func IncCancels(symbol, result string) {
	Init()
	cancelsTotal.WithLabelValues(symbol, result).Inc()
}

func IncMarketData(symbol, result string) {
	Init()
	marketDataTotal.WithLabelValues(symbol, result).Inc()
}

// SetOrderbookDepth side 为 bid 或 ask
func SetOrderbookDepth(symbol, side string, qty float64) {
	Init()
	orderbookDepth.WithLabelValues(symbol, side).Set(qty)
}

func IncBookHalted(symbol string) {
	Init()
	bookHalted.WithLabelValues(symbol).Inc()
}

func IncStreamError(stream, group string) {
	Init()
	streamErrors.WithLabelValues(stream, group).Inc()
}

func SetStreamPending(stream, group string, n int64) {
	Init()
	streamPending.WithLabelValues(stream, group).Set(float64(n))
}

func IncStreamDLQ(stream, group string) {
	Init()
	streamDLQ.WithLabelValues(stream, group).Inc()
}

// ObserveSnapshotSave 记录一次快照保存
func ObserveSnapshotSave(backend string, orders int, err error) {
	Init()
	if err != nil {
		snapshotSaves.WithLabelValues(backend, "error").Inc()
		return
	}
	snapshotSaves.WithLabelValues(backend, "ok").Inc()
	snapshotOrders.Set(float64(orders))
}
