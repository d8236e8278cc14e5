package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MarkersQueued = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txnmarker_markers_queued",
		Help: "Marker entries currently queued per destination broker.",
	}, []string{"broker"})

	PendingTransactions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "txnmarker_pending_transactions",
		Help: "Producer transactions awaiting marker acknowledgment.",
	})

	DrainedRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txnmarker_drained_requests_total",
		Help: "Batched marker requests produced by drain cycles.",
	})

	CompletedTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txnmarker_completed_transactions_total",
		Help: "Transactions whose completion callback fired, by outcome.",
	}, []string{"outcome"})

	UnresolvedPartitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txnmarker_unresolved_partitions_total",
		Help: "Partitions parked because no leader was known at enqueue time.",
	})

	ShedMarkers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txnmarker_shed_markers_total",
		Help: "Marker entries rejected because a broker queue hit its bound.",
	})

	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txnmarker_send_failures_total",
		Help: "Batched requests that failed at the transport layer, per broker.",
	}, []string{"broker"})

	CompletionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "txnmarker_completion_latency_seconds",
		Help:    "Time from pending registration to completion callback.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})
)

func init() {
	prometheus.MustRegister(MarkersQueued, PendingTransactions, DrainedRequests, CompletedTransactions)
	prometheus.MustRegister(UnresolvedPartitions, ShedMarkers, SendFailures, CompletionLatency)
}

func StartMetricsServer(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		fmt.Println("[METRICS] Prometheus exporter listening on", addr)
		_ = http.ListenAndServe(addr, nil)
	}()
}
