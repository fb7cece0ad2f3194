package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ItemsRouted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talon_items_routed_total",
		Help: "Work items forwarded to a supervisor stream",
	})
	ItemsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talon_items_dropped_total",
		Help: "Work items dropped as undeliverable or invalid",
	})
	BatchesExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talon_batches_executed_total",
		Help: "Scrape batches executed",
	}, []string{"work_type"})
	BatchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "talon_batch_errors_total",
		Help: "Scrape batches that failed",
	}, []string{"work_type"})
	BatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "talon_batch_duration_seconds",
		Help:    "Scrape batch duration seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"work_type"})
	IngestRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talon_ingest_records_total",
		Help: "Deferred records handed to the ingestion engine",
	})
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "talon_queue_depth",
		Help: "Priority queue depth per worker",
	}, []string{"worker"})
	MergePairs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "talon_merge_pairs_total",
		Help: "Duplicate profile merge pairs reported to the control plane",
	})
)

func init() {
	prometheus.MustRegister(ItemsRouted, ItemsDropped, BatchesExecuted, BatchErrors,
		BatchDuration, IngestRecords, QueueDepth, MergePairs)
}

// StartServer starts a metrics HTTP server on addr (e.g., ":9090").
func StartServer(addr string) {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, nil) }()
}

// ObserveBatch records one executed batch.
func ObserveBatch(workType string, start time.Time) {
	BatchesExecuted.WithLabelValues(workType).Inc()
	BatchDuration.WithLabelValues(workType).Observe(time.Since(start).Seconds())
}
