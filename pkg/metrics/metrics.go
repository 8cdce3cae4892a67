// Package metrics exposes the agent's prometheus instrumentation. The
// offline queue depth gauge is the observability signal for the otherwise
// unbounded retry directory.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Normalizer metrics
	FlowsNormalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_flows_normalized_total",
			Help: "Total number of flow records normalized from capture output",
		},
	)

	DrainErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_drain_errors_total",
			Help: "Total number of failed capture output drains",
		},
	)

	// Delivery metrics
	BatchesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_batches_sent_total",
			Help: "Total number of batches delivered to the collector",
		},
	)

	BatchesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_batches_failed_total",
			Help: "Total number of batches that failed delivery and were queued offline",
		},
	)

	BatchesRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_batches_retried_total",
			Help: "Total number of offline batches redelivered successfully",
		},
	)

	// Offline store metrics
	OfflineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsentry_offline_queue_depth",
			Help: "Number of batches pending in the offline store",
		},
	)

	OfflineQueueBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowsentry_offline_queue_bytes",
			Help: "Total size in bytes of batches pending in the offline store",
		},
	)

	// Capture supervision metrics
	CaptureRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_capture_restarts_total",
			Help: "Total number of capture process relaunches after unexpected exit",
		},
	)

	// Classifier metrics
	FlowsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsentry_flows_classified_total",
			Help: "Total number of flows classified, by predicted category",
		},
		[]string{"category"},
	)

	ClassifierErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_classifier_errors_total",
			Help: "Total number of classification stage failures",
		},
	)

	UnknownLabels = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowsentry_classifier_unknown_labels_total",
			Help: "Total number of model outputs without a label table entry",
		},
	)
)

// Serve exposes /metrics on addr. It blocks, so callers run it in a
// goroutine; errors after listener setup are returned to the caller.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv.ListenAndServe()
}
