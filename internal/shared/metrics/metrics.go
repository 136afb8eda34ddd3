package metrics

import (
	"database/sql"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	uploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_upload_notifications_total",
		Help: "Upload notifications handled, by outcome.",
	}, []string{"outcome"})

	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_ingestion_jobs_total",
		Help: "Ingestion jobs handled by the embedding worker, by outcome.",
	}, []string{"outcome"})

	documentTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_document_status_transitions_total",
		Help: "Document status transitions.",
	}, []string{"from", "to"})

	chunksEmbedded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docchat_chunks_embedded_total",
		Help: "Chunks embedded and written to the retrieval store.",
	})

	ingestionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_ingestion_duration_seconds",
		Help:    "Wall time from job start to terminal document status.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	openConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docchat_realtime_connections",
		Help: "Realtime connections currently open in this process.",
	})

	deliveryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_realtime_delivery_failures_total",
		Help: "Frames that could not be delivered, by reason.",
	}, []string{"reason"})

	responsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_rag_responses_total",
		Help: "Generate-response actions, by outcome.",
	}, []string{"outcome"})

	responseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_rag_response_duration_seconds",
		Help:    "Time spent answering a generate-response action.",
		Buckets: prometheus.DefBuckets,
	})

	httpPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_http_panics_total",
		Help: "Handler panics recovered by the HTTP server, by route.",
	}, []string{"route"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		uploadsTotal,
		jobsTotal,
		documentTransitions,
		chunksEmbedded,
		ingestionDuration,
		openConnections,
		deliveryFailures,
		responsesTotal,
		responseDuration,
		httpPanics,
	)
}

// IncPanic counts a recovered handler panic on route.
func IncPanic(route string) {
	httpPanics.WithLabelValues(route).Inc()
}

// IncUpload counts an upload notification ("created", "duplicate", "filtered", "failed").
func IncUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

// IncJob counts an ingestion job ("received", "ready", "error", "skipped", "discarded", "retry").
func IncJob(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// IncTransition counts a document status change.
func IncTransition(from, to string) {
	documentTransitions.WithLabelValues(from, to).Inc()
}

// AddChunksEmbedded adds n stored chunks.
func AddChunksEmbedded(n int) {
	if n > 0 {
		chunksEmbedded.Add(float64(n))
	}
}

// ObserveIngestionSeconds records how long a job took.
func ObserveIngestionSeconds(v float64) {
	ingestionDuration.Observe(v)
}

// ConnectionOpened and ConnectionClosed track live realtime sessions.
func ConnectionOpened() { openConnections.Inc() }

func ConnectionClosed() { openConnections.Dec() }

// IncDeliveryFailure counts a frame that never reached its connection.
func IncDeliveryFailure(reason string) {
	deliveryFailures.WithLabelValues(reason).Inc()
}

// IncResponse counts a generate-response outcome ("ok" or an error code).
func IncResponse(outcome string) {
	responsesTotal.WithLabelValues(outcome).Inc()
}

// ObserveResponseSeconds records generate-response latency.
func ObserveResponseSeconds(v float64) {
	responseDuration.Observe(v)
}

// RegisterDBStats exports the pool statistics of database under db_name.
// Registering the same name twice is a no-op.
func RegisterDBStats(database *sql.DB, name string) {
	err := registry.Register(collectors.NewDBStatsCollector(database, name))
	var dup prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &dup) {
		panic(err)
	}
}

// Registry exposes the process registry for tests and custom exporters.
func Registry() *prometheus.Registry {
	return registry
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
