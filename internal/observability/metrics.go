package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the upload and thumbnail
// pipelines.
type Metrics struct {
	SessionsCreated   prometheus.Counter
	ChunksReceived    prometheus.Counter
	UploadsFinalized  prometheus.Counter
	SessionsExpired   prometheus.Counter
	ThumbCacheHits    prometheus.Counter
	ThumbJobsQueued   prometheus.Counter
	ThumbJobsFailed   prometheus.Counter
	ThumbPlaceholders prometheus.Counter
	ThumbJobsRunning  prometheus.Gauge
}

// InitMetrics registers the service collectors with a registry and returns
// them together with the /metrics handler. A fresh registry per call keeps
// tests isolated from each other.
func InitMetrics() (*Metrics, http.Handler) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_upload_sessions_created_total",
			Help: "Upload sessions created.",
		}),
		ChunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_upload_chunks_received_total",
			Help: "Chunks accepted into temporary storage.",
		}),
		UploadsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_uploads_finalized_total",
			Help: "Uploads assembled into final files.",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_upload_sessions_expired_total",
			Help: "Abandoned sessions reclaimed by the sweeper.",
		}),
		ThumbCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_thumb_cache_hits_total",
			Help: "Thumbnail requests served directly from cache.",
		}),
		ThumbJobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_thumb_jobs_queued_total",
			Help: "Thumbnail transcode jobs enqueued.",
		}),
		ThumbJobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_thumb_jobs_failed_total",
			Help: "Thumbnail transcode jobs that surfaced an error.",
		}),
		ThumbPlaceholders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nasdrive_thumb_placeholders_total",
			Help: "Video thumbnails degraded to a placeholder image.",
		}),
		ThumbJobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nasdrive_thumb_jobs_running",
			Help: "Transcode jobs currently holding a worker slot.",
		}),
	}

	reg.MustRegister(
		m.SessionsCreated, m.ChunksReceived, m.UploadsFinalized, m.SessionsExpired,
		m.ThumbCacheHits, m.ThumbJobsQueued, m.ThumbJobsFailed, m.ThumbPlaceholders,
		m.ThumbJobsRunning,
	)

	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
