package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "torrentd",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	TorrentsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "torrentd",
		Name:      "torrents_active",
		Help:      "Number of torrents currently managed by the session.",
	})

	AlertsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "alerts_processed_total",
		Help:      "Engine alerts processed by kind.",
	}, []string{"kind"})

	ResumeSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "resume_saves_total",
		Help:      "Resume-data records persisted.",
	})

	ResumeSaveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "resume_save_failures_total",
		Help:      "Resume-data save requests the engine reported as failed.",
	})

	MediaInfoExtractionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "mediainfo_extractions_total",
		Help:      "Completed media-info prefetch extractions.",
	})

	WorkflowRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "workflow_runs_total",
		Help:      "Workflow executions by trigger event.",
	}, []string{"event"})

	WorkflowFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "torrentd",
		Name:      "workflow_failures_total",
		Help:      "Workflow runs halted by an action error.",
	})
)

// Register installs all daemon metrics on the given registerer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TorrentsActive,
		AlertsProcessedTotal,
		ResumeSavesTotal,
		ResumeSaveFailuresTotal,
		MediaInfoExtractionsTotal,
		WorkflowRunsTotal,
		WorkflowFailuresTotal,
	)
}
