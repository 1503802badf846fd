// Package metrics exposes Prometheus collectors for transcode sessions and
// the batch queue. Labels stay low-cardinality: no paths or session ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webmclip_sessions_started_total",
		Help: "Total number of accepted transcode sessions.",
	})

	SessionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webmclip_sessions_rejected_total",
		Help: "Total number of start requests rejected before any engine call, by reason.",
	}, []string{"reason"})

	SessionsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webmclip_sessions_finished_total",
		Help: "Total number of finished transcode sessions, by terminal state.",
	}, []string{"state"})

	SessionDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webmclip_session_duration_seconds",
		Help:    "Wall-clock duration of transcode sessions, by terminal state.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"state"})

	DerivedBitrateKbps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webmclip_derived_bitrate_kbps",
		Help:    "Video bitrate handed to the engine.",
		Buckets: []float64{128, 256, 512, 1024, 2048, 4096, 8192},
	})

	SessionProgressPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webmclip_session_progress_percent",
		Help: "Progress of the running session, 0-100.",
	})

	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webmclip_session_active",
		Help: "1 while a session owns the controller, 0 otherwise.",
	})

	QueueJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webmclip_queue_jobs_total",
		Help: "Total number of queue job transitions, by resulting status.",
	}, []string{"status"})
)

var InboxFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webmclip_inbox_files_total",
	Help: "Files seen in the inbox directory, by result (enqueued, rejected, error).",
}, []string{"result"})
