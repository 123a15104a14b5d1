// Package metrics exposes Prometheus instrumentation for the recognition
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recognition engine.
type Metrics struct {
	// Session lifecycle metrics
	SessionsStarted   prometheus.Counter
	ProactiveRestarts prometheus.Counter
	RestartsScheduled prometheus.Counter
	FatalErrors       prometheus.Counter
	ActiveSessions    prometheus.Gauge

	// Result pipeline metrics
	FragmentsReceived *prometheus.CounterVec
	ResultsEmitted    *prometheus.CounterVec
	DedupDropped      prometheus.Counter

	// Audio ingest metrics
	BufferedChunks      prometheus.Gauge
	BufferDroppedChunks prometheus.Counter
}

// New creates and registers all engine metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tranlater_sessions_started_total",
			Help: "Total number of recognition sessions opened",
		}),
		ProactiveRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tranlater_proactive_restarts_total",
			Help: "Total number of restarts triggered before the provider duration ceiling",
		}),
		RestartsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "tranlater_restarts_scheduled_total",
			Help: "Total number of reconnects scheduled after stream ends or errors",
		}),
		FatalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "tranlater_fatal_errors_total",
			Help: "Total number of non-recoverable engine errors",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tranlater_active_sessions",
			Help: "Number of currently active recognition sessions (0 or 1)",
		}),
		FragmentsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tranlater_fragments_received_total",
			Help: "Total number of transcript fragments received per channel",
		}, []string{"channel"}),
		ResultsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tranlater_results_emitted_total",
			Help: "Total number of synchronized results emitted per kind",
		}, []string{"kind"}),
		DedupDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tranlater_dedup_dropped_total",
			Help: "Total number of final results dropped as duplicates",
		}),
		BufferedChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tranlater_buffered_audio_chunks",
			Help: "Number of audio chunks currently held by the ingest buffer",
		}),
		BufferDroppedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "tranlater_buffer_dropped_chunks_total",
			Help: "Total number of audio chunks dropped by the ingest buffer under backpressure",
		}),
	}
}
