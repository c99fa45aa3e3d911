package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// conversion pipeline and the retrieval engine.
type Metrics struct {
	DatesConverted prometheus.Counter
	DateFailures   prometheus.Counter
	ConvertRunning prometheus.Gauge

	// Per-record decode metrics.
	RecordsDecoded   prometheus.Counter
	RecordsSkipped   prometheus.Counter
	VariablesDropped prometheus.Counter
	StepGaps         prometheus.Counter

	// Store writer metrics.
	ChunksWritten prometheus.Counter
	BytesWritten  prometheus.Counter

	ConvertDuration prometheus.Histogram

	// Retrieval metrics.
	RetrievalFilesCopied prometheus.Counter
	RetrievalBytesCopied prometheus.Counter
	RetrievalDuration    prometheus.Histogram

	// Completion event metrics. Labels: outcome={success,error}.
	CompletionEvents *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		DatesConverted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "dates_converted_total",
			Help:      "Total forecast dates converted and published.",
		}),
		DateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "date_failures_total",
			Help:      "Total forecast dates that failed conversion.",
		}),
		ConvertRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wave_archive",
			Name:      "convert_running",
			Help:      "1 while a conversion run is active, 0 otherwise.",
		}),
		RecordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "records_decoded_total",
			Help:      "Total cataloged records decoded from source files.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "records_skipped_total",
			Help:      "Total records skipped for carrying an uncataloged identity.",
		}),
		VariablesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "variables_dropped_total",
			Help:      "Total variables dropped from a date for consistency or alignment failures.",
		}),
		StepGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "step_gaps_total",
			Help:      "Total missing forecast steps observed across converted dates.",
		}),
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "chunks_written_total",
			Help:      "Total chunk files written to stores.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "bytes_written_total",
			Help:      "Total compressed bytes written to stores.",
		}),
		ConvertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wave_archive",
			Name:      "convert_duration_seconds",
			Help:      "Duration of one date's complete conversion.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		RetrievalFilesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "retrieval_files_copied_total",
			Help:      "Total store paths copied by retrieval operations.",
		}),
		RetrievalBytesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "retrieval_bytes_copied_total",
			Help:      "Total bytes copied by retrieval operations.",
		}),
		RetrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wave_archive",
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of one retrieval copy operation.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		CompletionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wave_archive",
			Name:      "completion_events_total",
			Help:      "Completion events published, by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.DatesConverted,
		m.DateFailures,
		m.ConvertRunning,
		m.RecordsDecoded,
		m.RecordsSkipped,
		m.VariablesDropped,
		m.StepGaps,
		m.ChunksWritten,
		m.BytesWritten,
		m.ConvertDuration,
		m.RetrievalFilesCopied,
		m.RetrievalBytesCopied,
		m.RetrievalDuration,
		m.CompletionEvents,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		DatesConverted:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "dates_converted_total"}),
		DateFailures:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "date_failures_total"}),
		ConvertRunning:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "wave_archive", Name: "convert_running"}),
		RecordsDecoded:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "records_decoded_total"}),
		RecordsSkipped:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "records_skipped_total"}),
		VariablesDropped:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "variables_dropped_total"}),
		StepGaps:             prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "step_gaps_total"}),
		ChunksWritten:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "chunks_written_total"}),
		BytesWritten:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "bytes_written_total"}),
		ConvertDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "wave_archive", Name: "convert_duration_seconds"}),
		RetrievalFilesCopied: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "retrieval_files_copied_total"}),
		RetrievalBytesCopied: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wave_archive", Name: "retrieval_bytes_copied_total"}),
		RetrievalDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "wave_archive", Name: "retrieval_duration_seconds"}),
		CompletionEvents:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "wave_archive", Name: "completion_events_total"}, []string{"outcome"}),
	}
}
