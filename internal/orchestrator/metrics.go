package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the fetch metrics. The CLI writes it out with
// prometheus.WriteToTextfile when --metrics-file is set.
var Registry = prometheus.NewRegistry()

var (
	unitsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpduck_units_total",
			Help: "Fetch units (chunks or pages) finished, by outcome",
		},
		[]string{"kind", "outcome"}, // outcome: "success", "fetch_error", "write_error"
	)

	rowsWritten = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpduck_rows_written_total",
			Help: "Rows stored by the single writer",
		},
		[]string{"kind"},
	)

	fetchDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpduck_fetch_duration_seconds",
			Help:    "Duration of a single unit fetch including transform",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	gatePeak = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mpduck_gate_peak_holders",
			Help: "Highest number of concurrent fetches in the last run",
		},
		[]string{"kind"},
	)
)
