package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/FACorreiaa/echo-import/internal/domain/import/service")

// Row outcomes reported by the rows counter.
const (
	outcomeImported = "imported"
	outcomeFailed   = "failed"
	outcomeSkipped  = "skipped"
)

// Metrics are the Prometheus collectors of the import pipeline.
type Metrics struct {
	Rows           *prometheus.CounterVec
	BatchFallbacks prometheus.Counter
	ActiveImports  prometheus.Gauge
	Duration       *prometheus.HistogramVec
	UploadBytes    prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echo",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Rows read from imported files by outcome.",
		}, []string{"outcome"}),
		BatchFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "echo",
			Subsystem: "import",
			Name:      "batch_fallbacks_total",
			Help:      "Batches whose bulk insert failed and were retried record by record.",
		}),
		ActiveImports: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "echo",
			Subsystem: "import",
			Name:      "active",
			Help:      "Imports currently running.",
		}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "echo",
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Wall time of finished imports by final status.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"status"}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "echo",
			Subsystem: "import",
			Name:      "upload_bytes",
			Help:      "Size of staged uploads.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
}
