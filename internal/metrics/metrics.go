package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialog_sessions_active",
		Help: "Currently active dialog sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialog_sessions_total",
		Help: "Total dialog sessions created",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_events_total",
		Help: "Inbound events by type",
	}, []string{"type"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_commands_total",
		Help: "Outbound commands by type",
	}, []string{"type"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_decode_errors_total",
		Help: "Inbound payloads rejected by the codec",
	}, []string{"kind"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialog_generation_duration_seconds",
		Help:    "Response generation latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	TraceRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialog_trace_records_total",
		Help: "Trace records appended by direction",
	}, []string{"direction"})
)
