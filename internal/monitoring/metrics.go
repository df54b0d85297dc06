package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every backend collector. It is separate from the
	// default registry so tests can gather it without global side effects.
	Registry = prometheus.NewRegistry()

	APECSMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zeus2be_apecs_messages_total",
		Help: "APECS control lines handled, by kind (query, set, execute, dropped).",
	}, []string{"kind"})

	DirectivesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zeus2be_directives_total",
		Help: "Hardware directives executed, by kind and result.",
	}, []string{"kind", "result"})

	DirectiveSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zeus2be_directive_seconds",
		Help:    "Wall time spent executing a hardware directive.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	CrashResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zeus2be_crash_resets_total",
		Help: "Readout crash resets issued after an error.",
	})

	AcquisitionTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zeus2be_acquisition_timeouts_total",
		Help: "Acquisitions killed for exceeding their expected duration.",
	})

	StreamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zeus2be_stream_connections",
		Help: "Open realtime data connections.",
	})

	FramesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zeus2be_stream_frames_sent_total",
		Help: "Binary data frames sent to the telescope data consumer.",
	})
)

func init() {
	Registry.MustRegister(
		APECSMessages,
		DirectivesTotal,
		DirectiveSeconds,
		CrashResets,
		AcquisitionTimeouts,
		StreamConnections,
		FramesSent,
	)
}

// MetricsHandler serves the backend registry in the prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
