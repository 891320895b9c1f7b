package librelease

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/zigtools/releaseworker/librelease")
}

var (
	httpLabels   = []string{"endpoint", "code"}
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "releaseworker",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration per endpoint.",
	}, httpLabels)
	httpCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "releaseworker",
		Subsystem: "http",
		Name:      "request_total",
		Help:      "HTTP request count per endpoint.",
	}, httpLabels)

	selectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "releaseworker",
		Subsystem: "selector",
		Name:      "failure_total",
		Help:      "Typed selection failures by code.",
	}, []string{"code"})
)
