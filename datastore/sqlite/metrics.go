package sqlite

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLabels  = []string{"query", "success"}
	databaseTimer = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "releaseworker",
		Subsystem: "datastore_sqlite",
		Name:      "query_duration_seconds",
		Help:      "Database query duration for noted query, including data read time.",
	}, metricLabels)
	databaseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "releaseworker",
		Subsystem: "datastore_sqlite",
		Name:      "query_total",
		Help:      "Database query count for noted query.",
	}, metricLabels)
)

// Observe times a named query. The returned func records the duration and
// outcome; use with defer, passing a pointer to the named error return.
func observe(name string, err *error) func() {
	timer := prometheus.NewTimer(nil)
	return func() {
		labels := prometheus.Labels{
			"query":   name,
			"success": strconv.FormatBool(*err == nil),
		}
		databaseCounter.With(labels).Inc()
		databaseTimer.With(labels).Observe(timer.ObserveDuration().Seconds())
	}
}
