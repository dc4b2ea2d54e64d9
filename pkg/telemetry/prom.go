package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheEventsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_cache_events_total",
		Help: "The total number of cache events by kind, tier and category",
	}, []string{
		"event",    // hit / miss / eviction / bypass / write_failure.
		"tier",     // fast / remote / local, or "unified" for cross-tier events.
		"category", // The logical cache category.
	})
	invalidationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_cache_invalidated_entries_total",
		Help: "The total number of cache entries removed by domain-event invalidation",
	}, []string{
		"trigger",  // The domain event that caused the invalidation.
		"category", // The logical cache category.
	})
)

// Prometheus is an Emitter that records events as prometheus counters.
type Prometheus struct{}

var _ Emitter = Prometheus{}

func (Prometheus) Emit(event Event) {
	if event.Kind == EventInvalidation {
		invalidationsMetric.WithLabelValues(event.Trigger, event.Category).Add(float64(event.Count))
		return
	}
	count := event.Count
	if count == 0 { // Single-entry events leave Count unset.
		count = 1
	}
	cacheEventsMetric.WithLabelValues(event.Kind.String(), event.Tier, event.Category).Add(float64(count))
}
