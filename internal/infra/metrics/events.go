package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(eventsPublishedTotal) }

var eventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "licensing_events_published_total",
		Help: "Domain events handed to the publisher, by type and result.",
	},
	[]string{"type", "result"},
)

func IncEventPublished(eventType, result string) {
	eventsPublishedTotal.WithLabelValues(norm(eventType), norm(result)).Inc()
}
