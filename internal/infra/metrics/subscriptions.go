package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		transitionsTotal,
		sweeperRunsTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licensing_subscriptions_expired_total",
			Help: "Total number of subscriptions moved out of service by the lifecycle sweeper.",
		},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensing_subscription_transitions_total",
			Help: "Applied lifecycle transitions.",
		},
		[]string{"from", "to"},
	)

	sweeperRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensing_sweeper_runs_total",
			Help: "Lifecycle sweeper runs, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'failed', 'skipped'
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	transitionsTotal.WithLabelValues(norm(from), norm(to)).Inc()
}

func IncSweeperRun(result string) {
	sweeperRunsTotal.WithLabelValues(norm(result)).Inc()
}
