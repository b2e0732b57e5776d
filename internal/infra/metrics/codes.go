package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		codesGeneratedTotal,
		redemptionsTotal,
		generationRetriesTotal,
	)
}

var (
	codesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensing_codes_generated_total",
			Help: "Codes issued, by kind (activation/discount).",
		},
		[]string{"kind"},
	)

	redemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensing_redemptions_total",
			Help: "Redemption attempts by code kind and result.",
		},
		[]string{"kind", "result"}, // result: 'ok', 'already_used', 'usage_exceeded', 'expired', ...
	)

	generationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licensing_code_generation_collisions_total",
			Help: "Generated candidates discarded because they collided with an issued code.",
		},
	)
)

func AddCodesGenerated(kind string, n int) {
	codesGeneratedTotal.WithLabelValues(norm(kind)).Add(float64(n))
}

func IncRedemption(kind, result string) {
	redemptionsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func IncGenerationCollision() {
	generationRetriesTotal.Inc()
}
