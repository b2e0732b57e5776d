package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		invoicesTotal,
		paymentCallbacksTotal,
		revenueTotal,
	)
}

var (
	invoicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensing_invoices_total",
			Help: "Invoices written by status (pending/successful/failed).",
		},
		[]string{"status"},
	)

	paymentCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensing_payment_callbacks_total",
			Help: "Payment callbacks by outcome and whether they were recognized.",
		},
		[]string{"outcome", "recognized"},
	)

	revenueTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licensing_revenue_minor_units_total",
			Help: "Sum of successful invoice amounts in minor units.",
		},
	)
)

func IncInvoice(status string) {
	invoicesTotal.WithLabelValues(norm(status)).Inc()
}

func IncPaymentCallback(outcome string, recognized bool) {
	r := "no"
	if recognized {
		r = "yes"
	}
	paymentCallbacksTotal.WithLabelValues(norm(outcome), r).Inc()
}

func AddRevenue(amount int64) {
	revenueTotal.Add(float64(amount))
}
