package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records pricing, quoting, settlement and reconciliation outcomes.
type CheckoutMetrics struct {
	quotes          *prometheus.CounterVec
	fxDegraded      *prometheus.CounterVec
	approximate     prometheus.Counter
	reconciliations *prometheus.CounterVec
	reconcileTime   *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	quotes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rate_quotes_total",
		Help: "Delivery rate requests by outcome.",
	}, []string{"outcome"})
	fxDegraded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_fx_degraded_total",
		Help: "Conversions that fell back to no-conversion mode.",
	}, []string{"stage"})
	approximate := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_settlement_approximate_total",
		Help: "Payment intents settled without an exchange rate.",
	})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_reconciliations_total",
		Help: "Order reconciliation attempts by outcome.",
	}, []string{"outcome"})
	reconcileTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_reconciliation_duration_seconds",
		Help:    "Duration of order reconciliation attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(quotes, fxDegraded, approximate, reconciliations, reconcileTime)
	return &CheckoutMetrics{
		quotes:          quotes,
		fxDegraded:      fxDegraded,
		approximate:     approximate,
		reconciliations: reconciliations,
		reconcileTime:   reconcileTime,
	}
}

// IncQuoteOutcome counts a rate request (ok, empty, stale, invalid, failed).
func (c *CheckoutMetrics) IncQuoteOutcome(outcome string) {
	if c == nil || c.quotes == nil {
		return
	}
	c.quotes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncFXDegraded counts a conversion that could not be priced.
func (c *CheckoutMetrics) IncFXDegraded(stage string) {
	if c == nil || c.fxDegraded == nil {
		return
	}
	c.fxDegraded.WithLabelValues(normalizeLabel(stage)).Inc()
}

// IncApproximateSettlement counts an intent frozen with an unconverted total.
func (c *CheckoutMetrics) IncApproximateSettlement() {
	if c == nil || c.approximate == nil {
		return
	}
	c.approximate.Inc()
}

// ObserveReconciliation records one reconciliation attempt.
func (c *CheckoutMetrics) ObserveReconciliation(outcome string, duration time.Duration) {
	if c == nil || c.reconciliations == nil {
		return
	}
	label := normalizeLabel(outcome)
	c.reconciliations.WithLabelValues(label).Inc()
	c.reconcileTime.WithLabelValues(label).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
