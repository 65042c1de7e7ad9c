// Package metrics holds the Prometheus collectors shared by the API and the
// reconciler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keyless_tips"

var (
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	tipOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tips",
			Name:      "outcomes_total",
			Help:      "Tip intents by terminal state.",
		},
		[]string{"state"},
	)

	tipAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tips",
			Name:      "mirrored_cents_total",
			Help:      "Gross cents committed to the mirror store.",
		},
	)

	ledgerCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Duration of ledger node calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"op", "outcome"},
	)

	identityExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "exchanges_total",
			Help:      "Keyless sign-in completions by outcome.",
		},
		[]string{"outcome"},
	)

	reconcileResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "tips_total",
			Help:      "Pending tips processed by the reconciler, by result.",
		},
		[]string{"result"},
	)

	reconcileDebt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "unsettled_tips",
			Help:      "Mirror-only tips without a confirmed ledger reference.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		tipOutcomes,
		tipAmount,
		ledgerCalls,
		identityExchanges,
		reconcileResults,
		reconcileDebt,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordTipOutcome(state string, mirroredCents int64) {
	tipOutcomes.WithLabelValues(state).Inc()
	if mirroredCents > 0 {
		tipAmount.Add(float64(mirroredCents))
	}
}

func RecordLedgerCall(op string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ledgerCalls.WithLabelValues(op, outcome).Observe(d.Seconds())
}

func RecordIdentityExchange(outcome string) {
	identityExchanges.WithLabelValues(outcome).Inc()
}

func RecordReconcile(result string) {
	reconcileResults.WithLabelValues(result).Inc()
}

func SetUnsettledTips(n int64) {
	reconcileDebt.Set(float64(n))
}
