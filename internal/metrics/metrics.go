package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medisync_bookings_total",
			Help: "Appointment booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	AppointmentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medisync_appointment_transitions_total",
			Help: "Appointment status changes by target status",
		},
		[]string{"status"},
	)

	ProcessesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medisync_processes_created_total",
			Help: "Processes created together with their bill",
		},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medisync_payments_total",
			Help: "Bill payment attempts by outcome",
		},
		[]string{"outcome"},
	)

	PaidCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medisync_paid_cents_total",
			Help: "Sum of settled bill amounts in cents",
		},
	)

	ResourceDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medisync_resource_decisions_total",
			Help: "Resource request decisions by result",
		},
		[]string{"decision"},
	)

	LockFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medisync_lock_failures_total",
			Help: "Keyed lock acquisitions that gave up after all attempts",
		},
		[]string{"scope"},
	)

	TxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medisync_tx_duration_seconds",
			Help:    "Duration of atomic units",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	TxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "medisync_tx_retries_total",
			Help: "Atomic units re-run after a lock timeout or serialization failure",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medisync_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medisync_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func RecordBooking(outcome string) {
	BookingsTotal.WithLabelValues(outcome).Inc()
}

func RecordTransition(status string) {
	AppointmentTransitions.WithLabelValues(status).Inc()
}

// RecordPayment counts an attempt; amountCents is added to the settled total
// only for successful payments.
func RecordPayment(outcome string, amountCents int64) {
	PaymentsTotal.WithLabelValues(outcome).Inc()
	if outcome == "paid" && amountCents > 0 {
		PaidCents.Add(float64(amountCents))
	}
}

func RecordDecision(decision string) {
	ResourceDecisions.WithLabelValues(decision).Inc()
}

func RecordLockFailure(scope string) {
	LockFailures.WithLabelValues(scope).Inc()
}

func ObserveTx(status string, seconds float64) {
	TxDuration.WithLabelValues(status).Observe(seconds)
}

func RecordHTTPRequest(method, route, status string, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}
