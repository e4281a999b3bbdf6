package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PaymentsInitiated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Payments initiated against a gateway",
		},
		[]string{"provider", "kind"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"provider", "result"}, // applied|duplicate|stale|invalid_signature|malformed|error
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Ledger state transitions recorded",
		},
		[]string{"to"},
	)

	ReconcileSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_sweeps_total",
			Help: "Reconciliation sweeps run",
		},
	)
	ReconcileCandidates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconcile_candidates",
			Help: "Candidates picked up by the last sweep",
		},
	)
	ReconcileExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_exhausted_total",
			Help: "Transactions whose verify retry budget ran out",
		},
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

func Init() {
	prometheus.MustRegister(PaymentsInitiated)
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(Transitions)
	prometheus.MustRegister(ReconcileSweeps)
	prometheus.MustRegister(ReconcileCandidates)
	prometheus.MustRegister(ReconcileExhausted)
	prometheus.MustRegister(WorkerQueueDepth)
}
