package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "relayfunder"

var (
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook deliveries by provider and result.",
	}, []string{"provider", "result"})

	StateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_state_decisions_total",
		Help:      "Payment state machine decisions by verdict.",
	}, []string{"verdict"})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "side_effect_failures_total",
		Help:      "Failed post-confirmation actions by action.",
	}, []string{"action"})

	PledgeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pledge_executions_total",
		Help:      "On-chain pledge execution attempts by result.",
	}, []string{"result"})

	ReconciliationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_runs_total",
		Help:      "Completed reconciliation runs by status.",
	}, []string{"status"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobqueue_jobs",
		Help:      "Jobs per queue state as seen by the last stats refresh.",
	}, []string{"state"})
)

func IncWebhook(provider, result string) {
	WebhookDeliveries.WithLabelValues(provider, result).Inc()
}

func IncDecision(verdict string) {
	StateDecisions.WithLabelValues(verdict).Inc()
}

func IncSideEffectFailure(action string) {
	SideEffectFailures.WithLabelValues(action).Inc()
}

func IncPledgeExecution(result string) {
	PledgeExecutions.WithLabelValues(result).Inc()
}

func IncReconciliation(status string) {
	ReconciliationRuns.WithLabelValues(status).Inc()
}

func SetQueueDepth(state string, n int64) {
	QueueDepth.WithLabelValues(state).Set(float64(n))
}
