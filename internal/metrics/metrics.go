// Package metrics exposes prometheus instrumentation for the decision path
// and the billing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

type Metrics struct {
	decisions         *prometheus.CounterVec
	cacheSkips        prometheus.Counter
	cacheRefreshes    prometheus.Counter
	billingRuns       prometheus.Counter
	billedSummaries   prometheus.Counter
	ledgerActivities  prometheus.Counter
	settledActivities prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chargegate",
			Name:      "gateway_decisions_total",
			Help:      "Gateway allow/deny decisions by outcome and reason.",
		}, []string{"outcome", "reason"}),
		cacheSkips: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chargegate",
			Name:      "decision_cache_skips_total",
			Help:      "Requests admitted on the cached fast path.",
		}),
		cacheRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chargegate",
			Name:      "decision_cache_refreshes_total",
			Help:      "Decision cache recomputations.",
		}),
		billingRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chargegate",
			Name:      "billing_runs_total",
			Help:      "Billing trigger executions.",
		}),
		billedSummaries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chargegate",
			Name:      "billed_usage_summaries_total",
			Help:      "Usage summaries converted into ledger entries.",
		}),
		ledgerActivities: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chargegate",
			Name:      "ledger_activities_total",
			Help:      "Account activities written by the ledger generator.",
		}),
		settledActivities: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "chargegate",
			Name:      "settled_activities_total",
			Help:      "Account activities flipped to settled.",
		}),
	}
}

func (m *Metrics) RecordDecision(allowed bool, reason string) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	if reason == "" {
		reason = "none"
	}
	m.decisions.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) RecordCacheSkip()    { m.cacheSkips.Inc() }
func (m *Metrics) RecordCacheRefresh() { m.cacheRefreshes.Inc() }

func (m *Metrics) RecordBillingRun(billed int) {
	m.billingRuns.Inc()
	m.billedSummaries.Add(float64(billed))
}

func (m *Metrics) RecordLedgerActivities(n int)  { m.ledgerActivities.Add(float64(n)) }
func (m *Metrics) RecordSettledActivities(n int) { m.settledActivities.Add(float64(n)) }

var Module = fx.Module("metrics",
	fx.Provide(New),
)
