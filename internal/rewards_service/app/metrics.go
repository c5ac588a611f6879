package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	coordinatorDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_coordinator_decisions_total",
			Help: "Coordinator decisions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	coordinatorRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_coordinator_rejections_total",
			Help: "Rejected requests by reason code.",
		},
		[]string{"action", "reason"},
	)

	auditPersistFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_audit_persist_failures_total",
			Help: "Audit records that could not be persisted after retries. A non-zero rate is an operator alert.",
		},
	)

	auditQueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_audit_queue_dropped_total",
			Help: "Audit records dropped because the queue was full.",
		},
	)

	integrityFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_ledger_integrity_faults_total",
			Help: "Detected ledger integrity faults. Any increase requires operator intervention.",
		},
	)
)
