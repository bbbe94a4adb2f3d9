// Package metrics holds the Prometheus instruments for the wallet ledger.
// Instruments are registered on the default registry at init and served by
// the /metrics route in package api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Balance Mutator ────────────────────────────────────────────────────────

// LedgerMutations counts mutation attempts by entry kind and outcome
// ("ok", "insufficient_funds", "inactive", "not_found", "conflict", "error").
var LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_ledger_mutations_total",
	Help: "Balance mutations by entry kind and result.",
}, []string{"kind", "result"})

// ConflictRetries counts units of work re-run after a storage conflict.
var ConflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_ledger_conflict_retries_total",
	Help: "Units of work retried after a storage conflict.",
}, []string{"operation"})

var MutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "wallet_ledger_mutation_duration_seconds",
	Help:    "Latency of a full balance mutation including retries.",
	Buckets: prometheus.DefBuckets,
}, []string{"kind"})

// RechargeCodeCollisions counts generated codes that were already taken.
var RechargeCodeCollisions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wallet_recharge_code_collisions_total",
	Help: "Generated recharge codes rejected because they were already in use.",
})

// ─── Recharge Reconciler ────────────────────────────────────────────────────

var GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_gateway_requests_total",
	Help: "Payment gateway lookups by result.",
}, []string{"result"})

var GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "wallet_gateway_request_duration_seconds",
	Help:    "Payment gateway lookup latency.",
	Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
})

var Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_recharge_redemptions_total",
	Help: "Recharge code redemptions by result.",
}, []string{"result"})

// ─── Revenue Allocator ──────────────────────────────────────────────────────

var Allocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_revenue_allocations_total",
	Help: "Job completion allocations by result.",
}, []string{"result"})

// ─── Audit ──────────────────────────────────────────────────────────────────

var AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "wallet_audit_failures_total",
	Help: "Wallets whose balance did not match their ledger during an audit run.",
})

var AuditedWallets = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "wallet_audit_last_run_wallets",
	Help: "Number of wallets checked by the most recent audit run.",
})
