// Package metrics exposes the guardian daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AccountBalance mirrors council_daemon_account_balance: the
	// guardian wallet's native balance, in wei, refreshed every
	// WALLET_BALANCE_UPDATE_BLOCK_RATE blocks.
	AccountBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "council_daemon_account_balance",
		Help: "Guardian wallet balance in wei, as last observed on-chain.",
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "guardian_tick_duration_seconds",
		Help:    "Wall-clock duration of a completed guardian decision-pipeline tick.",
		Buckets: prometheus.DefBuckets,
	})

	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_ticks_total",
		Help: "Guardian ticks by outcome (ok, skipped, aborted).",
	}, []string{"outcome"})

	IntegrityViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardian_integrity_violations_total",
		Help: "Deposit-tree integrity check failures by kind (finalized, fresh, cache_regression).",
	}, []string{"kind"})

	DepositsBlocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardian_module_deposits_blocked",
		Help: "1 if the module's deposits are currently soft-paused by this guardian, 0 otherwise.",
	}, []string{"module_id"})

	DuplicatedKeysTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardian_module_duplicated_keys",
		Help: "Count of keys classified as duplicates in the module's most recent tick.",
	}, []string{"module_id"})

	FrontRunKeysTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardian_module_frontrun_keys",
		Help: "Count of keys classified as front-run in the module's most recent tick.",
	}, []string{"module_id"})

	InvalidKeysTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "guardian_module_invalid_keys",
		Help: "Count of keys with an invalid BLS deposit signature in the module's most recent tick.",
	}, []string{"module_id"})

	TheftDetected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guardian_theft_detected",
		Help: "1 if a historical front-run (theft) was detected in the most recent tick, 0 otherwise.",
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
