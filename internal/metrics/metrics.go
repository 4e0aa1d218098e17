// Package metrics provides Prometheus metrics for the control plane.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Server pool metrics.
	PoolServersTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "servers_tracked",
		Help:      "Number of servers currently tracked by the pool.",
	})
	PoolServersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "servers_online",
		Help:      "Number of tracked servers with a live authenticated connection.",
	})
	SyncRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "sync_runs_total",
		Help:      "Total number of completed reconciliation passes.",
	})
	SyncReplayFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "pool",
		Name:      "sync_replay_failures_total",
		Help:      "Total per-user replay failures during convergence passes.",
	})

	// Remote panel client metrics.
	PanelRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "panel",
		Name:      "requests_total",
		Help:      "Total panel API requests by operation and outcome.",
	}, []string{"op", "outcome"})

	// VPN service fan-out metrics.
	FanoutResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "vpn",
		Name:      "fanout_results_total",
		Help:      "Per-server fan-out outcomes by operation.",
	}, []string{"op", "outcome"}) // outcome: "ok" or "failed"

	// Subscription aggregator metrics.
	SubRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "sub",
		Name:      "requests_total",
		Help:      "Subscription requests by HTTP status code.",
	}, []string{"code"})
	SubSourceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleet",
		Subsystem: "sub",
		Name:      "source_failures_total",
		Help:      "Per-server subscription fetches that contributed nothing.",
	})
)

func init() {
	prometheus.MustRegister(
		PoolServersTracked,
		PoolServersOnline,
		SyncRunsTotal,
		SyncReplayFailures,
		PanelRequestsTotal,
		FanoutResultsTotal,
		SubRequestsTotal,
		SubSourceFailures,
	)
}
