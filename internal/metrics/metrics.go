// Package metrics exposes pipeline counters over Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeguard_decision_cycles_total", Help: "Decision cycles run per symbol"},
		[]string{"symbol"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeguard_decisions_total", Help: "Risk gate outcomes"},
		[]string{"symbol", "outcome"},
	)
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeguard_intents_total", Help: "Trade intents reaching a state"},
		[]string{"symbol", "state"},
	)
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeguard_external_retries_total", Help: "Retries against external systems"},
		[]string{"op"},
	)
	ReconcilePassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradeguard_reconcile_passes_total", Help: "Reconciler passes over the journal"},
	)
	ReconcileExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tradeguard_reconcile_exhausted_total", Help: "Intents escalated to an operator"},
	)
	NonTerminalIntents = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tradeguard_non_terminal_intents", Help: "Intents currently in flight or awaiting reconciliation"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		DecisionsTotal,
		IntentsTotal,
		RetriesTotal,
		ReconcilePassesTotal,
		ReconcileExhaustedTotal,
		NonTerminalIntents,
	)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
