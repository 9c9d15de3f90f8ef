package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts order attempts by side and terminal status.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coinpilot",
		Name:      "orders_total",
		Help:      "Order attempts by side and status.",
	}, []string{"side", "status"})

	// ExitSignals counts exit decisions by rule name.
	ExitSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coinpilot",
		Name:      "exit_signals_total",
		Help:      "Exit signals by waterfall rule.",
	}, []string{"rule"})

	// ReconcileMismatches counts portfolio mismatches by type.
	ReconcileMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coinpilot",
		Name:      "reconcile_mismatches_total",
		Help:      "Portfolio mismatches by type.",
	}, []string{"type"})

	// CyclesTotal counts completed trading cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "coinpilot",
		Name:      "cycles_total",
		Help:      "Completed trading cycles.",
	})
)

// Handler exposes the default registry for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
