package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callbacks_total",
			Help: "Provider callbacks by kind and ingestion outcome",
		},
		[]string{"kind", "outcome"}, // applied|duplicate|unresolved|invalid
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transitions_total",
			Help: "State machine transitions by target state",
		},
		[]string{"to_state"},
	)

	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound provider calls",
		},
		[]string{"op", "outcome"},
	)

	ReconcileQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_queries_total",
			Help: "Status queries issued by the pull-path reconciler",
		},
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(CallbacksTotal)
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(GatewayRequestsTotal)
	prometheus.MustRegister(ReconcileQueriesTotal)
	prometheus.MustRegister(WorkerQueueDepth)
}
