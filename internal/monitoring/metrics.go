package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "immo"

var (
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Payment gateway calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Duration of payment gateway calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_poll_attempts_total",
		Help:      "Status checks issued by the poller, by observed status.",
	}, []string{"status"})

	MonitorSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "payment_monitor_sessions_active",
		Help:      "Payment monitoring sessions currently running.",
	})

	MonitorOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_monitor_outcomes_total",
		Help:      "Finished monitoring sessions by final state.",
	}, []string{"kind", "state"})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_settlements_total",
		Help:      "Persisted terminal payment outcomes.",
	}, []string{"kind", "status", "result"})
)
