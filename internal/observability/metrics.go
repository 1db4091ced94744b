package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	fallbackAttempts prometheus.Histogram
	fallbackTotal    *prometheus.CounterVec

	agentTurnTotal    *prometheus.CounterVec
	agentTurnDuration *prometheus.HistogramVec
	agentHops         prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	lockAssignTotal *prometheus.CounterVec

	historyAppendDuration prometheus.Histogram
	historyLoadDuration   prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_call_total",
					Help: "Total model provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Model provider call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			fallbackAttempts: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "fallback_attempts",
					Help:    "Number of adapters tried per fallback chain invocation.",
					Buckets: []float64{1, 2, 3, 4, 5},
				},
			),
			fallbackTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fallback_total",
					Help: "Total fallback chain invocations by outcome.",
				},
				[]string{"outcome"},
			),
			agentTurnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turn_total",
					Help: "Total agent turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentTurnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_turn_duration_seconds",
					Help:    "Agent turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentHops: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_turn_hops",
					Help:    "Model invocations per agent turn.",
					Buckets: []float64{1, 2, 3, 4, 5, 6},
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			lockAssignTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_lock_assign_total",
					Help: "Provider lock assignments by provider and reason.",
				},
				[]string{"provider", "reason"},
			),
			historyAppendDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_append_duration_seconds",
					Help:    "Chat history append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			historyLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "history_load_duration_seconds",
					Help:    "Chat history load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.providerCallTotal,
			m.providerCallDuration,
			m.fallbackAttempts,
			m.fallbackTotal,
			m.agentTurnTotal,
			m.agentTurnDuration,
			m.agentHops,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.lockAssignTotal,
			m.historyAppendDuration,
			m.historyLoadDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordProviderCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerCallTotal.WithLabelValues(provider, status).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordFallback(attempts int, success bool) {
	m := getMetrics()
	outcome := "exhausted"
	if success {
		outcome = "success"
	}
	m.fallbackAttempts.Observe(float64(attempts))
	m.fallbackTotal.WithLabelValues(outcome).Inc()
}

func RecordAgentTurn(provider string, duration time.Duration, hops int, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentTurnTotal.WithLabelValues(provider, status).Inc()
	m.agentTurnDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.agentHops.Observe(float64(hops))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordLockAssignment(provider string, reason string) {
	m := getMetrics()
	m.lockAssignTotal.WithLabelValues(provider, reason).Inc()
}

func RecordHistoryAppend(duration time.Duration) {
	m := getMetrics()
	m.historyAppendDuration.Observe(duration.Seconds())
}

func RecordHistoryLoad(duration time.Duration) {
	m := getMetrics()
	m.historyLoadDuration.Observe(duration.Seconds())
}
