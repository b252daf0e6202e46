package observability

import (
	"context"
	"errors"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "entitlements"

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	trialsExpiredTotal prometheus.Counter
	jobRunsTotal       *prometheus.CounterVec
	eventsTotal        *prometheus.CounterVec
	rpcRequestsTotal   *prometheus.CounterVec
	rpcDuration        *prometheus.HistogramVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide metrics instance, registering the
// collectors on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "limits",
				Name:      "decisions_total",
				Help:      "Entitlement decisions by check, outcome and reason",
			},
			[]string{"check", "allowed", "reason"},
		),
		trialsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "trials",
				Name:      "expired_total",
				Help:      "Trial subscriptions transitioned to expired",
			},
		),
		jobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "trials",
				Name:      "expiration_runs_total",
				Help:      "Trial expiration job runs by result",
			},
			[]string{"result"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "paywall_events_total",
				Help:      "Paywall events by name and delivery outcome",
			},
			[]string{"event", "outcome"},
		),
		rpcRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Connect RPC requests by procedure and code",
			},
			[]string{"procedure", "code"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Connect RPC latency by procedure",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"procedure"},
		),
	}

	reg.MustRegister(
		m.decisionsTotal,
		m.trialsExpiredTotal,
		m.jobRunsTotal,
		m.eventsTotal,
		m.rpcRequestsTotal,
		m.rpcDuration,
	)
	return m
}

// RecordDecision counts an entitlement decision.
func (m *Metrics) RecordDecision(check string, allowed bool, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	a := "false"
	if allowed {
		a = "true"
	}
	m.decisionsTotal.WithLabelValues(check, a, reason).Inc()
}

// RecordExpirationRun counts a job run and the trials it expired.
func (m *Metrics) RecordExpirationRun(success bool, expired int) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.jobRunsTotal.WithLabelValues(result).Inc()
	if expired > 0 {
		m.trialsExpiredTotal.Add(float64(expired))
	}
}

// RecordEvent counts a paywall event by delivery outcome (published,
// dropped, deduplicated, failed).
func (m *Metrics) RecordEvent(event, outcome string) {
	m.eventsTotal.WithLabelValues(event, outcome).Inc()
}

// NewMetricsInterceptor records request counts and latency for unary RPCs.
func NewMetricsInterceptor() connect.UnaryInterceptorFunc {
	m := GetMetrics()
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			procedure := req.Spec().Procedure
			m.rpcDuration.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
			m.rpcRequestsTotal.WithLabelValues(procedure, codeOf(err)).Inc()
			return resp, err
		}
	}
}

func codeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr.Code().String()
	}
	return connect.CodeUnknown.String()
}
