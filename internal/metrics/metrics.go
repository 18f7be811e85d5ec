package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// OperationLatency tracks support operation latency by operation and route
	OperationLatency *prometheus.HistogramVec
	// RoutingDecisions counts routing decisions by operation, route and outcome
	RoutingDecisions *prometheus.CounterVec
	// FallbacksTotal counts fallback activations by operation and reason
	FallbacksTotal *prometheus.CounterVec
	// BreakerState tracks circuit breaker state per provider (0=closed, 1=half-open, 2=open)
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts breaker state transitions per provider
	BreakerTransitions *prometheus.CounterVec
	// RouteHealth tracks route health (1=healthy, 0=unhealthy)
	RouteHealth *prometheus.GaugeVec
	// GatewayQueueDepth tracks the gateway priority queue depth
	GatewayQueueDepth prometheus.Gauge
	// GatewayPending tracks in-flight gateway messages awaiting a response
	GatewayPending prometheus.Gauge
	// GatewayReconnects counts gateway reconnect attempts by result
	GatewayReconnects *prometheus.CounterVec
	// RetryAttempts counts retry attempts by component
	RetryAttempts *prometheus.CounterVec
	// SuccessRate tracks the rolling wrapped-operation success rate
	SuccessRate prometheus.Gauge
	// ShutdownsTotal counts emergency shutdowns by scope and trigger
	ShutdownsTotal *prometheus.CounterVec
	// ErrorCounter counts errors by type and component
	ErrorCounter *prometheus.CounterVec
	// HTTPRequestsTotal total admin API requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current admin API requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// RequestLatency tracks admin API request latency
	RequestLatency *prometheus.HistogramVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OperationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_latency_seconds",
				Help:      "Support operation latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation", "route", "status"},
		),
		RoutingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_decisions_total",
				Help:      "Total number of routing decisions",
			},
			[]string{"operation", "route", "outcome"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of fallback activations",
			},
			[]string{"operation", "reason"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"provider", "to"},
		),
		RouteHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "route_health_status",
				Help:      "Route health (1=healthy, 0=unhealthy)",
			},
			[]string{"route"},
		),
		GatewayQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gateway_queue_depth",
				Help:      "Current gateway priority queue depth",
			},
		),
		GatewayPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gateway_pending_messages",
				Help:      "Gateway messages awaiting a correlated response",
			},
		),
		GatewayReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_reconnects_total",
				Help:      "Total number of gateway reconnect attempts",
			},
			[]string{"result"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"component"},
		),
		SuccessRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "wrapped_success_rate",
				Help:      "Rolling success rate of wrapped operations",
			},
		),
		ShutdownsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emergency_shutdowns_total",
				Help:      "Total number of emergency shutdowns",
			},
			[]string{"scope", "trigger"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type", "component"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status", "surface"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "method", "status"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.OperationLatency,
		m.RoutingDecisions,
		m.FallbacksTotal,
		m.BreakerState,
		m.BreakerTransitions,
		m.RouteHealth,
		m.GatewayQueueDepth,
		m.GatewayPending,
		m.GatewayReconnects,
		m.RetryAttempts,
		m.SuccessRate,
		m.ShutdownsTotal,
		m.ErrorCounter,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.RequestLatency,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperationLatency records the latency of a support operation
func (m *Metrics) RecordOperationLatency(operation, route, status string, durationSeconds float64) {
	m.OperationLatency.WithLabelValues(operation, route, status).Observe(durationSeconds)
}

// RecordRoutingDecision records a routing decision
func (m *Metrics) RecordRoutingDecision(operation, route, outcome string) {
	m.RoutingDecisions.WithLabelValues(operation, route, outcome).Inc()
}

// RecordFallback records a fallback activation
func (m *Metrics) RecordFallback(operation, reason string) {
	m.FallbacksTotal.WithLabelValues(operation, reason).Inc()
}

// SetBreakerState sets the circuit breaker state gauge for a provider
func (m *Metrics) SetBreakerState(provider string, state int) {
	m.BreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordBreakerTransition records a circuit breaker state transition
func (m *Metrics) RecordBreakerTransition(provider, to string) {
	m.BreakerTransitions.WithLabelValues(provider, to).Inc()
}

// SetRouteHealth sets the health status for a route
func (m *Metrics) SetRouteHealth(route string, healthy bool) {
	value := 1.0
	if !healthy {
		value = 0.0
	}
	m.RouteHealth.WithLabelValues(route).Set(value)
}

// SetGatewayQueueDepth sets the gateway queue depth gauge
func (m *Metrics) SetGatewayQueueDepth(depth int) {
	m.GatewayQueueDepth.Set(float64(depth))
}

// SetGatewayPending sets the gateway pending messages gauge
func (m *Metrics) SetGatewayPending(count int) {
	m.GatewayPending.Set(float64(count))
}

// RecordGatewayReconnect records a gateway reconnect attempt
func (m *Metrics) RecordGatewayReconnect(result string) {
	m.GatewayReconnects.WithLabelValues(result).Inc()
}

// RecordRetryAttempt records a retry attempt
func (m *Metrics) RecordRetryAttempt(component string) {
	m.RetryAttempts.WithLabelValues(component).Inc()
}

// SetSuccessRate sets the rolling success rate gauge
func (m *Metrics) SetSuccessRate(rate float64) {
	m.SuccessRate.Set(rate)
}

// RecordShutdown records an emergency shutdown
func (m *Metrics) RecordShutdown(scope, trigger string) {
	m.ShutdownsTotal.WithLabelValues(scope, trigger).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorCounter.WithLabelValues(errorType, component).Inc()
}

// RecordHTTPRequest records an HTTP request. surface separates the dispatch
// hot path from control-plane and public traffic.
func (m *Metrics) RecordHTTPRequest(endpoint, method, status, surface string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status, surface).Inc()
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}
