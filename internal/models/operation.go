package models

import (
	"fmt"
	"time"
)

// OperationType identifies the class of a support operation. The set is
// closed: rule lookup rejects unknown values instead of falling through to a
// default route.
type OperationType string

const (
	OperationEmergency      OperationType = "emergency"
	OperationInfrastructure OperationType = "infrastructure"
	OperationMetaMonitor    OperationType = "meta_monitor"
	OperationImplementation OperationType = "implementation"
	OperationStandard       OperationType = "standard"
)

// ValidOperationType reports whether v names a known operation type.
func ValidOperationType(v OperationType) bool {
	switch v {
	case OperationEmergency, OperationInfrastructure, OperationMetaMonitor,
		OperationImplementation, OperationStandard:
		return true
	}
	return false
}

// Priority orders operations for dispatch. Emergency outranks everything and
// additionally bypasses the router's health gate.
type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityCritical  Priority = "critical"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// Rank returns the numeric rank of a priority, higher is more urgent.
// Unknown priorities rank below low so that malformed input never jumps
// the queue.
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 5
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Route names a backend path.
type Route string

const (
	RouteDirect   Route = "direct"
	RouteMediated Route = "mediated"
	RouteNone     Route = "none"
)

// OperationRequest is an inbound support/analysis request. It is immutable
// once created: the router consumes it exactly once and never mutates it.
type OperationRequest struct {
	Operation     OperationType  `json:"operation"`
	Priority      Priority       `json:"priority"`
	Payload       string         `json:"payload"`
	Context       map[string]any `json:"context,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	LatencyBudget time.Duration  `json:"latency_budget,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	Streaming     bool           `json:"streaming,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// OperationResponse is the well-formed result returned for every request,
// success or failure. Callers never see a bare error from the dispatch layer.
type OperationResponse struct {
	Success     bool       `json:"success"`
	OperationID string     `json:"operation_id"`
	LatencyMs   int64      `json:"latency_ms"`
	Timestamp   time.Time  `json:"timestamp"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	Route       Route      `json:"route,omitempty"`
	Fallback    bool       `json:"fallback,omitempty"`
}

// ToolCall is an opaque tool invocation surfaced by a backend.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// RoutingRule maps an operation type to its primary and fallback paths.
// Operation type is the hard match key; Priority is advisory only.
type RoutingRule struct {
	Operation           OperationType `yaml:"operation" json:"operation"`
	Priority            Priority      `yaml:"priority" json:"priority"`
	LatencyRequirement  time.Duration `yaml:"latency_requirement" json:"latency_requirement"`
	PrimaryRoute        Route         `yaml:"primary_route" json:"primary_route"`
	FallbackRoute       Route         `yaml:"fallback_route" json:"fallback_route"`
	HealthCheckRequired bool          `yaml:"health_check_required" json:"health_check_required"`
}

// Validate checks a single rule for internal consistency.
func (r RoutingRule) Validate() error {
	if !ValidOperationType(r.Operation) {
		return fmt.Errorf("unknown operation type: %q", r.Operation)
	}
	switch r.PrimaryRoute {
	case RouteDirect, RouteMediated:
	default:
		return fmt.Errorf("rule %s: primary route must be direct or mediated, got %q", r.Operation, r.PrimaryRoute)
	}
	switch r.FallbackRoute {
	case RouteDirect, RouteMediated, RouteNone:
	default:
		return fmt.Errorf("rule %s: invalid fallback route %q", r.Operation, r.FallbackRoute)
	}
	if r.FallbackRoute == r.PrimaryRoute {
		return fmt.Errorf("rule %s: fallback route equals primary route", r.Operation)
	}
	return nil
}

// RouteHealthRecord is the last observed health of a route. Mutated only by
// the health-probe routine; read by the router and the reliability wrapper.
type RouteHealthRecord struct {
	Route               Route         `json:"route"`
	IsHealthy           bool          `json:"is_healthy"`
	Latency             time.Duration `json:"latency"`
	SuccessRate         float64       `json:"success_rate"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastCheckedAt       time.Time     `json:"last_checked_at"`
}

// RoutingDecision captures why a route was selected, recorded before
// execution for audit purposes.
type RoutingDecision struct {
	CorrelationID    string        `json:"correlation_id"`
	Operation        OperationType `json:"operation"`
	SelectedRoute    Route         `json:"selected_route"`
	Reason           string        `json:"reason"`
	FallbackAvail    bool          `json:"fallback_available"`
	EstimatedLatency time.Duration `json:"estimated_latency"`
}

// FallbackEvent records an actually-attempted fallback. It is never emitted
// for operations whose rule has no fallback configured.
type FallbackEvent struct {
	FailedRoute   Route         `json:"failed_route"`
	FallbackRoute Route         `json:"fallback_route"`
	Reason        string        `json:"reason"`
	Operation     OperationType `json:"operation"`
	OriginalError string        `json:"original_error"`
}

// RoutingEfficiency summarizes router traffic. A router that has seen no
// traffic reports a success rate of 1.0, not 0.
type RoutingEfficiency struct {
	TotalRequests  int64         `json:"total_requests"`
	AverageLatency time.Duration `json:"average_latency"`
	SuccessRate    float64       `json:"success_rate"`
}

// OptimizationSuggestion is an advisory produced by routing analysis. The
// router only reports suggestions, it never applies them.
type OptimizationSuggestion struct {
	Route   Route  `json:"route"`
	Message string `json:"message"`
}
