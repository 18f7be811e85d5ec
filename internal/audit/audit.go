// Package audit records routing decisions, fallbacks, health observations
// and optimization advisories for later review. Sinks are fire-and-forget
// from the dispatch path: a sink error is logged by the caller at most, it
// never fails an operation.
package audit

import (
	"github.com/relayguard/relayguard/internal/models"
)

// Sink receives audit events. Implementations must be safe for concurrent
// use and should not block the caller.
type Sink interface {
	LogRoutingDecision(d models.RoutingDecision) error
	LogFallback(e models.FallbackEvent) error
	LogHealthCheck(r models.RouteHealthRecord) error
	LogOptimization(s models.OptimizationSuggestion) error
}

// Nop discards every event. Used when auditing is disabled.
type Nop struct{}

func (Nop) LogRoutingDecision(models.RoutingDecision) error     { return nil }
func (Nop) LogFallback(models.FallbackEvent) error              { return nil }
func (Nop) LogHealthCheck(models.RouteHealthRecord) error       { return nil }
func (Nop) LogOptimization(models.OptimizationSuggestion) error { return nil }
