package models

import "time"

// ShutdownScope identifies what a shutdown event covers: the whole system or
// a single route.
type ShutdownScope string

const (
	ScopeAll           ShutdownScope = "all"
	ScopeRouteDirect   ShutdownScope = ShutdownScope(RouteDirect)
	ScopeRouteMediated ShutdownScope = ShutdownScope(RouteMediated)
)

// ScopeForRoute returns the shutdown scope covering a single route.
func ScopeForRoute(r Route) ShutdownScope {
	return ShutdownScope(r)
}

// Covers reports whether a scope disables the given route.
func (s ShutdownScope) Covers(r Route) bool {
	return s == ScopeAll || s == ShutdownScope(r)
}

// ShutdownReason explains why a shutdown was triggered.
type ShutdownReason string

const (
	ReasonPerformanceDegradation ShutdownReason = "performance_degradation"
	ReasonManualIntervention     ShutdownReason = "manual_intervention"
	ReasonSecurityIncident       ShutdownReason = "security_incident"
)

// TriggerKind distinguishes operator-initiated shutdowns from automatic ones.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerAutomatic TriggerKind = "automatic"
)

// ShutdownEvent describes one shutdown. It stays referenced by the
// controller's status until a matching recovery event clears it.
type ShutdownEvent struct {
	Scope      ShutdownScope  `json:"scope"`
	Reason     ShutdownReason `json:"reason"`
	Trigger    TriggerKind    `json:"trigger"`
	Timestamp  time.Time      `json:"timestamp"`
	StepsTaken []string       `json:"steps_taken"`
}
