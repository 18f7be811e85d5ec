package errors

import (
	"fmt"
	"time"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Routing errors

// ErrNoRoutingRule is returned when no rule exists for an operation type.
// Not retryable: the request fails immediately.
type ErrNoRoutingRule struct {
	Operation string
}

func (e *ErrNoRoutingRule) Error() string {
	return fmt.Sprintf("no routing rule for operation type %q", e.Operation)
}

// ErrInvalidOperation is returned for operation type values outside the
// closed enum. Distinct from ErrNoRoutingRule so callers can tell a typo
// from a missing rule.
type ErrInvalidOperation struct {
	Value string
}

func (e *ErrInvalidOperation) Error() string {
	return fmt.Sprintf("invalid operation type %q", e.Value)
}

// ErrRouteDisabled is returned when the emergency shutdown controller has
// revoked access to a route.
type ErrRouteDisabled struct {
	Route  string
	Reason string
}

func (e *ErrRouteDisabled) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("route %s disabled: %s", e.Route, e.Reason)
	}
	return fmt.Sprintf("route %s disabled", e.Route)
}

// ErrComplianceDenied is returned by a pre-flight validator. Never retried,
// always surfaced.
type ErrComplianceDenied struct {
	Rule   string
	Detail string
}

func (e *ErrComplianceDenied) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("compliance check %s denied request: %s", e.Rule, e.Detail)
	}
	return fmt.Sprintf("compliance check %s denied request", e.Rule)
}

// Gateway errors

// ErrQueueFull signals backpressure: the outbound queue is at capacity and
// the send was rejected rather than buffered unbounded.
type ErrQueueFull struct {
	Size int
	Max  int
}

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("outbound queue full (%d/%d)", e.Size, e.Max)
}

// ErrTimeout is returned when a message or health check exceeds its budget.
type ErrTimeout struct {
	CorrelationID string
	Elapsed       time.Duration
}

func (e *ErrTimeout) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("operation %s timed out after %s", e.CorrelationID, e.Elapsed)
	}
	return fmt.Sprintf("operation timed out after %s", e.Elapsed)
}

// ErrConnection is a transport-level failure. It triggers reconnection and
// message replay; callers only see it once retries are exhausted.
type ErrConnection struct {
	Endpoint string
	Err      error
}

func (e *ErrConnection) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ErrConnection) Unwrap() error {
	return e.Err
}

// ErrDestroyed is surfaced to every pending caller when a component is torn
// down.
type ErrDestroyed struct {
	Component string
}

func (e *ErrDestroyed) Error() string {
	return fmt.Sprintf("%s destroyed", e.Component)
}

// ErrRetriesExhausted wraps the last error after a bounded retry loop gives
// up.
type ErrRetriesExhausted struct {
	Attempts int
	Last     error
}

func (e *ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrRetriesExhausted) Unwrap() error {
	return e.Last
}

// Audit store errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}
