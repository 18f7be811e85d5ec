package router

import (
	"context"

	"github.com/relayguard/relayguard/internal/models"
	"github.com/relayguard/relayguard/internal/shutdown"
)

// DirectClient is the primary backend path: a single timeout-bounded call.
// Provider auth, region and transport details live behind this interface.
type DirectClient interface {
	Execute(ctx context.Context, req *models.OperationRequest) (*models.OperationResponse, error)
	HealthCheck(ctx context.Context) (models.RouteHealthRecord, error)
}

// MediatedClient executes an operation over the gateway path. The reliability
// wrapper satisfies this; it never returns a bare error.
type MediatedClient interface {
	ExecuteFallbackOperation(ctx context.Context, req *models.OperationRequest, reason string) *models.OperationResponse
}

// HealthSource serves route health records, refreshing expired entries with a
// synchronous probe.
type HealthSource interface {
	Get(ctx context.Context, route models.Route) (models.RouteHealthRecord, error)
}

// ShutdownGate lets the emergency shutdown controller revoke routes and
// observe live traffic metrics.
type ShutdownGate interface {
	IsRouteDisabled(route models.Route) bool
	UpdateMetrics(sample shutdown.MetricsSample)
}

// Validator is a pre-flight compliance check. A denial is surfaced to the
// caller immediately and never retried on any route.
type Validator interface {
	Validate(ctx context.Context, req *models.OperationRequest) error
}
