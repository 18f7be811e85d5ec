// Package router is the orchestration entry point of the dispatch layer.
// Given a request it selects the primary and fallback path from static rules
// plus live health and breaker state, executes, and records every decision.
package router

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/audit"
	"github.com/relayguard/relayguard/internal/breaker"
	"github.com/relayguard/relayguard/internal/config"
	rgerrors "github.com/relayguard/relayguard/internal/errors"
	"github.com/relayguard/relayguard/internal/flags"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
	"github.com/relayguard/relayguard/internal/shutdown"
)

// Deps are the router's collaborators. Direct, Mediated, Breakers, Health,
// Flags, Shutdown, Logger and Metrics are required; Validator and Audit may
// be nil.
type Deps struct {
	Direct    DirectClient
	Mediated  MediatedClient
	Breakers  *breaker.Registry
	Health    HealthSource
	Flags     flags.Source
	Shutdown  ShutdownGate
	Validator Validator
	Audit     audit.Sink
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// RoutingMetrics is the per-instance traffic accumulator. Counters reset on
// process restart only.
type RoutingMetrics struct {
	TotalRequests      int64         `json:"total_requests"`
	DirectRouteUsage   int64         `json:"direct_route_usage"`
	MediatedRouteUsage int64         `json:"mediated_route_usage"`
	FallbackUsage      int64         `json:"fallback_usage"`
	AverageLatency     time.Duration `json:"average_latency"`
	SuccessRate        float64       `json:"success_rate"`
	SuccessfulOps      int64         `json:"successful_operations"`
	FailedOperations   int64         `json:"failed_operations"`
}

// Router maps operation types to routes and executes requests through the
// direct client or the mediated path, with a single fallback attempt.
type Router struct {
	cfg  config.RouterConfig
	deps Deps

	ruleMu sync.RWMutex
	rules  map[models.OperationType]models.RoutingRule

	statMu        sync.Mutex
	totalRequests int64
	directUsage   int64
	mediatedUsage int64
	fallbackUsage int64
	failed        int64
	totalLatency  time.Duration
}

// New builds a router from the configured rule set. The rule set must be
// valid: unknown operation types or duplicate rules are rejected.
func New(cfg config.RouterConfig, deps Deps) (*Router, error) {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	r := &Router{
		cfg:   cfg,
		deps:  deps,
		rules: make(map[models.OperationType]models.RoutingRule),
	}
	if err := r.ReplaceRules(cfg.Rules); err != nil {
		return nil, err
	}
	return r, nil
}

// ReplaceRules swaps the whole rule set atomically. Partial updates are not
// supported; an invalid set leaves the current rules untouched.
func (r *Router) ReplaceRules(rules []models.RoutingRule) error {
	next := make(map[models.OperationType]models.RoutingRule, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return &rgerrors.ErrConfigValidation{Err: err}
		}
		if _, dup := next[rule.Operation]; dup {
			return &rgerrors.ErrConfigValidation{
				Err: fmt.Errorf("duplicate rule for operation %s", rule.Operation),
			}
		}
		next[rule.Operation] = rule
	}

	r.ruleMu.Lock()
	r.rules = next
	r.ruleMu.Unlock()

	r.deps.Logger.Info("routing rules replaced", zap.Int("count", len(next)))
	return nil
}

// Rules returns a copy of the active rule set.
func (r *Router) Rules() []models.RoutingRule {
	r.ruleMu.RLock()
	defer r.ruleMu.RUnlock()
	out := make([]models.RoutingRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out
}

func (r *Router) lookupRule(op models.OperationType) (models.RoutingRule, bool) {
	r.ruleMu.RLock()
	defer r.ruleMu.RUnlock()
	rule, ok := r.rules[op]
	return rule, ok
}

// newCorrelationID mints a fresh id for one attempt. Retries and fallbacks
// get their own id; the request's logical identity lives in the payload.
func newCorrelationID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("router-%d-%s", time.Now().UnixMilli(), suffix)
}

// ExecuteSupportOperation routes and executes one request. The response is
// always well-formed: failures carry Success=false and an error string, the
// caller never sees a bare error.
func (r *Router) ExecuteSupportOperation(ctx context.Context, req *models.OperationRequest) *models.OperationResponse {
	start := time.Now()

	if !models.ValidOperationType(req.Operation) {
		return r.finish(start, req.Operation, models.RouteNone, false, r.failure(start, models.RouteNone, &rgerrors.ErrInvalidOperation{Value: string(req.Operation)}))
	}

	rule, ok := r.lookupRule(req.Operation)
	if !ok {
		return r.finish(start, req.Operation, models.RouteNone, false, r.failure(start, models.RouteNone, &rgerrors.ErrNoRoutingRule{Operation: string(req.Operation)}))
	}

	if r.deps.Validator != nil {
		if err := r.deps.Validator.Validate(ctx, req); err != nil {
			// Compliance denials are terminal on every route.
			return r.finish(start, req.Operation, models.RouteNone, false, r.failure(start, models.RouteNone, err))
		}
	}

	emergency := req.Priority == models.PriorityEmergency

	selected := rule.PrimaryRoute
	fallback := rule.FallbackRoute
	reason := "rule_match"

	if emergency {
		reason = "emergency_bypass"
	} else if rule.HealthCheckRequired {
		rec, err := r.deps.Health.Get(ctx, rule.PrimaryRoute)
		if err != nil || !rec.IsHealthy {
			if fallback != models.RouteNone {
				// Primary is known unhealthy: route straight to the
				// fallback. No second fallback exists past this point.
				selected = fallback
				fallback = models.RouteNone
				reason = "primary_unhealthy"
			} else {
				reason = "primary_unhealthy_forced"
			}
		}
	}

	corrID := newCorrelationID()
	r.recordDecision(models.RoutingDecision{
		CorrelationID:    corrID,
		Operation:        req.Operation,
		SelectedRoute:    selected,
		Reason:           reason,
		FallbackAvail:    fallback != models.RouteNone,
		EstimatedLatency: rule.LatencyRequirement,
	})

	resp, err := r.attempt(ctx, selected, req, corrID, emergency)
	if err == nil {
		return r.finish(start, req.Operation, selected, false, resp)
	}

	if fallback == models.RouteNone || isTerminal(err) {
		return r.finish(start, req.Operation, selected, false, r.failure(start, selected, err))
	}

	fbCorrID := newCorrelationID()
	fbReason := failureReason(err)
	r.recordFallbackEvent(models.FallbackEvent{
		FailedRoute:   selected,
		FallbackRoute: fallback,
		Reason:        fbReason,
		Operation:     req.Operation,
		OriginalError: err.Error(),
	})
	r.deps.Logger.Warn("primary route failed, attempting fallback",
		zap.String("correlation_id", fbCorrID),
		zap.String("operation", string(req.Operation)),
		zap.String("failed_route", string(selected)),
		zap.String("fallback_route", string(fallback)),
		zap.Error(err))

	fbResp, fbErr := r.attemptFallback(ctx, fallback, req, fbCorrID, fbReason)
	if fbErr != nil {
		return r.finish(start, req.Operation, fallback, true, r.failure(start, fallback, fbErr))
	}
	return r.finish(start, req.Operation, fallback, true, fbResp)
}

// attempt executes one request on one route, passing the route's gates.
// Emergency attempts bypass the circuit breaker, nothing else does.
func (r *Router) attempt(ctx context.Context, route models.Route, req *models.OperationRequest, corrID string, emergency bool) (*models.OperationResponse, error) {
	if err := r.routeAvailable(route); err != nil {
		return nil, err
	}

	attemptReq := *req
	attemptReq.CorrelationID = corrID

	if emergency {
		return r.executeOn(ctx, route, &attemptReq, "")
	}

	var resp *models.OperationResponse
	err := r.deps.Breakers.Execute(ctx, string(route), func() error {
		var execErr error
		resp, execErr = r.executeOn(ctx, route, &attemptReq, "")
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attemptFallback is like attempt but carries the failure reason through to
// the mediated path so its reliability accounting can attribute the call.
func (r *Router) attemptFallback(ctx context.Context, route models.Route, req *models.OperationRequest, corrID, reason string) (*models.OperationResponse, error) {
	if err := r.routeAvailable(route); err != nil {
		return nil, err
	}

	attemptReq := *req
	attemptReq.CorrelationID = corrID

	var resp *models.OperationResponse
	err := r.deps.Breakers.Execute(ctx, string(route), func() error {
		var execErr error
		resp, execErr = r.executeOn(ctx, route, &attemptReq, reason)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// routeAvailable checks the feature flag and the shutdown gate for a route.
func (r *Router) routeAvailable(route models.Route) error {
	flag := flags.FlagDirectRoute
	if route == models.RouteMediated {
		flag = flags.FlagMediatedRoute
	}
	if !r.deps.Flags.IsEnabled(flag) {
		return &rgerrors.ErrRouteDisabled{Route: string(route), Reason: "feature flag disabled"}
	}
	if r.deps.Shutdown.IsRouteDisabled(route) {
		return &rgerrors.ErrRouteDisabled{Route: string(route), Reason: "emergency shutdown active"}
	}
	return nil
}

// executeOn performs the actual backend call for a route. A response with
// Success=false is converted to an error so the breaker and the fallback
// logic see it as a failure.
func (r *Router) executeOn(ctx context.Context, route models.Route, req *models.OperationRequest, fallbackReason string) (*models.OperationResponse, error) {
	cctx, cancel := r.boundContext(ctx, req)
	defer cancel()

	switch route {
	case models.RouteDirect:
		resp, err := r.deps.Direct.Execute(cctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, fmt.Errorf("direct client returned no response")
		}
		if !resp.Success {
			return nil, fmt.Errorf("direct route failed: %s", resp.Error)
		}
		resp.Route = models.RouteDirect
		return resp, nil
	case models.RouteMediated:
		resp := r.deps.Mediated.ExecuteFallbackOperation(cctx, req, fallbackReason)
		if !resp.Success {
			return nil, fmt.Errorf("mediated route failed: %s", resp.Error)
		}
		resp.Route = models.RouteMediated
		resp.Fallback = fallbackReason != ""
		return resp, nil
	}
	return nil, fmt.Errorf("unknown route %q", route)
}

// boundContext applies the request's timeout or latency budget, falling back
// to the configured default so every backend call is bounded.
func (r *Router) boundContext(ctx context.Context, req *models.OperationRequest) (context.Context, context.CancelFunc) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = req.LatencyBudget
	}
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// isTerminal reports whether an error must never trigger a fallback attempt.
func isTerminal(err error) bool {
	var denied *rgerrors.ErrComplianceDenied
	return stderrors.As(err, &denied)
}

// failureReason classifies an error for fallback-event reporting.
func failureReason(err error) string {
	var open *breaker.OpenError
	if stderrors.As(err, &open) {
		return "circuit_open"
	}
	var disabled *rgerrors.ErrRouteDisabled
	if stderrors.As(err, &disabled) {
		return "route_disabled"
	}
	var timeout *rgerrors.ErrTimeout
	if stderrors.As(err, &timeout) {
		return "timeout"
	}
	var conn *rgerrors.ErrConnection
	if stderrors.As(err, &conn) {
		return "connection_error"
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "execution_error"
}

// failure builds the well-formed error response.
func (r *Router) failure(start time.Time, route models.Route, err error) *models.OperationResponse {
	r.deps.Metrics.RecordError(failureReason(err), "router")
	return &models.OperationResponse{
		Success:     false,
		OperationID: uuid.NewString(),
		LatencyMs:   time.Since(start).Milliseconds(),
		Timestamp:   time.Now(),
		Error:       err.Error(),
		Route:       route,
	}
}

// finish records per-operation accounting and feeds the shutdown controller
// a fresh traffic sample.
func (r *Router) finish(start time.Time, op models.OperationType, route models.Route, viaFallback bool, resp *models.OperationResponse) *models.OperationResponse {
	latency := time.Since(start)
	if resp.LatencyMs == 0 {
		resp.LatencyMs = latency.Milliseconds()
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}
	if resp.OperationID == "" {
		resp.OperationID = uuid.NewString()
	}
	if viaFallback {
		resp.Fallback = true
	}

	r.statMu.Lock()
	r.totalRequests++
	r.totalLatency += latency
	switch route {
	case models.RouteDirect:
		r.directUsage++
	case models.RouteMediated:
		r.mediatedUsage++
	}
	if viaFallback {
		r.fallbackUsage++
	}
	if !resp.Success {
		r.failed++
	}
	sample := shutdown.MetricsSample{
		TotalOperations:  r.totalRequests,
		FailedOperations: r.failed,
		AverageLatency:   r.totalLatency / time.Duration(r.totalRequests),
	}
	r.statMu.Unlock()

	status := "success"
	if !resp.Success {
		status = "failure"
	}
	r.deps.Metrics.RecordOperationLatency(string(op), string(route), status, latency.Seconds())
	r.deps.Shutdown.UpdateMetrics(sample)
	return resp
}

// recordDecision delivers the pre-execution decision to metrics and the
// audit sink. Sink failures never reach the caller.
func (r *Router) recordDecision(d models.RoutingDecision) {
	r.deps.Metrics.RecordRoutingDecision(string(d.Operation), string(d.SelectedRoute), d.Reason)
	r.auditSafe(func() error { return r.deps.Audit.LogRoutingDecision(d) }, "routing decision")
}

func (r *Router) recordFallbackEvent(e models.FallbackEvent) {
	r.deps.Metrics.RecordFallback(string(e.Operation), e.Reason)
	r.auditSafe(func() error { return r.deps.Audit.LogFallback(e) }, "fallback event")
}

func (r *Router) auditSafe(fn func() error, kind string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.deps.Logger.Warn("audit sink panicked", zap.String("kind", kind), zap.Any("panic", rec))
		}
	}()
	if err := fn(); err != nil {
		r.deps.Logger.Warn("audit sink rejected event", zap.String("kind", kind), zap.Error(err))
	}
}

// GetRoutingEfficiency summarizes traffic so far. A router that has seen no
// traffic reports a success rate of 1.0: no evidence of failure.
func (r *Router) GetRoutingEfficiency() models.RoutingEfficiency {
	r.statMu.Lock()
	defer r.statMu.Unlock()
	if r.totalRequests == 0 {
		return models.RoutingEfficiency{TotalRequests: 0, AverageLatency: 0, SuccessRate: 1.0}
	}
	return models.RoutingEfficiency{
		TotalRequests:  r.totalRequests,
		AverageLatency: r.totalLatency / time.Duration(r.totalRequests),
		SuccessRate:    float64(r.totalRequests-r.failed) / float64(r.totalRequests),
	}
}

// Metrics returns the full traffic accumulator.
func (r *Router) Metrics() RoutingMetrics {
	r.statMu.Lock()
	defer r.statMu.Unlock()
	m := RoutingMetrics{
		TotalRequests:      r.totalRequests,
		DirectRouteUsage:   r.directUsage,
		MediatedRouteUsage: r.mediatedUsage,
		FallbackUsage:      r.fallbackUsage,
		SuccessfulOps:      r.totalRequests - r.failed,
		FailedOperations:   r.failed,
		SuccessRate:        1.0,
	}
	if r.totalRequests > 0 {
		m.AverageLatency = r.totalLatency / time.Duration(r.totalRequests)
		m.SuccessRate = float64(r.totalRequests-r.failed) / float64(r.totalRequests)
	}
	return m
}

// optimizeMinSample is the smallest traffic volume worth analyzing.
const optimizeMinSample = 20

// OptimizeRouting inspects the traffic accumulator and returns advisory
// recommendations. It never changes routing state.
func (r *Router) OptimizeRouting() []models.OptimizationSuggestion {
	m := r.Metrics()
	if m.TotalRequests < optimizeMinSample {
		return nil
	}

	var out []models.OptimizationSuggestion
	if float64(m.MediatedRouteUsage) < 0.10*float64(m.TotalRequests) {
		out = append(out, models.OptimizationSuggestion{
			Route:   models.RouteMediated,
			Message: "mediated route underused despite lower cost",
		})
	}
	if float64(m.FallbackUsage) > 0.20*float64(m.TotalRequests) {
		out = append(out, models.OptimizationSuggestion{
			Route:   models.RouteDirect,
			Message: "high fallback rate indicates an unstable primary route",
		})
	}
	if m.SuccessRate < 0.95 {
		out = append(out, models.OptimizationSuggestion{
			Route:   models.RouteNone,
			Message: fmt.Sprintf("overall success rate %.3f below 0.95, review route health and breaker thresholds", m.SuccessRate),
		})
	}

	for _, s := range out {
		s := s
		r.auditSafe(func() error { return r.deps.Audit.LogOptimization(s) }, "optimization")
	}
	return out
}

// CheckRouteHealth returns the cached health record for a route, probing
// synchronously when the cache entry has expired.
func (r *Router) CheckRouteHealth(ctx context.Context, route models.Route) (models.RouteHealthRecord, error) {
	rec, err := r.deps.Health.Get(ctx, route)
	r.deps.Metrics.SetRouteHealth(string(route), rec.IsHealthy)
	r.auditSafe(func() error { return r.deps.Audit.LogHealthCheck(rec) }, "health check")
	return rec, err
}
