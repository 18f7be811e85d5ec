package router

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relayguard/relayguard/internal/breaker"
	"github.com/relayguard/relayguard/internal/config"
	rgerrors "github.com/relayguard/relayguard/internal/errors"
	"github.com/relayguard/relayguard/internal/flags"
	"github.com/relayguard/relayguard/internal/logging"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
	"github.com/relayguard/relayguard/internal/shutdown"
)

type fakeDirect struct {
	mu    sync.Mutex
	calls int
	fail  bool
	err   error
}

func (f *fakeDirect) Execute(ctx context.Context, req *models.OperationRequest) (*models.OperationResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.fail {
		return &models.OperationResponse{Success: false, Error: "provider unavailable"}, nil
	}
	return &models.OperationResponse{Success: true, Result: "direct ok"}, nil
}

func (f *fakeDirect) HealthCheck(ctx context.Context) (models.RouteHealthRecord, error) {
	return models.RouteHealthRecord{Route: models.RouteDirect, IsHealthy: !f.fail}, nil
}

func (f *fakeDirect) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMediated struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	reasons []string
}

func (f *fakeMediated) ExecuteFallbackOperation(ctx context.Context, req *models.OperationRequest, reason string) *models.OperationResponse {
	f.mu.Lock()
	f.calls++
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	if f.fail {
		return &models.OperationResponse{Success: false, Error: "gateway unavailable"}
	}
	return &models.OperationResponse{Success: true, Result: "mediated ok"}
}

func (f *fakeMediated) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHealth struct {
	mu      sync.Mutex
	records map[models.Route]models.RouteHealthRecord
	calls   int
}

func (f *fakeHealth) Get(ctx context.Context, route models.Route) (models.RouteHealthRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if rec, ok := f.records[route]; ok {
		return rec, nil
	}
	return models.RouteHealthRecord{Route: route, IsHealthy: true}, nil
}

type fakeGate struct {
	mu       sync.Mutex
	disabled map[models.Route]bool
	samples  []shutdown.MetricsSample
}

func (f *fakeGate) IsRouteDisabled(route models.Route) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled[route]
}

func (f *fakeGate) UpdateMetrics(sample shutdown.MetricsSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
}

type recordingAudit struct {
	mu        sync.Mutex
	decisions []models.RoutingDecision
	fallbacks []models.FallbackEvent
	health    []models.RouteHealthRecord
	optims    []models.OptimizationSuggestion
}

func (a *recordingAudit) LogRoutingDecision(d models.RoutingDecision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions = append(a.decisions, d)
	return nil
}

func (a *recordingAudit) LogFallback(e models.FallbackEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallbacks = append(a.fallbacks, e)
	return nil
}

func (a *recordingAudit) LogHealthCheck(r models.RouteHealthRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.health = append(a.health, r)
	return nil
}

func (a *recordingAudit) LogOptimization(s models.OptimizationSuggestion) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.optims = append(a.optims, s)
	return nil
}

type denyValidator struct{ deny bool }

func (v *denyValidator) Validate(ctx context.Context, req *models.OperationRequest) error {
	if v.deny {
		return &rgerrors.ErrComplianceDenied{Rule: "pii", Detail: "payload contains restricted data"}
	}
	return nil
}

type testEnv struct {
	router   *Router
	direct   *fakeDirect
	mediated *fakeMediated
	health   *fakeHealth
	gate     *fakeGate
	audit    *recordingAudit
	breakers *breaker.Registry
	flags    *flags.StaticSource
}

func defaultRules() []models.RoutingRule {
	return []models.RoutingRule{
		{
			Operation:           models.OperationEmergency,
			Priority:            models.PriorityEmergency,
			PrimaryRoute:        models.RouteDirect,
			FallbackRoute:       models.RouteNone,
			HealthCheckRequired: false,
		},
		{
			Operation:           models.OperationInfrastructure,
			Priority:            models.PriorityCritical,
			PrimaryRoute:        models.RouteDirect,
			FallbackRoute:       models.RouteMediated,
			HealthCheckRequired: true,
		},
		{
			Operation:           models.OperationStandard,
			Priority:            models.PriorityMedium,
			PrimaryRoute:        models.RouteMediated,
			FallbackRoute:       models.RouteDirect,
			HealthCheckRequired: false,
		},
	}
}

func newTestEnv(t *testing.T, rules []models.RoutingRule) *testEnv {
	t.Helper()
	env := &testEnv{
		direct:   &fakeDirect{},
		mediated: &fakeMediated{},
		health:   &fakeHealth{records: make(map[models.Route]models.RouteHealthRecord)},
		gate:     &fakeGate{disabled: make(map[models.Route]bool)},
		audit:    &recordingAudit{},
		breakers: breaker.NewRegistry(3, 30*time.Second, 2),
		flags:    flags.NewStaticSource(nil),
	}

	r, err := New(config.RouterConfig{Rules: rules, DefaultTimeout: 5 * time.Second}, Deps{
		Direct:   env.direct,
		Mediated: env.mediated,
		Breakers: env.breakers,
		Health:   env.health,
		Flags:    env.flags,
		Shutdown: env.gate,
		Audit:    env.audit,
		Logger:   logging.NewNop(),
		Metrics:  metrics.NewMetrics("routertest"),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	env.router = r
	return env
}

func stdRequest(op models.OperationType, prio models.Priority) *models.OperationRequest {
	return &models.OperationRequest{Operation: op, Priority: prio, Payload: "check subsystem"}
}

func TestPrimaryRouteSuccess(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if !resp.Success {
		t.Fatalf("Expected success, got error: %s", resp.Error)
	}
	if resp.Route != models.RouteDirect {
		t.Errorf("Expected direct route, got %s", resp.Route)
	}
	if resp.Fallback {
		t.Error("Primary success should not be marked as fallback")
	}
	if env.mediated.callCount() != 0 {
		t.Error("Mediated path should not have been called")
	}
	if resp.OperationID == "" {
		t.Error("Response should carry an operation id")
	}
}

func TestNoRoutingRule(t *testing.T) {
	env := newTestEnv(t, defaultRules()[:1])

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationStandard, models.PriorityMedium))
	if resp.Success {
		t.Fatal("Expected failure for unconfigured operation type")
	}
	if !strings.Contains(resp.Error, "no routing rule") {
		t.Errorf("Expected no-routing-rule error, got %q", resp.Error)
	}
	if env.direct.callCount() != 0 || env.mediated.callCount() != 0 {
		t.Error("No backend should be called without a rule")
	}
}

func TestInvalidOperationTypeIsDistinct(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest("turbo_mode", models.PriorityMedium))
	if resp.Success {
		t.Fatal("Expected failure for unknown operation type")
	}
	if !strings.Contains(resp.Error, "invalid operation type") {
		t.Errorf("Expected invalid-operation error, got %q", resp.Error)
	}
}

func TestPriorityMismatchStillMatchesRule(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	// Rule says critical; request says low. Operation type is the hard key.
	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityLow))
	if !resp.Success {
		t.Fatalf("Expected success despite priority mismatch, got: %s", resp.Error)
	}
	if resp.Route != models.RouteDirect {
		t.Errorf("Expected rule's primary route, got %s", resp.Route)
	}
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	// Scenario: infrastructure rule with direct primary and mediated
	// fallback; direct path fails.
	env := newTestEnv(t, defaultRules())
	env.direct.fail = true

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if !resp.Success {
		t.Fatalf("Expected fallback success, got: %s", resp.Error)
	}
	if resp.Route != models.RouteMediated {
		t.Errorf("Expected mediated route, got %s", resp.Route)
	}
	if !resp.Fallback {
		t.Error("Response should be marked as fallback")
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if len(env.audit.fallbacks) != 1 {
		t.Fatalf("Expected 1 fallback event, got %d", len(env.audit.fallbacks))
	}
	ev := env.audit.fallbacks[0]
	if ev.FailedRoute != models.RouteDirect {
		t.Errorf("Expected failedRoute=direct, got %s", ev.FailedRoute)
	}
	if ev.FallbackRoute != models.RouteMediated {
		t.Errorf("Expected fallbackRoute=mediated, got %s", ev.FallbackRoute)
	}
	if ev.OriginalError == "" {
		t.Error("Fallback event should carry the original error")
	}
}

func TestEmergencyNoFallbackSurfacesFailure(t *testing.T) {
	// Scenario: emergency operation with no fallback; direct path fails.
	env := newTestEnv(t, defaultRules())
	env.direct.err = errors.New("provider exploded")

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationEmergency, models.PriorityEmergency))
	if resp.Success {
		t.Fatal("Expected failure to surface")
	}
	if env.mediated.callCount() != 0 {
		t.Error("No mediated attempt should be made without a configured fallback")
	}
	if env.direct.callCount() != 1 {
		t.Errorf("Expected exactly 1 direct attempt, got %d", env.direct.callCount())
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if len(env.audit.fallbacks) != 0 {
		t.Errorf("No fallback event should be emitted, got %d", len(env.audit.fallbacks))
	}
}

func TestForcedOpenBreakerFailsFastThenFallback(t *testing.T) {
	// Scenario: breaker forced open for "direct"; primary fails without a
	// network call, fallback executes.
	env := newTestEnv(t, defaultRules())
	env.breakers.ForceOpen("direct")

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if !resp.Success {
		t.Fatalf("Expected fallback success, got: %s", resp.Error)
	}
	if resp.Route != models.RouteMediated {
		t.Errorf("Expected mediated route, got %s", resp.Route)
	}
	if env.direct.callCount() != 0 {
		t.Errorf("Open breaker must not invoke the direct client, got %d calls", env.direct.callCount())
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if len(env.audit.fallbacks) != 1 {
		t.Fatalf("Expected 1 fallback event, got %d", len(env.audit.fallbacks))
	}
	if env.audit.fallbacks[0].Reason != "circuit_open" {
		t.Errorf("Expected circuit_open reason, got %s", env.audit.fallbacks[0].Reason)
	}
}

func TestEmergencyBypassesBreakerAndHealth(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.breakers.ForceOpen("direct")
	env.health.records[models.RouteDirect] = models.RouteHealthRecord{Route: models.RouteDirect, IsHealthy: false}

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationEmergency, models.PriorityEmergency))
	if !resp.Success {
		t.Fatalf("Emergency should be force-attempted, got: %s", resp.Error)
	}
	if env.direct.callCount() != 1 {
		t.Errorf("Expected exactly 1 direct attempt, got %d", env.direct.callCount())
	}
}

func TestUnhealthyPrimaryPreselectsFallback(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.health.records[models.RouteDirect] = models.RouteHealthRecord{Route: models.RouteDirect, IsHealthy: false}

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if !resp.Success {
		t.Fatalf("Expected mediated success, got: %s", resp.Error)
	}
	if resp.Route != models.RouteMediated {
		t.Errorf("Expected mediated route, got %s", resp.Route)
	}
	if env.direct.callCount() != 0 {
		t.Error("Unhealthy primary should not be attempted when a fallback exists")
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if len(env.audit.decisions) != 1 {
		t.Fatalf("Expected 1 routing decision, got %d", len(env.audit.decisions))
	}
	d := env.audit.decisions[0]
	if d.Reason != "primary_unhealthy" {
		t.Errorf("Expected primary_unhealthy reason, got %s", d.Reason)
	}
	if d.FallbackAvail {
		t.Error("No further fallback exists after health preselection")
	}
}

func TestHealthGateSkippedWhenNotRequired(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationStandard, models.PriorityMedium))

	env.health.mu.Lock()
	defer env.health.mu.Unlock()
	if env.health.calls != 0 {
		t.Errorf("Health gate should not probe when not required, got %d calls", env.health.calls)
	}
}

func TestComplianceDenialNeverFallsBack(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.router.deps.Validator = &denyValidator{deny: true}

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if resp.Success {
		t.Fatal("Expected compliance denial")
	}
	if !strings.Contains(resp.Error, "compliance check") {
		t.Errorf("Expected compliance error, got %q", resp.Error)
	}
	if env.direct.callCount() != 0 || env.mediated.callCount() != 0 {
		t.Error("Denied request must reach no backend")
	}
}

func TestFeatureFlagDisablesRoute(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.flags.Set(flags.FlagDirectRoute, false)

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if !resp.Success {
		t.Fatalf("Expected fallback success, got: %s", resp.Error)
	}
	if resp.Route != models.RouteMediated {
		t.Errorf("Expected mediated route, got %s", resp.Route)
	}
	if env.direct.callCount() != 0 {
		t.Error("Flag-disabled route must not be attempted")
	}
}

func TestShutdownGateDisablesRoute(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.gate.disabled[models.RouteDirect] = true

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if !resp.Success {
		t.Fatalf("Expected fallback success, got: %s", resp.Error)
	}
	if env.direct.callCount() != 0 {
		t.Error("Shutdown-disabled route must not be attempted")
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if env.audit.fallbacks[0].Reason != "route_disabled" {
		t.Errorf("Expected route_disabled reason, got %s", env.audit.fallbacks[0].Reason)
	}
}

func TestBothRoutesFailingReportsFailure(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.direct.fail = true
	env.mediated.fail = true

	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if resp.Success {
		t.Fatal("Expected failure when both routes fail")
	}
	if env.mediated.callCount() != 1 {
		t.Errorf("Fallback must be attempted exactly once, got %d", env.mediated.callCount())
	}
}

func TestDecisionRecordedBeforeExecution(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if len(env.audit.decisions) != 1 {
		t.Fatalf("Expected 1 routing decision, got %d", len(env.audit.decisions))
	}
	d := env.audit.decisions[0]
	if d.SelectedRoute != models.RouteDirect {
		t.Errorf("Expected direct selection, got %s", d.SelectedRoute)
	}
	if !d.FallbackAvail {
		t.Error("Decision should report the configured fallback")
	}
	if d.Operation != models.OperationInfrastructure {
		t.Errorf("Decision should carry the operation type, got %s", d.Operation)
	}
}

var correlationIDPattern = regexp.MustCompile(`^router-\d+-[0-9a-f]{8}$`)

func TestCorrelationIDFormatAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newCorrelationID()
		if !correlationIDPattern.MatchString(id) {
			t.Fatalf("Correlation id %q does not match expected format", id)
		}
		if seen[id] {
			t.Fatalf("Duplicate correlation id %q", id)
		}
		seen[id] = true
	}
}

func TestFallbackAttemptMintsNewCorrelationID(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.direct.fail = true

	env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))

	env.mediated.mu.Lock()
	defer env.mediated.mu.Unlock()
	if len(env.mediated.reasons) != 1 || env.mediated.reasons[0] == "" {
		t.Errorf("Fallback attempt should carry a failure reason, got %v", env.mediated.reasons)
	}
}

func TestRoutingEfficiencyZeroTraffic(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	eff := env.router.GetRoutingEfficiency()
	if eff.TotalRequests != 0 {
		t.Errorf("Expected 0 requests, got %d", eff.TotalRequests)
	}
	if eff.AverageLatency != 0 {
		t.Errorf("Expected 0 latency, got %v", eff.AverageLatency)
	}
	if eff.SuccessRate != 1.0 {
		t.Errorf("Expected success rate 1.0, got %f", eff.SuccessRate)
	}
}

func TestRoutingEfficiencyAccumulates(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	for i := 0; i < 4; i++ {
		env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	}
	env.direct.err = errors.New("down")
	env.mediated.fail = true
	env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))

	eff := env.router.GetRoutingEfficiency()
	if eff.TotalRequests != 5 {
		t.Errorf("Expected 5 requests, got %d", eff.TotalRequests)
	}
	if eff.SuccessRate != 0.8 {
		t.Errorf("Expected success rate 0.8, got %f", eff.SuccessRate)
	}
}

func TestShutdownControllerReceivesSamples(t *testing.T) {
	env := newTestEnv(t, defaultRules())
	env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))

	env.gate.mu.Lock()
	defer env.gate.mu.Unlock()
	if len(env.gate.samples) != 1 {
		t.Fatalf("Expected 1 metrics sample, got %d", len(env.gate.samples))
	}
	if env.gate.samples[0].TotalOperations != 1 {
		t.Errorf("Expected total 1, got %d", env.gate.samples[0].TotalOperations)
	}
}

func TestOptimizeRoutingAdvisories(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	if got := env.router.OptimizeRouting(); got != nil {
		t.Errorf("Expected no suggestions without traffic, got %v", got)
	}

	// All traffic direct: mediated route ends up underused.
	for i := 0; i < 25; i++ {
		env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	}

	got := env.router.OptimizeRouting()
	if len(got) == 0 {
		t.Fatal("Expected at least one suggestion")
	}
	found := false
	for _, s := range got {
		if s.Route == models.RouteMediated && strings.Contains(s.Message, "underused") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected mediated-underuse suggestion, got %v", got)
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if len(env.audit.optims) != len(got) {
		t.Errorf("Expected %d audited suggestions, got %d", len(got), len(env.audit.optims))
	}
}

func TestReplaceRulesRejectsInvalidSet(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	err := env.router.ReplaceRules([]models.RoutingRule{
		{Operation: "bogus", PrimaryRoute: models.RouteDirect, FallbackRoute: models.RouteNone},
	})
	if err == nil {
		t.Fatal("Expected validation error")
	}

	// Old rules stay active.
	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if !resp.Success {
		t.Errorf("Previous rule set should survive a rejected replacement: %s", resp.Error)
	}
}

func TestReplaceRulesRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	rules := defaultRules()
	rules = append(rules, rules[0])
	if err := env.router.ReplaceRules(rules); err == nil {
		t.Fatal("Expected duplicate-rule error")
	}
}

func TestReplaceRulesSwapsWholeSet(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	err := env.router.ReplaceRules([]models.RoutingRule{
		{Operation: models.OperationStandard, Priority: models.PriorityMedium, PrimaryRoute: models.RouteDirect, FallbackRoute: models.RouteNone},
	})
	if err != nil {
		t.Fatalf("ReplaceRules returned error: %v", err)
	}

	// The old infrastructure rule is gone.
	resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
	if resp.Success {
		t.Error("Replaced rule set should no longer route infrastructure operations")
	}
}

func TestCheckRouteHealthAudits(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	rec, err := env.router.CheckRouteHealth(context.Background(), models.RouteDirect)
	if err != nil {
		t.Fatalf("CheckRouteHealth returned error: %v", err)
	}
	if !rec.IsHealthy {
		t.Error("Expected healthy record")
	}

	env.audit.mu.Lock()
	defer env.audit.mu.Unlock()
	if len(env.audit.health) != 1 {
		t.Errorf("Expected 1 audited health check, got %d", len(env.audit.health))
	}
}

func TestConcurrentOperations(t *testing.T) {
	env := newTestEnv(t, defaultRules())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := env.router.ExecuteSupportOperation(context.Background(), stdRequest(models.OperationInfrastructure, models.PriorityCritical))
			if !resp.Success {
				t.Errorf("Concurrent operation failed: %s", resp.Error)
			}
		}()
	}
	wg.Wait()

	eff := env.router.GetRoutingEfficiency()
	if eff.TotalRequests != 50 {
		t.Errorf("Expected 50 requests accounted, got %d", eff.TotalRequests)
	}
}
