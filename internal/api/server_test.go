package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayguard/relayguard/internal/breaker"
	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/flags"
	"github.com/relayguard/relayguard/internal/gateway"
	"github.com/relayguard/relayguard/internal/logging"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
	"github.com/relayguard/relayguard/internal/reliability"
	"github.com/relayguard/relayguard/internal/router"
	"github.com/relayguard/relayguard/internal/shutdown"
)

type stubDirect struct{ fail bool }

func (s *stubDirect) Execute(ctx context.Context, req *models.OperationRequest) (*models.OperationResponse, error) {
	if s.fail {
		return &models.OperationResponse{Success: false, Error: "provider unavailable"}, nil
	}
	return &models.OperationResponse{Success: true, Result: "ok"}, nil
}

func (s *stubDirect) HealthCheck(ctx context.Context) (models.RouteHealthRecord, error) {
	return models.RouteHealthRecord{Route: models.RouteDirect, IsHealthy: true}, nil
}

type stubHealth struct{}

func (stubHealth) Get(ctx context.Context, route models.Route) (models.RouteHealthRecord, error) {
	return models.RouteHealthRecord{Route: route, IsHealthy: true, LastCheckedAt: time.Now()}, nil
}

type stubExecutor struct{}

func (stubExecutor) ExecuteSupportOperation(ctx context.Context, req *models.OperationRequest) *models.OperationResponse {
	return &models.OperationResponse{Success: true, Result: "mediated ok"}
}

type stubAuditReader struct {
	decisions []models.RoutingDecision
	fallbacks []models.FallbackEvent
}

func (s *stubAuditReader) RecentDecisions(limit int) ([]models.RoutingDecision, error) {
	return s.decisions, nil
}

func (s *stubAuditReader) RecentFallbacks(limit int) ([]models.FallbackEvent, error) {
	return s.fallbacks, nil
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	logger := logging.NewNop()
	m := metrics.NewMetrics("apitest")
	breakers := breaker.NewRegistry(3, 30*time.Second, 2)
	ctl := shutdown.NewController(config.ShutdownConfig{}, breakers, nil, logger, m)
	t.Cleanup(ctl.Cleanup)
	wrapper := reliability.NewWrapper(config.ReliabilityConfig{MaxRetries: 2, BaseBackoff: time.Millisecond}, stubExecutor{}, nil, logger, m)

	rules := []models.RoutingRule{
		{
			Operation:     models.OperationStandard,
			Priority:      models.PriorityMedium,
			PrimaryRoute:  models.RouteDirect,
			FallbackRoute: models.RouteMediated,
		},
	}
	rt, err := router.New(config.RouterConfig{Rules: rules, DefaultTimeout: 2 * time.Second}, router.Deps{
		Direct:   &stubDirect{},
		Mediated: wrapper,
		Breakers: breakers,
		Health:   stubHealth{},
		Flags:    flags.NewStaticSource(nil),
		Shutdown: ctl,
		Logger:   logger,
		Metrics:  m,
	})
	require.NoError(t, err)

	gw := gateway.NewRouter(config.GatewayConfig{Endpoint: "ws://127.0.0.1:1", QueueMaxSize: 4}, logger, m)

	return NewServer(cfg, Deps{
		Router:      rt,
		Gateway:     gw,
		Breakers:    breakers,
		Shutdown:    ctl,
		Reliability: wrapper,
		Audit:       &stubAuditReader{},
		Metrics:     m,
		Logger:      logger,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	// Gateway never started: degraded but serving.
	assert.Equal(t, "degraded", body["status"])
}

func TestExecuteOperation(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/operations", models.OperationRequest{
		Operation: models.OperationStandard,
		Priority:  models.PriorityMedium,
		Payload:   "check subsystem",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, models.RouteDirect, resp.Route)
	assert.NotEmpty(t, resp.OperationID)
}

func TestExecuteOperationRejectsBadBody(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "shutdown")
	assert.Contains(t, body, "breakers")
	assert.Contains(t, body, "efficiency")
	assert.Contains(t, body, "gateway")
}

func TestRoutingEfficiencyZeroTraffic(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodGet, "/api/v1/routing/efficiency", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var eff models.RoutingEfficiency
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eff))
	assert.Equal(t, int64(0), eff.TotalRequests)
	assert.Equal(t, 1.0, eff.SuccessRate)
}

func TestReplaceRules(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodPut, "/api/v1/routing/rules", map[string]any{
		"rules": []models.RoutingRule{
			{
				Operation:     models.OperationEmergency,
				Priority:      models.PriorityEmergency,
				PrimaryRoute:  models.RouteDirect,
				FallbackRoute: models.RouteNone,
			},
		},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Old standard rule is gone after the whole-set swap.
	w = doJSON(t, s, http.MethodPost, "/api/v1/operations", models.OperationRequest{
		Operation: models.OperationStandard,
		Priority:  models.PriorityMedium,
		Payload:   "check",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.OperationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no routing rule")
}

func TestReplaceRulesRejectsInvalid(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodPut, "/api/v1/routing/rules", map[string]any{
		"rules": []map[string]any{
			{"operation": "bogus", "primary_route": "direct", "fallback_route": "none"},
		},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRouteHealthEndpoint(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodGet, "/api/v1/routing/health/direct", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/routing/health/teleport", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBreakerControls(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/breakers/direct/force-open", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.deps.Breakers.IsOpen("direct"))

	w = doJSON(t, s, http.MethodPost, "/api/v1/breakers/direct/force-close", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.deps.Breakers.IsOpen("direct"))
}

func TestShutdownAndRecover(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/shutdown", map[string]string{
		"scope":  "all",
		"reason": "security_incident",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var event models.ShutdownEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &event))
	assert.Equal(t, models.ScopeAll, event.Scope)
	assert.Equal(t, models.TriggerManual, event.Trigger)

	w = doJSON(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/recover", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Second recover has nothing left to do.
	w = doJSON(t, s, http.MethodPost, "/api/v1/recover", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestShutdownRejectsUnknownScope(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodPost, "/api/v1/shutdown", map[string]string{"scope": "sideways"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReliabilityEndpoint(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodGet, "/api/v1/reliability", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "target")
}

func TestAuditEndpoints(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{})

	w := doJSON(t, s, http.MethodGet, "/api/v1/audit/decisions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/audit/decisions?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.deps.Audit = nil
	w = doJSON(t, s, http.MethodGet, "/api/v1/audit/fallbacks", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{APIKeys: []string{"secret-key"}})

	w := doJSON(t, s, http.MethodGet, "/api/v1/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/status", nil, map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/status", nil, map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusOK, w.Code)

	// Metrics and health stay public.
	w = doJSON(t, s, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{BodyLimitBytes: 64})

	big := bytes.Repeat([]byte("a"), 512)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", bytes.NewReader(big))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, config.ServerConfig{RatePerMinute: 60, RateBurst: 2})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		w := doJSON(t, s, http.MethodGet, "/health", nil, nil)
		codes[w.Code]++
	}
	assert.Greater(t, codes[http.StatusTooManyRequests], 0, "expected some requests to be limited")
}
