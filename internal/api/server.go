// Package api exposes the operational HTTP surface: operation dispatch,
// status, routing controls, breaker controls and prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/breaker"
	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/gateway"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
	"github.com/relayguard/relayguard/internal/reliability"
	"github.com/relayguard/relayguard/internal/router"
	"github.com/relayguard/relayguard/internal/shutdown"
)

// AuditReader serves recent audit records to the admin API. Optional: with a
// nil reader the audit endpoints return 404.
type AuditReader interface {
	RecentDecisions(limit int) ([]models.RoutingDecision, error)
	RecentFallbacks(limit int) ([]models.FallbackEvent, error)
}

// Deps are the server's collaborators.
type Deps struct {
	Router      *router.Router
	Gateway     *gateway.Router
	Breakers    *breaker.Registry
	Shutdown    *shutdown.Controller
	Reliability *reliability.Wrapper
	Audit       AuditReader
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Server is the admin/dispatch HTTP server.
type Server struct {
	engine     *gin.Engine
	cfg        config.ServerConfig
	deps       Deps
	httpServer *http.Server
}

// Router returns the gin engine, used by tests to drive requests directly.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// NewServer builds the HTTP server and registers all routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 1000
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 100
	}
	bodyLimit := cfg.BodyLimitBytes
	if bodyLimit <= 0 {
		bodyLimit = 1 << 20
	}

	s := &Server{
		engine: gin.New(),
		cfg:    cfg,
		deps:   deps,
	}
	s.engine.HandleMethodNotAllowed = true
	s.engine.Use(gin.Recovery())
	s.engine.Use(rateLimitMiddleware(newIPRateLimiter(time.Minute/time.Duration(perMinute), burst)))
	s.engine.Use(bodyLimitMiddleware(bodyLimit))
	s.engine.Use(metrics.Middleware(deps.Metrics, deps.Logger))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	s.engine.GET("/health", s.handleHealth)

	auth := apiKeyAuth(s.cfg.APIKeys, s.cfg.AuthHeader, s.deps.Logger)
	v1 := s.engine.Group("/api/v1")
	v1.Use(auth)
	{
		v1.POST("/operations", s.handleExecuteOperation)
		v1.GET("/status", s.handleStatus)

		v1.GET("/routing/efficiency", s.handleRoutingEfficiency)
		v1.POST("/routing/optimize", s.handleOptimizeRouting)
		v1.GET("/routing/rules", s.handleGetRules)
		v1.PUT("/routing/rules", s.handleReplaceRules)
		v1.GET("/routing/health/:route", s.handleRouteHealth)

		v1.GET("/breakers", s.handleListBreakers)
		v1.POST("/breakers/:provider/force-open", s.handleBreakerForceOpen)
		v1.POST("/breakers/:provider/force-close", s.handleBreakerForceClose)
		v1.POST("/breakers/:provider/reset", s.handleBreakerReset)

		v1.POST("/shutdown", s.handleTriggerShutdown)
		v1.POST("/recover", s.handleRecover)

		v1.GET("/reliability", s.handleReliability)

		v1.GET("/audit/decisions", s.handleAuditDecisions)
		v1.GET("/audit/fallbacks", s.handleAuditFallbacks)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := s.deps.Shutdown.GetStatus()
	gw := s.deps.Gateway.GetHealthStatus()

	code := http.StatusOK
	overall := "ok"
	if status.IsShutdown {
		code = http.StatusServiceUnavailable
		overall = "shutdown"
	} else if !gw.IsHealthy {
		overall = "degraded"
	}
	c.JSON(code, gin.H{
		"status":   overall,
		"gateway":  gw,
		"shutdown": status,
	})
}

func (s *Server) handleExecuteOperation(c *gin.Context) {
	var req models.OperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	resp := s.deps.Router.ExecuteSupportOperation(c.Request.Context(), &req)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"shutdown":   s.deps.Shutdown.GetStatus(),
		"breakers":   s.deps.Breakers.Snapshots(),
		"efficiency": s.deps.Router.GetRoutingEfficiency(),
		"routing":    s.deps.Router.Metrics(),
		"gateway":    s.deps.Gateway.GetHealthStatus(),
	})
}

func (s *Server) handleRoutingEfficiency(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Router.GetRoutingEfficiency())
}

func (s *Server) handleOptimizeRouting(c *gin.Context) {
	suggestions := s.deps.Router.OptimizeRouting()
	if suggestions == nil {
		suggestions = []models.OptimizationSuggestion{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (s *Server) handleGetRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": s.deps.Router.Rules()})
}

func (s *Server) handleReplaceRules(c *gin.Context) {
	var body struct {
		Rules []models.RoutingRule `json:"rules"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.deps.Router.ReplaceRules(body.Rules); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": len(body.Rules)})
}

func (s *Server) handleRouteHealth(c *gin.Context) {
	route := models.Route(c.Param("route"))
	switch route {
	case models.RouteDirect, models.RouteMediated:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown route %q", route)})
		return
	}

	rec, err := s.deps.Router.CheckRouteHealth(c.Request.Context(), route)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"record": rec, "probe_error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) handleListBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.deps.Breakers.Snapshots()})
}

func (s *Server) handleBreakerForceOpen(c *gin.Context) {
	provider := c.Param("provider")
	s.deps.Breakers.ForceOpen(provider)
	s.deps.Logger.Warn("breaker forced open via API", zap.String("provider", provider))
	c.JSON(http.StatusOK, gin.H{"provider": provider, "state": "open"})
}

func (s *Server) handleBreakerForceClose(c *gin.Context) {
	provider := c.Param("provider")
	s.deps.Breakers.ForceClose(provider)
	c.JSON(http.StatusOK, gin.H{"provider": provider, "state": "closed"})
}

func (s *Server) handleBreakerReset(c *gin.Context) {
	provider := c.Param("provider")
	s.deps.Breakers.Reset(provider)
	c.JSON(http.StatusOK, gin.H{"provider": provider, "state": "closed"})
}

func (s *Server) handleTriggerShutdown(c *gin.Context) {
	var body struct {
		Scope  string `json:"scope"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	scope := models.ShutdownScope(body.Scope)
	switch scope {
	case models.ScopeAll, models.ScopeRouteDirect, models.ScopeRouteMediated:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown scope %q", body.Scope)})
		return
	}

	reason := models.ShutdownReason(body.Reason)
	if reason == "" {
		reason = models.ReasonManualIntervention
	}

	event := s.deps.Shutdown.TriggerShutdown(scope, reason, models.TriggerManual)
	c.JSON(http.StatusOK, event)
}

func (s *Server) handleRecover(c *gin.Context) {
	if recovered := s.deps.Shutdown.Recover(); !recovered {
		c.JSON(http.StatusConflict, gin.H{"error": "no active shutdown to recover from"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": true})
}

func (s *Server) handleReliability(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metrics": s.deps.Reliability.GetFallbackMetrics(),
		"target":  s.deps.Reliability.ValidateReliabilityTargets(),
	})
}

func (s *Server) auditLimit(c *gin.Context) int {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 || limit > 1000 {
			return -1
		}
	}
	return limit
}

func (s *Server) handleAuditDecisions(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit store disabled"})
		return
	}
	limit := s.auditLimit(c)
	if limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	decisions, err := s.deps.Audit.RecentDecisions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if decisions == nil {
		decisions = []models.RoutingDecision{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (s *Server) handleAuditFallbacks(c *gin.Context) {
	if s.deps.Audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit store disabled"})
		return
	}
	limit := s.auditLimit(c)
	if limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	events, err := s.deps.Audit.RecentFallbacks(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []models.FallbackEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.HTTPPort)
	s.httpServer = NewHTTPServer(addr, s.engine)
	s.deps.Logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.deps.Logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
