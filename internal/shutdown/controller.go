// Package shutdown implements the emergency shutdown controller. The default
// posture is fail safe, recover deliberately: shutdowns may trigger
// automatically, recovery never does unless explicitly enabled.
package shutdown

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/breaker"
	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
)

// Notifier delivers operator alerts. Best effort: a notifier failure never
// blocks the shutdown itself.
type Notifier interface {
	Notify(message string) error
}

// MetricsSample is one live observation fed to UpdateMetrics.
type MetricsSample struct {
	TotalOperations  int64         `json:"total_operations"`
	FailedOperations int64         `json:"failed_operations"`
	AverageLatency   time.Duration `json:"average_latency"`
}

// Status is the controller's current posture.
type Status struct {
	IsShutdown       bool                  `json:"is_shutdown"`
	Scope            models.ShutdownScope  `json:"scope,omitempty"`
	Reason           models.ShutdownReason `json:"reason,omitempty"`
	Since            time.Time             `json:"since,omitempty"`
	RecoveryAttempts int                   `json:"recovery_attempts"`
}

// Controller can forcibly disable routes on metric thresholds or operator
// command, and gates every routing decision while a shutdown is active.
type Controller struct {
	cfg      config.ShutdownConfig
	breakers *breaker.Registry
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu               sync.Mutex
	active           *models.ShutdownEvent
	history          []models.ShutdownEvent
	recoveryAttempts int
	recoveryTimer    *time.Timer
	healthProbe      func() bool
	cleaned          bool
}

// NewController creates a shutdown controller. notifier may be nil.
func NewController(cfg config.ShutdownConfig, breakers *breaker.Registry, notifier Notifier, logger *zap.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		cfg:      cfg,
		breakers: breakers,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
	}
}

// TriggerShutdown disables the routes covered by scope. Triggering while
// already shut down widens or restates the active event.
func (c *Controller) TriggerShutdown(scope models.ShutdownScope, reason models.ShutdownReason, trigger models.TriggerKind) models.ShutdownEvent {
	event := models.ShutdownEvent{
		Scope:     scope,
		Reason:    reason,
		Trigger:   trigger,
		Timestamp: time.Now(),
	}

	for _, route := range []models.Route{models.RouteDirect, models.RouteMediated} {
		if scope.Covers(route) {
			c.breakers.ForceOpen(string(route))
			event.StepsTaken = append(event.StepsTaken, "forced breaker open: "+string(route))
		}
	}
	event.StepsTaken = append(event.StepsTaken, "routing gate engaged")

	c.mu.Lock()
	c.active = &event
	c.history = append(c.history, event)
	c.mu.Unlock()

	c.metrics.RecordShutdown(string(scope), string(trigger))
	c.logger.Error("emergency shutdown triggered",
		zap.String("scope", string(scope)),
		zap.String("reason", string(reason)),
		zap.String("trigger", string(trigger)))

	c.notify(fmt.Sprintf("emergency shutdown: scope=%s reason=%s trigger=%s", scope, reason, trigger))

	if c.cfg.AutoRecoveryEnabled {
		c.scheduleRecovery()
	}
	return event
}

// SetHealthProbe registers the check consulted before automatic recovery.
// While the probe reports false the controller stays shut down and re-checks
// at the configured health check interval.
func (c *Controller) SetHealthProbe(probe func() bool) {
	c.mu.Lock()
	c.healthProbe = probe
	c.mu.Unlock()
}

// UpdateMetrics feeds a live sample to the automatic trigger rules. An error
// rate above the configured threshold, or average latency above the latency
// threshold, shuts down everything with reason performance_degradation.
func (c *Controller) UpdateMetrics(sample MetricsSample) {
	if !c.cfg.AutoShutdownEnabled {
		return
	}
	if sample.TotalOperations == 0 {
		return
	}

	c.mu.Lock()
	active := c.active != nil
	c.mu.Unlock()
	if active {
		return
	}

	errorRate := float64(sample.FailedOperations) / float64(sample.TotalOperations)
	if errorRate > c.cfg.ErrorRateThreshold {
		c.logger.Warn("error rate over threshold, triggering automatic shutdown",
			zap.Float64("error_rate", errorRate),
			zap.Float64("threshold", c.cfg.ErrorRateThreshold))
		c.TriggerShutdown(models.ScopeAll, models.ReasonPerformanceDegradation, models.TriggerAutomatic)
		return
	}
	if c.cfg.LatencyThreshold > 0 && sample.AverageLatency > c.cfg.LatencyThreshold {
		c.logger.Warn("average latency over threshold, triggering automatic shutdown",
			zap.Duration("average_latency", sample.AverageLatency),
			zap.Duration("threshold", c.cfg.LatencyThreshold))
		c.TriggerShutdown(models.ScopeAll, models.ReasonPerformanceDegradation, models.TriggerAutomatic)
	}
}

// IsRouteDisabled reports whether an active shutdown covers the route.
func (c *Controller) IsRouteDisabled(route models.Route) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.Scope.Covers(route)
}

// GetStatus returns the controller's current posture.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{RecoveryAttempts: c.recoveryAttempts}
	if c.active != nil {
		status.IsShutdown = true
		status.Scope = c.active.Scope
		status.Reason = c.active.Reason
		status.Since = c.active.Timestamp
	}
	return status
}

// History returns every shutdown event observed so far.
func (c *Controller) History() []models.ShutdownEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ShutdownEvent, len(c.history))
	copy(out, c.history)
	return out
}

// Recover deliberately clears the active shutdown and closes the forced
// breakers. Returns false when nothing was shut down.
func (c *Controller) Recover() bool {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return false
	}
	scope := c.active.Scope
	c.active = nil
	if c.recoveryTimer != nil {
		c.recoveryTimer.Stop()
		c.recoveryTimer = nil
	}
	c.mu.Unlock()

	for _, route := range []models.Route{models.RouteDirect, models.RouteMediated} {
		if scope.Covers(route) {
			c.breakers.ForceClose(string(route))
		}
	}

	c.logger.Info("shutdown recovered", zap.String("scope", string(scope)))
	c.notify(fmt.Sprintf("shutdown recovered: scope=%s", scope))
	return true
}

// scheduleRecovery arms the automatic recovery timer, bounded by
// MaxRecoveryAttempts.
func (c *Controller) scheduleRecovery() {
	delay := c.cfg.RecoveryDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	c.scheduleRecoveryAfter(delay)
}

func (c *Controller) scheduleRecoveryAfter(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleaned {
		return
	}
	if c.cfg.MaxRecoveryAttempts > 0 && c.recoveryAttempts >= c.cfg.MaxRecoveryAttempts {
		c.logger.Warn("recovery attempts exhausted, staying shut down",
			zap.Int("attempts", c.recoveryAttempts))
		return
	}
	c.recoveryAttempts++

	if c.recoveryTimer != nil {
		c.recoveryTimer.Stop()
	}
	c.recoveryTimer = time.AfterFunc(delay, c.attemptRecovery)
}

// attemptRecovery recovers only when the registered health probe, if any,
// reports healthy. An unhealthy probe keeps the shutdown active and re-arms
// the timer at the health check interval.
func (c *Controller) attemptRecovery() {
	c.mu.Lock()
	probe := c.healthProbe
	c.mu.Unlock()

	if probe != nil && !probe() {
		interval := c.cfg.HealthCheckInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		c.logger.Warn("routes still unhealthy, postponing automatic recovery",
			zap.Duration("recheck_in", interval))
		c.scheduleRecoveryAfter(interval)
		return
	}
	c.Recover()
}

// Cleanup stops timers and discards state. The controller must not be used
// afterwards.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleaned = true
	if c.recoveryTimer != nil {
		c.recoveryTimer.Stop()
		c.recoveryTimer = nil
	}
	c.active = nil
}

func (c *Controller) notify(message string) {
	if c.notifier == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Warn("notifier panicked", zap.Any("panic", r))
			}
		}()
		if err := c.notifier.Notify(message); err != nil {
			c.logger.Warn("notifier failed", zap.Error(err))
		}
	}()
}
