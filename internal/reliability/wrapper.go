// Package reliability wraps mediated execution with an adaptive retry policy
// that holds fallback traffic to a configured success-rate target.
package reliability

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
)

// outcomeWindow is the number of recent outcomes the rolling success rate
// is computed over.
const outcomeWindow = 100

// Executor dispatches one operation over the mediated path.
type Executor interface {
	ExecuteSupportOperation(ctx context.Context, req *models.OperationRequest) *models.OperationResponse
}

// AuditSink receives fallback events. Calls are best-effort: a sink failure
// never propagates to the wrapped operation.
type AuditSink interface {
	LogFallback(event models.FallbackEvent) error
}

// FallbackMetrics is the rolling view of fallback-path performance.
type FallbackMetrics struct {
	SuccessRate           float64       `json:"success_rate"`
	TotalFallbackAttempts int64         `json:"total_fallback_attempts"`
	AverageLatency        time.Duration `json:"average_latency"`
	PerformanceGrade      string        `json:"performance_grade"`
}

// TargetReport is the result of an on-demand SLO check.
type TargetReport struct {
	MeetsTarget        bool    `json:"meets_target"`
	CurrentSuccessRate float64 `json:"current_success_rate"`
	TargetSuccessRate  float64 `json:"target_success_rate"`
}

// Wrapper retries mediated operations with its own backoff policy,
// independent of the gateway's transport-level retries.
type Wrapper struct {
	cfg      config.ReliabilityConfig
	executor Executor
	audit    AuditSink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	outcomes     [outcomeWindow]bool
	outcomeCount int
	outcomeNext  int
	attempts     int64
	totalLatency time.Duration
}

// NewWrapper creates a reliability wrapper around the mediated executor.
// audit may be nil.
func NewWrapper(cfg config.ReliabilityConfig, executor Executor, audit AuditSink, logger *zap.Logger, m *metrics.Metrics) *Wrapper {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.TargetSuccessRate <= 0 {
		cfg.TargetSuccessRate = 0.99
	}
	return &Wrapper{
		cfg:      cfg,
		executor: executor,
		audit:    audit,
		logger:   logger,
		metrics:  m,
	}
}

// ExecuteFallbackOperation runs one operation through the mediated path,
// retrying with exponential backoff until it succeeds or the retry budget is
// spent. The returned response is always well-formed.
func (w *Wrapper) ExecuteFallbackOperation(ctx context.Context, req *models.OperationRequest, reason string) *models.OperationResponse {
	start := time.Now()

	var resp *models.OperationResponse
	backoff := w.cfg.BaseBackoff
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			w.metrics.RecordRetryAttempt("reliability")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				resp = &models.OperationResponse{
					Success:   false,
					Error:     ctx.Err().Error(),
					Timestamp: time.Now(),
					Route:     models.RouteMediated,
					Fallback:  true,
				}
				w.record(resp, time.Since(start), req, reason)
				return resp
			}
			backoff = time.Duration(float64(backoff) * w.cfg.BackoffMultiplier)
			if w.cfg.MaxBackoff > 0 && backoff > w.cfg.MaxBackoff {
				backoff = w.cfg.MaxBackoff
			}
		}

		resp = w.executor.ExecuteSupportOperation(ctx, req)
		if resp.Success {
			break
		}
		w.logger.Warn("fallback attempt failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.Int("attempt", attempt+1),
			zap.String("error", resp.Error))
	}

	resp.Fallback = true
	w.record(resp, time.Since(start), req, reason)
	return resp
}

// record updates the rolling stats and emits the audit event. Audit failures
// are logged and swallowed.
func (w *Wrapper) record(resp *models.OperationResponse, latency time.Duration, req *models.OperationRequest, reason string) {
	w.mu.Lock()
	w.outcomes[w.outcomeNext] = resp.Success
	w.outcomeNext = (w.outcomeNext + 1) % outcomeWindow
	if w.outcomeCount < outcomeWindow {
		w.outcomeCount++
	}
	w.attempts++
	w.totalLatency += latency
	rate := w.successRateLocked()
	w.mu.Unlock()

	w.metrics.SetSuccessRate(rate)

	// An empty reason means the mediated path was selected as primary, not
	// as a fallback; there is no fallback event to record.
	if w.audit == nil || reason == "" {
		return
	}
	event := models.FallbackEvent{
		FailedRoute:   models.RouteDirect,
		FallbackRoute: models.RouteMediated,
		Reason:        reason,
		Operation:     req.Operation,
		OriginalError: resp.Error,
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Warn("audit sink panicked", zap.Any("panic", r))
			}
		}()
		if err := w.audit.LogFallback(event); err != nil {
			w.logger.Warn("audit sink rejected fallback event", zap.Error(err))
		}
	}()
}

func (w *Wrapper) successRateLocked() float64 {
	if w.outcomeCount == 0 {
		return 1.0
	}
	successes := 0
	for i := 0; i < w.outcomeCount; i++ {
		if w.outcomes[i] {
			successes++
		}
	}
	return float64(successes) / float64(w.outcomeCount)
}

// GetFallbackMetrics returns the rolling fallback-path performance view.
func (w *Wrapper) GetFallbackMetrics() FallbackMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()

	rate := w.successRateLocked()
	var avg time.Duration
	if w.attempts > 0 {
		avg = w.totalLatency / time.Duration(w.attempts)
	}
	return FallbackMetrics{
		SuccessRate:           rate,
		TotalFallbackAttempts: w.attempts,
		AverageLatency:        avg,
		PerformanceGrade:      w.grade(rate, avg),
	}
}

// grade maps success rate and latency to a coarse letter grade.
func (w *Wrapper) grade(rate float64, avgLatency time.Duration) string {
	underThreshold := w.cfg.LatencyThreshold <= 0 || avgLatency <= w.cfg.LatencyThreshold
	switch {
	case rate >= 0.995 && underThreshold:
		return "A"
	case rate >= 0.99:
		return "B"
	case rate >= 0.95:
		return "C"
	case rate >= 0.90:
		return "D"
	default:
		return "F"
	}
}

// ValidateReliabilityTargets checks the rolling success rate against the
// configured target.
func (w *Wrapper) ValidateReliabilityTargets() TargetReport {
	w.mu.Lock()
	rate := w.successRateLocked()
	w.mu.Unlock()

	return TargetReport{
		MeetsTarget:        rate >= w.cfg.TargetSuccessRate,
		CurrentSuccessRate: rate,
		TargetSuccessRate:  w.cfg.TargetSuccessRate,
	}
}
