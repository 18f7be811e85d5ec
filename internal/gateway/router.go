package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/config"
	rgerrors "github.com/relayguard/relayguard/internal/errors"
	"github.com/relayguard/relayguard/internal/metrics"
	"github.com/relayguard/relayguard/internal/models"
)

// ConnStatus is the state of the mediated connection.
type ConnStatus int32

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusConnected
	// StatusError is sticky: it does not fall back to disconnected until a
	// new explicit connect attempt is observed.
	StatusError
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// HealthStatus is the gateway health snapshot.
type HealthStatus struct {
	IsHealthy               bool      `json:"is_healthy"`
	ConnectionStatus        string    `json:"connection_status"`
	LatencyMs               int64     `json:"latency_ms"`
	QueueSize               int       `json:"queue_size"`
	PendingOperations       int       `json:"pending_operations"`
	ErrorRate               float64   `json:"error_rate"`
	LastSuccessfulOperation time.Time `json:"last_successful_operation"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one in-flight or queued request awaiting its response.
type pendingCall struct {
	frame    *Frame
	resultCh chan callResult
	timer    *time.Timer
	resolved atomic.Bool
	sent     bool // transmitted on the current connection, awaiting ack
}

type requestParams struct {
	Operation models.OperationType `json:"operation"`
	Payload   string               `json:"payload"`
	Context   map[string]any       `json:"context,omitempty"`
	MaxTokens int                  `json:"max_tokens,omitempty"`
	Streaming bool                 `json:"streaming,omitempty"`
}

// Router owns one persistent connection to the mediating endpoint. Requests
// are transmitted immediately when connected, otherwise they wait in the
// priority queue and flush once connectivity is reestablished.
type Router struct {
	cfg     config.GatewayConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	// dial is swappable in tests.
	dial func(ctx context.Context) (*websocket.Conn, error)

	mu      sync.Mutex
	conn    *websocket.Conn
	queue   *priorityQueue
	pending map[string]*pendingCall

	status          atomic.Int32
	heartbeatMisses atomic.Int32
	lastPingAt      atomic.Int64 // unix nano
	lastPongAt      atomic.Int64
	pingLatencyMs   atomic.Int64
	lastSuccess     atomic.Value // time.Time
	totalOps        atomic.Int64
	failedOps       atomic.Int64
	destroyed       atomic.Bool

	writeMu sync.Mutex

	handlerMu       sync.RWMutex
	onExecutionData func(payload json.RawMessage, correlationID string)

	running bool
	muRun   sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRouter creates a gateway router. Start must be called before requests
// can be transmitted; requests sent before that wait in the queue.
func NewRouter(cfg config.GatewayConfig, logger *zap.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   newPriorityQueue(cfg.QueueMaxSize),
		pending: make(map[string]*pendingCall),
		stopCh:  make(chan struct{}),
	}
	r.status.Store(int32(StatusDisconnected))
	r.lastSuccess.Store(time.Time{})
	r.dial = func(ctx context.Context) (*websocket.Conn, error) {
		dialer := &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
		conn, resp, err := dialer.DialContext(ctx, cfg.Endpoint, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return conn, err
	}
	return r
}

// Start launches the connection and heartbeat loops.
func (r *Router) Start(ctx context.Context) {
	r.muRun.Lock()
	if r.running {
		r.muRun.Unlock()
		return
	}
	r.running = true
	r.muRun.Unlock()

	r.wg.Add(2)
	go r.connectLoop(ctx)
	go r.heartbeatLoop(ctx)
}

// ExecuteSupportOperation dispatches one request over the mediated
// connection and always returns a well-formed response, never a bare error.
func (r *Router) ExecuteSupportOperation(ctx context.Context, req *models.OperationRequest) *models.OperationResponse {
	start := time.Now()
	resp := &models.OperationResponse{
		OperationID: uuid.NewString(),
		Route:       models.RouteMediated,
	}

	result, err := r.executeWithRetry(ctx, req)
	resp.LatencyMs = time.Since(start).Milliseconds()
	resp.Timestamp = time.Now()

	r.totalOps.Add(1)
	if err != nil {
		r.failedOps.Add(1)
		resp.Success = false
		resp.Error = err.Error()
		r.metrics.RecordError("gateway_execute", "gateway")
		return resp
	}

	r.lastSuccess.Store(time.Now())
	resp.Success = true
	resp.Result = string(result)
	return resp
}

// executeWithRetry makes up to maxRetries send attempts with exponential
// backoff, capturing the last error for the final failure report.
func (r *Router) executeWithRetry(ctx context.Context, req *models.OperationRequest) (json.RawMessage, error) {
	maxRetries := r.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			r.metrics.RecordRetryAttempt("gateway")
			delay := r.cfg.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-r.stopCh:
				return nil, &rgerrors.ErrDestroyed{Component: "gateway router"}
			}
		}

		result, err := r.sendRequest(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, &rgerrors.ErrRetriesExhausted{Attempts: maxRetries, Last: lastErr}
}

// retryable reports whether a send failure may be retried. Backpressure,
// compliance and teardown errors are never silently retried.
func retryable(err error) bool {
	switch err.(type) {
	case *rgerrors.ErrTimeout, *rgerrors.ErrConnection:
		return true
	case *FrameError:
		return false
	}
	return false
}

func (r *Router) sendRequest(ctx context.Context, req *models.OperationRequest) (json.RawMessage, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = req.LatencyBudget
	}
	if timeout <= 0 {
		timeout = r.cfg.RequestTimeout
	}

	params, err := json.Marshal(requestParams{
		Operation: req.Operation,
		Payload:   req.Payload,
		Context:   req.Context,
		MaxTokens: req.MaxTokens,
		Streaming: req.Streaming,
	})
	if err != nil {
		return nil, err
	}

	call := &pendingCall{
		frame: &Frame{
			ID:            uuid.NewString(),
			Type:          FrameRequest,
			Method:        MethodExecute,
			Params:        params,
			Timestamp:     time.Now(),
			CorrelationID: req.CorrelationID,
			Priority:      req.Priority,
			Timeout:       timeout,
		},
		resultCh: make(chan callResult, 1),
	}
	call.timer = time.AfterFunc(timeout, func() {
		r.resolve(call, nil, &rgerrors.ErrTimeout{
			CorrelationID: call.frame.CorrelationID,
			Elapsed:       timeout,
		})
	})

	if err := r.dispatch(call); err != nil {
		call.timer.Stop()
		return nil, err
	}

	select {
	case res := <-call.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		r.resolve(call, nil, ctx.Err())
		return nil, ctx.Err()
	}
}

// dispatch transmits the call immediately when connected, otherwise parks it
// in the priority queue. The call is registered as pending either way so its
// timeout handle covers queued time too.
func (r *Router) dispatch(call *pendingCall) error {
	r.mu.Lock()
	if r.destroyed.Load() {
		r.mu.Unlock()
		return &rgerrors.ErrDestroyed{Component: "gateway router"}
	}

	if ConnStatus(r.status.Load()) == StatusConnected && r.conn != nil {
		conn := r.conn
		call.sent = true
		r.pending[call.frame.ID] = call
		r.mu.Unlock()

		if err := r.writeFrame(conn, call.frame); err != nil {
			// Transport failure: the call stays pending and the replay
			// machinery requeues it when the connection drops.
			r.logger.Warn("gateway write failed",
				zap.String("frame_id", call.frame.ID),
				zap.Error(err))
			r.disconnect(err)
		}
		return nil
	}

	if !r.queue.Push(call, call.frame.Priority) {
		size := r.queue.Len()
		r.mu.Unlock()
		return &rgerrors.ErrQueueFull{Size: size, Max: r.cfg.QueueMaxSize}
	}
	r.pending[call.frame.ID] = call
	r.metrics.SetGatewayQueueDepth(r.queue.Len())
	r.mu.Unlock()
	return nil
}

// resolve completes a call exactly once, removing it from the pending map
// and the queue and stopping its timer.
func (r *Router) resolve(call *pendingCall, result json.RawMessage, err error) {
	if !call.resolved.CompareAndSwap(false, true) {
		return
	}
	call.timer.Stop()

	r.mu.Lock()
	delete(r.pending, call.frame.ID)
	r.queue.Remove(call.frame.ID)
	r.metrics.SetGatewayQueueDepth(r.queue.Len())
	r.metrics.SetGatewayPending(len(r.pending))
	r.mu.Unlock()

	call.resultCh <- callResult{result: result, err: err}
}

func (r *Router) writeFrame(conn *websocket.Conn, frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(r.cfg.RequestTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// connectLoop dials, flushes the queue and reads frames until the
// connection drops, then reconnects with capped exponential backoff.
func (r *Router) connectLoop(ctx context.Context) {
	defer r.wg.Done()

	delay := r.cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := r.runConnection(ctx); err != nil {
			r.metrics.RecordGatewayReconnect("failure")
			r.logger.Warn("gateway connection failed",
				zap.String("endpoint", r.cfg.Endpoint),
				zap.Error(err))

			select {
			case <-time.After(delay):
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
			delay *= 2
			if r.cfg.MaxReconnectDelay > 0 && delay > r.cfg.MaxReconnectDelay {
				delay = r.cfg.MaxReconnectDelay
			}
			continue
		}
		// Connection ran and closed normally.
		delay = r.cfg.ReconnectDelay
		if delay <= 0 {
			delay = time.Second
		}
	}
}

func (r *Router) runConnection(ctx context.Context) error {
	r.status.Store(int32(StatusConnecting))

	conn, err := r.dial(ctx)
	if err != nil {
		r.status.Store(int32(StatusError))
		return &rgerrors.ErrConnection{Endpoint: r.cfg.Endpoint, Err: err}
	}

	conn.SetPongHandler(func(string) error {
		now := time.Now()
		r.lastPongAt.Store(now.UnixNano())
		r.heartbeatMisses.Store(0)
		if pingAt := r.lastPingAt.Load(); pingAt > 0 {
			r.pingLatencyMs.Store(now.Sub(time.Unix(0, pingAt)).Milliseconds())
		}
		return nil
	})

	r.mu.Lock()
	if r.destroyed.Load() {
		r.mu.Unlock()
		conn.Close()
		return nil
	}
	r.conn = conn
	r.status.Store(int32(StatusConnected))
	r.heartbeatMisses.Store(0)
	r.mu.Unlock()

	r.metrics.RecordGatewayReconnect("success")
	r.logger.Info("gateway connected", zap.String("endpoint", r.cfg.Endpoint))

	r.flushQueue()

	// Read until the connection drops.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if r.destroyed.Load() {
				return nil
			}
			r.disconnect(err)
			return &rgerrors.ErrConnection{Endpoint: r.cfg.Endpoint, Err: err}
		}
		r.handleFrame(data)
	}
}

// flushQueue dispatches queued messages in priority order.
func (r *Router) flushQueue() {
	for {
		r.mu.Lock()
		if ConnStatus(r.status.Load()) != StatusConnected || r.conn == nil {
			r.mu.Unlock()
			return
		}
		call := r.queue.Pop()
		if call == nil {
			r.metrics.SetGatewayQueueDepth(0)
			r.mu.Unlock()
			return
		}
		conn := r.conn
		call.sent = true
		r.metrics.SetGatewayQueueDepth(r.queue.Len())
		r.mu.Unlock()

		if err := r.writeFrame(conn, call.frame); err != nil {
			r.logger.Warn("gateway flush write failed",
				zap.String("frame_id", call.frame.ID),
				zap.Error(err))
			r.disconnect(err)
			return
		}
	}
}

// disconnect tears down the current connection, marks health unhealthy and
// moves un-acknowledged pending calls back into the priority queue for
// replay, rejecting those past their retry budget.
func (r *Router) disconnect(cause error) {
	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	// Error state is sticky for diagnosis until the next connect attempt.
	r.status.Store(int32(StatusError))

	var rejected []*pendingCall
	for id, call := range r.pending {
		if !call.sent {
			continue
		}
		call.sent = false
		call.frame.RetryCount++
		if call.frame.RetryCount > r.cfg.MaxRetries {
			delete(r.pending, id)
			rejected = append(rejected, call)
			continue
		}
		if !r.queue.Push(call, call.frame.Priority) {
			delete(r.pending, id)
			rejected = append(rejected, call)
		}
	}
	r.metrics.SetGatewayQueueDepth(r.queue.Len())
	r.metrics.SetGatewayPending(len(r.pending))
	r.mu.Unlock()

	for _, call := range rejected {
		r.resolve(call, nil, &rgerrors.ErrConnection{Endpoint: r.cfg.Endpoint, Err: cause})
	}
}

func (r *Router) handleFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.logger.Warn("gateway received malformed frame", zap.Error(err))
		return
	}

	switch frame.Type {
	case FrameResponse:
		r.mu.Lock()
		call, ok := r.pending[frame.ID]
		r.mu.Unlock()
		if !ok {
			// Late response for a timed-out or replayed message.
			r.logger.Debug("gateway response for unknown frame",
				zap.String("frame_id", frame.ID))
			return
		}
		if frame.Error != nil {
			r.resolve(call, nil, frame.Error)
			return
		}
		r.resolve(call, frame.Result, nil)

	case FrameNotification:
		if frame.Method != MethodExecutionData {
			return
		}
		r.handlerMu.RLock()
		handler := r.onExecutionData
		r.handlerMu.RUnlock()
		if handler != nil {
			handler(frame.Params, frame.CorrelationID)
		}

	default:
		r.logger.Debug("gateway ignoring frame",
			zap.String("type", frame.Type))
	}
}

// heartbeatLoop sends periodic pings. A ping that goes unanswered by the
// next tick counts as a miss; three or more consecutive misses mark the
// gateway unhealthy even while the transport still reports open.
func (r *Router) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()

	interval := r.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			conn := r.conn
			connected := ConnStatus(r.status.Load()) == StatusConnected
			r.mu.Unlock()
			if !connected || conn == nil {
				continue
			}

			if r.lastPingAt.Load() > r.lastPongAt.Load() {
				r.heartbeatMisses.Add(1)
			}

			r.lastPingAt.Store(time.Now().UnixNano())
			r.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(interval))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			r.writeMu.Unlock()
			if err != nil {
				r.heartbeatMisses.Add(1)
				r.logger.Warn("gateway heartbeat write failed", zap.Error(err))
			}
		}
	}
}

// SendDiagnostics sends a fire-and-forget diagnostics notification over the
// mediated connection. It bypasses the priority queue and retry machinery.
func (r *Router) SendDiagnostics(payload json.RawMessage, correlationID string) error {
	if r.destroyed.Load() {
		return &rgerrors.ErrDestroyed{Component: "gateway router"}
	}
	r.mu.Lock()
	conn := r.conn
	connected := ConnStatus(r.status.Load()) == StatusConnected
	r.mu.Unlock()
	if !connected || conn == nil {
		return &rgerrors.ErrConnection{Endpoint: r.cfg.Endpoint, Err: errNotConnected}
	}

	return r.writeFrame(conn, &Frame{
		ID:            uuid.NewString(),
		Type:          FrameNotification,
		Method:        MethodDiagnostics,
		Params:        payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	})
}

// ReceiveExecutionData registers the handler invoked for inbound
// execution-data notifications from the orchestrator.
func (r *Router) ReceiveExecutionData(handler func(payload json.RawMessage, correlationID string)) {
	r.handlerMu.Lock()
	r.onExecutionData = handler
	r.handlerMu.Unlock()
}

// GetHealthStatus returns the current gateway health snapshot. Heartbeat
// failure dominates transport state.
func (r *Router) GetHealthStatus() HealthStatus {
	r.mu.Lock()
	queueSize := r.queue.Len()
	pendingOps := len(r.pending)
	r.mu.Unlock()

	total := r.totalOps.Load()
	failed := r.failedOps.Load()
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	status := ConnStatus(r.status.Load())
	healthy := status == StatusConnected &&
		r.heartbeatMisses.Load() < 3 &&
		!r.destroyed.Load()

	lastSuccess, _ := r.lastSuccess.Load().(time.Time)

	return HealthStatus{
		IsHealthy:               healthy,
		ConnectionStatus:        status.String(),
		LatencyMs:               r.pingLatencyMs.Load(),
		QueueSize:               queueSize,
		PendingOperations:       pendingOps,
		ErrorRate:               errorRate,
		LastSuccessfulOperation: lastSuccess,
	}
}

// Status returns the connection status.
func (r *Router) Status() ConnStatus {
	return ConnStatus(r.status.Load())
}

// Destroy tears the router down: every pending caller is rejected with a
// Destroyed error and all timers are released.
func (r *Router) Destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}
	close(r.stopCh)

	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	r.status.Store(int32(StatusDisconnected))
	calls := make([]*pendingCall, 0, len(r.pending))
	for _, call := range r.pending {
		calls = append(calls, call)
	}
	r.pending = make(map[string]*pendingCall)
	r.queue.Drain()
	r.mu.Unlock()

	for _, call := range calls {
		if call.resolved.CompareAndSwap(false, true) {
			call.timer.Stop()
			call.resultCh <- callResult{err: &rgerrors.ErrDestroyed{Component: "gateway router"}}
		}
	}

	r.wg.Wait()
	r.logger.Info("gateway destroyed")
}

type notConnectedError struct{}

func (notConnectedError) Error() string { return "not connected" }

var errNotConnected = notConnectedError{}
