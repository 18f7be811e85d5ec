// Package gateway implements the protocol-mediated router: one persistent
// connection to a mediating endpoint, a priority-ordered outbound queue,
// request/response correlation and health probing of that connection.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/relayguard/relayguard/internal/models"
)

// Frame types on the wire. Requests expect a matching response frame with
// the same id; notifications expect none.
const (
	FrameRequest      = "request"
	FrameResponse     = "response"
	FrameNotification = "notification"
)

// Notification methods for the orchestrator side channel.
const (
	MethodExecute       = "execute"
	MethodDiagnostics   = "diagnostics"
	MethodExecutionData = "execution_data"
)

// Frame is one message on the mediated connection.
type Frame struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Method        string          `json:"method,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *FrameError     `json:"error,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RetryCount    int             `json:"retry_count"`
	Priority      models.Priority `json:"priority,omitempty"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
}

// FrameError carries a failure reported by the mediating endpoint.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return e.Message
}
