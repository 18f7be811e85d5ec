// Package direct implements the HTTP client for the primary backend path:
// one bounded call per operation, no queueing and no retries of its own.
package direct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/models"
)

// Client performs direct provider calls against a single configured
// endpoint. Safe for concurrent use.
type Client struct {
	cfg        config.DirectConfig
	httpClient *http.Client
	logger     *zap.Logger

	consecutiveFailures atomic.Int32
}

// NewClient builds a direct client. The endpoint must be set; auth header
// and key are optional.
func NewClient(cfg config.DirectConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Execute posts the operation to the provider endpoint and decodes the
// response. Context deadlines bound the call in addition to the client
// timeout.
func (c *Client) Execute(ctx context.Context, req *models.OperationRequest) (*models.OperationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/operations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.addAuth(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.consecutiveFailures.Add(1)
		c.logger.Warn("direct provider call failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.Error(err))
		return nil, fmt.Errorf("direct provider call: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.consecutiveFailures.Add(1)
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("direct provider returned %d: %s", httpResp.StatusCode, string(payload))
	}

	var resp models.OperationResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		c.consecutiveFailures.Add(1)
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.consecutiveFailures.Store(0)
	return &resp, nil
}

// HealthCheck probes the provider with a HEAD request. A reachable endpoint
// counts as healthy even when it rejects unauthenticated probes.
func (c *Client) HealthCheck(ctx context.Context) (models.RouteHealthRecord, error) {
	start := time.Now()
	record := models.RouteHealthRecord{
		Route:         models.RouteDirect,
		LastCheckedAt: start,
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.Endpoint+"/health", nil)
	if err != nil {
		record.ConsecutiveFailures = int(c.consecutiveFailures.Add(1))
		return record, fmt.Errorf("build health request: %w", err)
	}
	c.addAuth(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	record.Latency = time.Since(start)
	if err != nil {
		record.ConsecutiveFailures = int(c.consecutiveFailures.Add(1))
		return record, fmt.Errorf("direct health probe: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusOK || httpResp.StatusCode == http.StatusUnauthorized {
		record.IsHealthy = true
		record.SuccessRate = 1.0
		c.consecutiveFailures.Store(0)
		return record, nil
	}

	record.ConsecutiveFailures = int(c.consecutiveFailures.Add(1))
	return record, fmt.Errorf("direct health probe returned %d", httpResp.StatusCode)
}

func (c *Client) addAuth(req *http.Request) {
	if c.cfg.APIKey == "" {
		return
	}
	header := c.cfg.AuthHeader
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, c.cfg.APIKey)
}
