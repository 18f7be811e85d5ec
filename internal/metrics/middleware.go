package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// slowRequestThreshold flags admin API requests that should never be slow.
// The dispatch path has its own latency budget; everything else is expected
// to answer well under this.
const slowRequestThreshold = time.Second

// surfaceOf classifies an endpoint. The dispatch hot path is watched
// separately from control-plane operations and the unauthenticated public
// endpoints.
func surfaceOf(endpoint string) string {
	switch {
	case endpoint == "/api/v1/operations":
		return "dispatch"
	case strings.HasPrefix(endpoint, "/api/"):
		return "control"
	default:
		return "public"
	}
}

// Middleware records HTTP metrics for each request and flags slow
// control-plane calls.
func Middleware(m *Metrics, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		c.Next()
		m.DecHTTPRequestsInFlight()

		elapsed := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		surface := surfaceOf(endpoint)

		m.RecordRequestLatency(endpoint, c.Request.Method, status, elapsed.Seconds())
		m.RecordHTTPRequest(endpoint, c.Request.Method, status, surface)

		if surface != "dispatch" && elapsed > slowRequestThreshold {
			logger.Warn("slow admin request",
				zap.String("endpoint", endpoint),
				zap.String("surface", surface),
				zap.Duration("elapsed", elapsed))
		}

		if len(c.Errors) > 0 {
			logger.Error("request error",
				zap.String("endpoint", endpoint),
				zap.String("surface", surface),
				zap.String("errors", c.Errors.String()))
		}
	}
}
