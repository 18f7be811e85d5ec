package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// defaultAPIKeyHeader is used when no header name is configured.
const defaultAPIKeyHeader = "X-API-Key"

// apiKeyAuth validates API keys from a request header. With no keys
// configured the middleware is a pass-through.
func apiKeyAuth(apiKeys []string, headerName string, logger *zap.Logger) gin.HandlerFunc {
	if headerName == "" {
		headerName = defaultAPIKeyHeader
	}
	if len(apiKeys) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	allowed := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		allowed[k] = struct{}{}
	}

	return func(c *gin.Context) {
		key := c.GetHeader(headerName)
		if key == "" {
			logger.Warn("authentication failed: missing API key",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "API key required in '" + headerName + "' header",
			})
			return
		}
		if _, ok := allowed[key]; !ok {
			logger.Warn("authentication failed: invalid API key",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid API key",
			})
			return
		}
		c.Next()
	}
}
