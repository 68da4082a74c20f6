package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// correlationHeader carries the client's correlation token; one is generated
// when absent. Every response and error envelope echoes it.
const correlationHeader = "X-Correlation-Id"

const correlationKey = "correlation_id"

// CorrelationMiddleware propagates or generates the per-request correlation
// id and exposes it to handlers and the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationKey, id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

// requestID returns the correlation id established by the middleware.
func requestID(c *gin.Context) string {
	if id, ok := c.Get(correlationKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return uuid.New().String()
}

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}
