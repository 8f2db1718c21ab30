package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkie-project/talkie/internal/auth"
	"github.com/talkie-project/talkie/internal/tracing"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware reuses the caller's request ID or assigns one, and
// echoes it on the response so both sides log the same value.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// tracingMiddleware continues the caller's trace context.
func tracingMiddleware(module string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := tracing.ExtractHeaders(c.Request.Context(), c.Request.Header)
		ctx, span := tracing.StartSpan(ctx, module+" "+c.FullPath())
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		s.metrics.Record(path, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// authMiddleware validates credentials on API routes. Health, metrics
// and version endpoints stay open so probes and scrapers work without
// credentials.
func (s *Server) authMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isOpenPath(c.Request.URL.Path) {
			c.Next()
			return
		}
		if err := validator.ValidateRequest(c.Request); err != nil {
			s.logger.Warn("rejected unauthenticated request",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Valid credentials are required",
			})
			return
		}
		c.Next()
	}
}

func isOpenPath(path string) bool {
	return path == "/version" ||
		strings.HasPrefix(path, "/health") ||
		strings.HasPrefix(path, "/metrics")
}
