package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDMiddleware assigns a request id (used in logs and the error
// envelope's requestId field) before any handler runs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestIDKey, uuid.NewString())
		c.Next()
	}
}

// requestLoggerMiddleware logs one structured line per request, in the
// teacher's slog.With(...) contextual-logger idiom.
func requestLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		slog.With(
			"requestId", requestID(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"durationMs", time.Since(started).Milliseconds(),
		).Info("request handled")
	}
}

// recoveryMiddleware turns a handler panic into the standard JSON error
// envelope instead of gin's default plaintext 500.
func recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.With("requestId", requestID(c)).Error("panic recovered", "panic", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{
					Code:      "INTERNAL_ERROR",
					Message:   "internal server error",
					RequestID: requestID(c),
				}})
			}
		}()
		c.Next()
	}
}
