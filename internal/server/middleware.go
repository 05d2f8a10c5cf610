package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/logging"
)

// ErrorResponse is the body written for failed requests
type ErrorResponse struct {
	Error       string   `json:"error"`
	ErrorType   string   `json:"error_type"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// RequestLogger writes one structured line per request through the
// application logger
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := map[string]any{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}

		log := logging.WithFields(fields)

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("Request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("Request rejected")
		default:
			log.Info("Request served")
		}
	}
}

// Timeout bounds each request's context
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ErrorHandler turns the last error attached with c.Error into a JSON
// response whose status follows the error type
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		status := StatusFor(err)

		body := ErrorResponse{Error: err.Error(), ErrorType: string(errors.GetType(err))}

		var structured *errors.Error
		if errors.As(err, &structured) {
			body.Error = structured.Message
			body.Suggestions = structured.Suggestions
		}

		if status >= http.StatusInternalServerError {
			logging.WithError(err).Error("Request error")
		}

		if !c.Writer.Written() {
			c.AbortWithStatusJSON(status, body)
		}
	}
}

// StatusFor maps an error to its HTTP status code
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}

	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeDatabase:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeNoRelevantSchema, errors.ErrTypeInvalidSQL, errors.ErrTypeSchemaViolation:
		return http.StatusUnprocessableEntity
	case errors.ErrTypeBackend:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
