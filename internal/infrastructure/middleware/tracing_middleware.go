package middleware

import (
	"time"

	"rehearsal/pkg/logger"
	"rehearsal/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const RequestIDHeader = "X-Request-ID"

// RequestObserver receives every completed request.
type RequestObserver interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// TracingMiddleware opens a span per request, assigns a request id and logs
// the request through the context logger.
func TracingMiddleware(ctxLogger *logger.ContextLogger, observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, route)
		defer span.End()
		ctx = logger.WithRequestID(ctx, requestID)

		span.SetAttributes(
			attribute.String("http.request_id", requestID),
			attribute.String("http.remote_addr", c.ClientIP()),
			attribute.String("http.user_agent", c.Request.UserAgent()),
		)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		if observer != nil {
			observer.RecordHTTPRequest(c.Request.Method, route, status, duration)
		}
		if ctxLogger != nil {
			ctxLogger.LogRequest(ctx, c.Request.Method, route, status, duration.Milliseconds())
		}
	}
}
