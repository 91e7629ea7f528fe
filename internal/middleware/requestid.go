package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// RequestIDHeader is honored when the caller supplies it, so a
	// gateway-assigned id survives into our logs.
	RequestIDHeader = "x-request-id"

	// RequestIDKey is the gin context key for the resolved id.
	RequestIDKey = "request_id"

	// LoggerKey holds the request-scoped logger.
	LoggerKey = "logger"
)

// RequestID resolves or generates the correlation id, reflects it on
// the response, and attaches a child logger carrying it. Grep the log
// stream for the id and the whole request falls out.
func RequestID(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		reqLog := log.With().Str("request_id", id).Logger()
		c.Set(LoggerKey, reqLog)

		c.Next()
	}
}

// Logger returns the request-scoped logger, falling back to a
// disabled logger when the middleware did not run (tests).
func Logger(c *gin.Context) zerolog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(zerolog.Logger); ok {
			return l
		}
	}
	return zerolog.Nop()
}
