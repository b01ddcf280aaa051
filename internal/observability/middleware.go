package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries a caller supplied id, or the one assigned here.
const RequestIDHeader = "X-Request-ID"

// LinkContext is the vehicle link as seen when a request finishes.
type LinkContext struct {
	Phase     string
	Transport string
	Target    string
}

// RequestLogger logs one line per request tagged with its request id and,
// when link is non-nil, the link phase and target after the handler ran.
func RequestLogger(logger zerolog.Logger, link func() LinkContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event = event.
			Str("request_id", id).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size())
		if name := c.Param("name"); name != "" {
			event = event.Str("param", name)
		}
		if link != nil {
			lc := link()
			event = event.Str("phase", lc.Phase)
			if lc.Target != "" {
				event = event.Str("transport", lc.Transport).Str("target", lc.Target)
			}
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("http_request")
	}
}

func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
