package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/mockcall/internal/session"
)

const RequestIDHeader = "X-Request-Id"

// RequestLogger logs one line per request tagged with the call it concerns.
// Voice sockets are logged once, when the call's socket closes, so their
// latency is the length of the call.
func RequestLogger(l logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := websocket.IsWebSocketUpgrade(c.Request)

		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set("request_id", reqID)

		c.Next()

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		}
		if v := c.GetString("user_id"); v != "" {
			fields["user_id"] = v
		}
		if v := callID(c); v != "" {
			fields["call_id"] = v
		}
		if v := c.Param("interview_id"); v != "" {
			fields["interview_id"] = v
		}
		entry := l.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		case upgrade:
			entry.Info("call socket closed")
		default:
			entry.Info("request")
		}
	}
}

// callID prefers the id the socket handler resolved, then the route params.
// Placeholder ids are left out of the log line.
func callID(c *gin.Context) string {
	if v := c.GetString("call_id"); v != "" {
		return v
	}
	id, ok := session.ResolveCallID(c.Param("call_ref"), c.Param("call_id"))
	if !ok {
		return ""
	}
	return id
}
