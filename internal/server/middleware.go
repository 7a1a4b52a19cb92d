package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kanshi/internal/logging"
	"kanshi/internal/metrics"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// requestID は上流から受け取ったIDを引き継ぎ、無ければ新しく採番する
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// accessLog はリクエストの記録とメトリクスの更新を行う
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordAPIRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)

		event := logging.Debug()
		if status >= 500 {
			event = logging.Warn()
		}
		event.
			Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("client_ip", c.ClientIP()).
			Msg("HTTPリクエスト")
	}
}
