package middleware

import (
	"time"

	"chatwithcode/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics 记录每个请求的次数与耗时，未匹配路由统一记为 "unmatched"。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
