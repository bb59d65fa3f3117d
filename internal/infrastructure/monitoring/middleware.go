package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records status server requests by route template. Scrapes of
// the metrics endpoints themselves are not recorded.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		switch route {
		case "/metrics", "/metrics/json":
			c.Next()
			return
		case "":
			route = "unmatched"
		}

		start := time.Now()
		c.Next()
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
