package metrics

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// sizeWriter counts the bytes of a response body.
type sizeWriter struct {
	gin.ResponseWriter
	size int
}

func (w *sizeWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.size += n
	return n, err
}

func (w *sizeWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.size += n
	return n, err
}

// PrometheusMiddleware records count, latency and size per route. Progress
// sockets and event streams stay open for a whole job and are skipped.
func PrometheusMiddleware() gin.HandlerFunc {
	m := Get()

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" || c.IsWebsocket() || isEventStream(c) {
			c.Next()
			return
		}

		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		sw := &sizeWriter{ResponseWriter: c.Writer}
		c.Writer = sw
		c.Next()

		m.RecordHTTPRequest(routeLabel(c), c.Request.Method, c.Writer.Status(), time.Since(start), sw.size)
	}
}

// PrometheusHandler serves the default registry.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func isEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// routeLabel is the matched route template, with known agent ids filled in
// on agent runs. Unmatched paths share one label.
func routeLabel(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		return "unmatched"
	}
	if agent := tcc.AgentID(c.Param("agentId")); agent.Valid() {
		return strings.Replace(route, ":agentId", string(agent), 1)
	}
	return route
}
