package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPMiddleware returns an http.Handler that records HTTP request
// count and duration metrics.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)
		status := strconv.Itoa(rw.status)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *metricsResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// normalizePath groups paths to avoid high-cardinality labels. The
// webhook and read API paths embed app ids, channel names and uids, so
// they are collapsed to their route shape.
func normalizePath(path string) string {
	switch {
	case path == "/metrics" || path == "/healthz" || path == "/debug/cache":
		return path
	case strings.HasSuffix(path, "/webhooks"):
		return "/:app_id/webhooks"
	case strings.HasPrefix(path, "/api/channels/"):
		return "/api/channels/:app_id"
	case strings.HasPrefix(path, "/api/channel/"):
		if strings.HasSuffix(path, "/quality") {
			return "/api/channel/:app_id/:channel/quality"
		}
		return "/api/channel/:app_id/:channel"
	case strings.HasPrefix(path, "/api/user/"):
		return "/api/user/:app_id/:uid"
	case strings.HasPrefix(path, "/api/minutes/"):
		return "/api/minutes/:app_id"
	}
	return "/other"
}
