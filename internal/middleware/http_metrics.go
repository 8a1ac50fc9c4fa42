package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are labelled with their own path.
var staticRoutes = map[string]bool{
	"/":               true,
	"/timestamp":      true,
	"/timestamp/demo": true,
	"/stats":          true,
	"/openapi.yaml":   true,
	"/openapi.json":   true,
	"/docs":           true,
	"/health":         true,
	"/ready":          true,
	"/metrics":        true,
}

// normalizePath maps a request path to its route pattern so seal IDs never
// become label values. Unknown paths collapse to "other".
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}
	if id, ok := strings.CutPrefix(path, "/verify/"); ok && id != "" && !strings.Contains(id, "/") {
		return "/verify/{id}"
	}
	return "other"
}

// HTTPMetrics records latency, sizes and counts per route. Probe endpoints
// are skipped.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := newRecorder(w)
			next.ServeHTTP(rec, r)

			var reqSize int64
			if r.ContentLength > 0 {
				reqSize = r.ContentLength
			}
			metrics.ObserveHTTPRequest(r.Method, normalizePath(r.URL.Path), strconv.Itoa(rec.status),
				time.Since(start).Seconds(), reqSize, rec.size)
		})
	}
}
