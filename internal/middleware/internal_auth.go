package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InternalTokenHeader carries the shared secret for internal endpoints.
const InternalTokenHeader = "X-Internal-Token"

// MetricsHandler exposes reg in the Prometheus text format. Scrape errors are
// counted on reg itself.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// InternalAuth requires InternalTokenHeader to equal token, compared in
// constant time. An empty token leaves the endpoint open.
func InternalAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(r.Header.Get(InternalTokenHeader)), want) != 1 {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
