package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS. An empty AllowedOrigins disables CORS handling;
// a "*" entry admits every origin.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int // seconds
}

// CORS answers preflight requests and sets CORS headers for allowed origins.
// Requests from other origins get 403. Credentials are only ever allowed for
// explicitly listed origins.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	listed := make(map[string]bool)
	wildcard := false
	for _, origin := range cfg.AllowedOrigins {
		switch origin = strings.TrimSpace(origin); origin {
		case "":
		case "*":
			wildcard = true
		default:
			listed[origin] = true
		}
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	enabled := wildcard || len(listed) > 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !enabled || origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			switch {
			case listed[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			default:
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)

			if r.Method == http.MethodOptions {
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
