package api

import (
	"net/http"

	"github.com/onnwee/timeauthority/internal/docs"
)

// RouterConfig collects the handlers mounted by NewRouter.
type RouterConfig struct {
	Seals  *SealHandlers
	Meta   http.Handler
	Health *HealthHandlers
	Docs   *docs.Handler

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// IssueLimiter wraps the two issuance routes when set.
	IssueLimiter func(http.Handler) http.Handler
}

// NewRouter registers every service route on a new mux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	limit := cfg.IssueLimiter
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	mux.Handle("/timestamp", limit(http.HandlerFunc(cfg.Seals.IssuePaid)))
	mux.Handle("/timestamp/demo", limit(http.HandlerFunc(cfg.Seals.IssueDemo)))
	mux.HandleFunc("/verify/", cfg.Seals.Verify)
	mux.HandleFunc("/stats", cfg.Seals.Stats)

	mux.HandleFunc("/health", cfg.Health.Health)
	mux.HandleFunc("/ready", cfg.Health.Ready)

	if cfg.Docs != nil {
		mux.HandleFunc("/openapi.yaml", cfg.Docs.YAML)
		mux.HandleFunc("/openapi.json", cfg.Docs.JSON)
		mux.HandleFunc("/docs", cfg.Docs.UI)
	}
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics)
	}

	// "/" matches every unregistered path; MetaHandler answers 404 for those.
	mux.Handle("/", cfg.Meta)

	return mux
}
