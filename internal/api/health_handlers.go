package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// readyTimeout bounds all dependency checks of one readiness probe.
const readyTimeout = 5 * time.Second

// HealthChecker is a dependency that can report whether it is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlersConfig names the dependencies checked by /ready. Nil checkers
// are reported as "skipped".
type HealthHandlersConfig struct {
	AuditChecker   HealthChecker
	RedisChecker   HealthChecker
	MetricsEnabled bool
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	checks         []namedCheck
	metricsEnabled bool
	now            func() time.Time
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// NewHealthHandlers creates the probe handlers.
func NewHealthHandlers(cfg HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		checks: []namedCheck{
			{"audit_log", cfg.AuditChecker},
			{"redis", cfg.RedisChecker},
		},
		metricsEnabled: cfg.MetricsEnabled,
		now:            time.Now,
	}
}

// HealthResponse is the body of both probes.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. Answering at all means the process is live.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, h.response("healthy", map[string]string{"runtime": "ok"}))
}

// Ready handles GET /ready. It answers 503 when the audit log cannot be
// written or the shared rate limit store is unreachable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks)+1)
	ready := true
	for _, c := range h.checks {
		if c.checker == nil {
			results[c.name] = "skipped"
			continue
		}
		if err := c.checker.HealthCheck(ctx); err != nil {
			results[c.name] = "error"
			ready = false
			slog.WarnContext(ctx, "readiness check failed", "check", c.name, "error", err)
			continue
		}
		results[c.name] = "ok"
	}
	if h.metricsEnabled {
		results["metrics"] = "ok"
	}

	if !ready {
		writeJSON(ctx, w, http.StatusServiceUnavailable, h.response("unhealthy", results))
		return
	}
	writeJSON(ctx, w, http.StatusOK, h.response("healthy", results))
}

func (h *HealthHandlers) response(status string, checks map[string]string) HealthResponse {
	return HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
}
