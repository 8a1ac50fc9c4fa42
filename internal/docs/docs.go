// Package docs serves the embedded OpenAPI document and a Swagger UI page.
package docs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// OpenAPIYAML returns the embedded OpenAPI document.
func OpenAPIYAML() []byte {
	return openAPIYAML
}

var (
	jsonOnce sync.Once
	jsonDoc  []byte
	jsonErr  error
)

// OpenAPIJSON returns the OpenAPI document converted to JSON.
// The conversion runs once per process.
func OpenAPIJSON() ([]byte, error) {
	jsonOnce.Do(func() {
		jsonDoc, jsonErr = yamlToJSON(openAPIYAML)
	})
	return jsonDoc, jsonErr
}

func yamlToJSON(src []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return out, nil
}

// Handler serves /openapi.yaml, /openapi.json and /docs.
type Handler struct {
	title   string
	specURL string
}

// NewHandler creates a docs handler. The Swagger UI page loads specURL.
func NewHandler(title, specURL string) *Handler {
	return &Handler{title: title, specURL: specURL}
}

// YAML handles GET /openapi.yaml.
func (h *Handler) YAML(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	if _, err := w.Write(openAPIYAML); err != nil {
		slog.ErrorContext(r.Context(), "failed to write openapi document", "error", err)
	}
}

// JSON handles GET /openapi.json.
func (h *Handler) JSON(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	doc, err := OpenAPIJSON()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to convert openapi document", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(doc); err != nil {
		slog.ErrorContext(r.Context(), "failed to write openapi document", "error", err)
	}
}

// UI handles GET /docs.
func (h *Handler) UI(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := fmt.Fprintf(w, swaggerPage, html.EscapeString(h.title), h.specURL); err != nil {
		slog.ErrorContext(r.Context(), "failed to write docs page", "error", err)
	}
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>%s</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function () {
      window.ui = SwaggerUIBundle({ url: %q, dom_id: "#swagger-ui" });
    };
  </script>
</body>
</html>
`
