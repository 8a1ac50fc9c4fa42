package api

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/timeauthority/internal/audit"
	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/seal"
)

func TestMetaHandler_ReportsSignerMode(t *testing.T) {
	priv, pub, err := keys.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	persistent, err := keys.NewPersistentProvider(priv, pub)
	if err != nil {
		t.Fatalf("NewPersistentProvider() error = %v", err)
	}

	tests := []struct {
		name     string
		provider keys.Provider
		wantMode keys.Mode
		wantNote bool
	}{
		{"persistent", persistent, keys.ModePersistent, false},
		{"ephemeral", keys.NewEphemeralProvider(rand.Reader), keys.ModeEphemeral, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := seal.NewEngine(seal.Config{Keys: tt.provider, Recorder: audit.NewMemoryLog()})
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}

			w := httptest.NewRecorder()
			NewMetaHandler(engine, "1.2.3").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", w.Code)
			}
			var resp MetaResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Service != ServiceName {
				t.Errorf("service = %q, want %q", resp.Service, ServiceName)
			}
			if resp.Version != "1.2.3" {
				t.Errorf("version = %q, want 1.2.3", resp.Version)
			}
			if resp.SignerMode != tt.wantMode {
				t.Errorf("signer_mode = %q, want %q", resp.SignerMode, tt.wantMode)
			}
			if resp.SignatureAlgorithm != seal.SignatureAlgorithm {
				t.Errorf("signature_algorithm = %q", resp.SignatureAlgorithm)
			}
			if (resp.Note != "") != tt.wantNote {
				t.Errorf("note = %q, want note present = %v", resp.Note, tt.wantNote)
			}
			for _, key := range []string{"timestamp", "demo", "verify", "stats", "openapi", "docs"} {
				if resp.Endpoints[key] == "" {
					t.Errorf("endpoint %q missing", key)
				}
			}
		})
	}
}

func TestMetaHandler_UnknownPath(t *testing.T) {
	h := NewMetaHandler(stubIssuer{}, "")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}
