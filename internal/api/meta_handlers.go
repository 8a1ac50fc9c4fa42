package api

import (
	"net/http"

	"github.com/onnwee/timeauthority/internal/keys"
	"github.com/onnwee/timeauthority/internal/seal"
)

// ServiceName is reported by the metadata endpoint.
const ServiceName = "Time Authority"

// MetaResponse describes the service at GET /.
type MetaResponse struct {
	Service            string            `json:"service"`
	Version            string            `json:"version,omitempty"`
	SignerMode         keys.Mode         `json:"signer_mode"`
	SignatureAlgorithm string            `json:"signature_algorithm"`
	Endpoints          map[string]string `json:"endpoints"`
	Note               string            `json:"note,omitempty"`
}

// MetaHandler serves GET /.
type MetaHandler struct {
	response MetaResponse
}

// NewMetaHandler builds the static metadata document.
// The signer mode is fixed for the life of the process, so it is read once.
func NewMetaHandler(issuer Issuer, version string) *MetaHandler {
	resp := MetaResponse{
		Service:            ServiceName,
		Version:            version,
		SignerMode:         issuer.SignerMode(),
		SignatureAlgorithm: seal.SignatureAlgorithm,
		Endpoints: map[string]string{
			"timestamp": "/timestamp (POST) - issue a seal",
			"demo":      "/timestamp/demo (POST) - free demo seal",
			"verify":    "/verify/{seal_id} (GET) - look up and re-verify a seal",
			"stats":     "/stats (GET) - issuance counters",
			"openapi":   "/openapi.yaml",
			"docs":      "/docs",
		},
	}
	if resp.SignerMode == keys.ModeEphemeral {
		resp.Note = "Signing with ephemeral keys. Configure SIGNER_PRIVATE_KEY_PEM and SIGNER_PUBKEY for a stable signer."
	}
	return &MetaHandler{response: resp}
}

// ServeHTTP implements http.Handler.
func (h *MetaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "not found")
		return
	}
	if !allowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, h.response)
}
