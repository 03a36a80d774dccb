package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"certledger/internal/verification"
	"certledger/pkg/anchorhash"
	"certledger/pkg/platform/httputil"
)

type VerificationService interface {
	Verify(ctx context.Context, identifier, publicKey string) (*verification.Result, error)
}

// VerificationHandler serves the public verification routes.
type VerificationHandler struct {
	service VerificationService
}

func NewVerificationHandler(service VerificationService) *VerificationHandler {
	return &VerificationHandler{service: service}
}

func (h *VerificationHandler) Register(r chi.Router) {
	r.Post("/verify", h.HandleVerify)
	r.Get("/hash/{id}/{publicKey}", h.HandleHash)
}

type verifyRequest struct {
	CertificateID string `json:"certificateId"`
	PublicKey     string `json:"publicKey"`
}

type verifyResponse struct {
	IsValid bool `json:"isValid"`
	*verification.Result
}

// HandleVerify handles POST /verify. Every verdict is a 200 except not_found,
// which is a 404 carrying nothing but the verdict.
func (h *VerificationHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Verify(r.Context(), req.CertificateID, req.PublicKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if res.Verdict == verification.VerdictNotFound {
		status = http.StatusNotFound
	}
	httputil.WriteJSON(w, status, verifyResponse{IsValid: res.Valid(), Result: res})
}

// HandleHash handles GET /hash/{id}/{publicKey}.
func (h *VerificationHandler) HandleHash(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"certificateHash": anchorhash.Compute(
			strings.TrimSpace(chi.URLParam(r, "id")),
			strings.TrimSpace(chi.URLParam(r, "publicKey")),
		),
	})
}
