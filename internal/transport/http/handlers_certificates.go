package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	anchoring "certledger/internal/anchoring/service"
	certmodels "certledger/internal/certificate/models"
	identitymodels "certledger/internal/identity/models"
	"certledger/internal/platform/middleware"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

type AnchoringService interface {
	Issue(ctx context.Context, draft certmodels.Draft, principal identitymodels.Principal) (*anchoring.IssueResult, error)
	Revoke(ctx context.Context, identifier string, principal identitymodels.Principal) (*anchoring.RevokeResult, error)
	ListMine(ctx context.Context, principal identitymodels.Principal) ([]*certmodels.CertificateRecord, error)
}

// CertificateHandler serves issuance, listing and revocation. Every route
// requires an authenticated institute.
type CertificateHandler struct {
	service AnchoringService
	logger  *slog.Logger
}

func NewCertificateHandler(service AnchoringService, logger *slog.Logger) *CertificateHandler {
	return &CertificateHandler{service: service, logger: logger}
}

func (h *CertificateHandler) Register(r chi.Router) {
	r.Post("/certificates", h.HandleIssue)
	r.Get("/certificates", h.HandleList)
	r.Delete("/certificates/{id}", h.HandleRevoke)
}

type issueResponse struct {
	Message         string                   `json:"message"`
	CertificateHash string                   `json:"certificateHash"`
	TxID            string                   `json:"txId"`
	Certificate     issuedCertificateSummary `json:"certificate"`
}

type issuedCertificateSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type revokeResponse struct {
	Message string                  `json:"message"`
	Result  *anchoring.RevokeResult `json:"revocation"`
}

// HandleIssue handles POST /certificates.
func (h *CertificateHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.PrincipalFrom(ctx)

	var draft certmodels.Draft
	if err := httputil.DecodeJSON(r, &draft); err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Issue(ctx, draft, principal)
	if err != nil {
		h.logger.WarnContext(ctx, "certificate issuance failed",
			"request_id", requestcontext.RequestID(ctx),
			"institute_id", principal.InstituteID,
			"identifier", draft.Identifier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, issueResponse{
		Message:         "certificate issued and anchored",
		CertificateHash: res.Hash,
		TxID:            res.TxID.String(),
		Certificate:     issuedCertificateSummary{ID: res.Identifier, CreatedAt: res.CreatedAt},
	})
}

// HandleList handles GET /certificates.
func (h *CertificateHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListMine(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*certmodels.CertificateRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

// HandleRevoke handles DELETE /certificates/{id}.
func (h *CertificateHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.PrincipalFrom(ctx)
	identifier := chi.URLParam(r, "id")

	res, err := h.service.Revoke(ctx, identifier, principal)
	if err != nil {
		h.logger.WarnContext(ctx, "certificate revocation failed",
			"request_id", requestcontext.RequestID(ctx),
			"institute_id", principal.InstituteID,
			"identifier", identifier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	msg := "certificate revoked"
	if res.AlreadyRevoked {
		msg = "certificate was already revoked"
	}
	httputil.WriteJSON(w, http.StatusOK, revokeResponse{Message: msg, Result: res})
}
