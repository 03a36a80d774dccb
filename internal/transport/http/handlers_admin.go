package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	identitymodels "certledger/internal/identity/models"
	"certledger/internal/saga"
	dErrors "certledger/pkg/domain-errors"
	audit "certledger/pkg/platform/audit"
	"certledger/pkg/platform/httputil"
)

type InconsistentSagaLister interface {
	ListInconsistent(ctx context.Context) ([]*saga.Record, error)
}

type InstituteDeactivator interface {
	Deactivate(ctx context.Context, instituteID string) (*identitymodels.Institute, error)
}

type AuditReader interface {
	ListByInstitute(ctx context.Context, instituteID string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AdminHandler serves operator routes mounted under /admin.
type AdminHandler struct {
	sagas      InconsistentSagaLister
	institutes InstituteDeactivator
	audit      AuditReader
	logger     *slog.Logger
}

func NewAdminHandler(sagas InconsistentSagaLister, institutes InstituteDeactivator, auditReader AuditReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{sagas: sagas, institutes: institutes, audit: auditReader, logger: logger}
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/sagas/inconsistent", h.HandleInconsistentSagas)
	r.Post("/institutes/{id}/deactivate", h.HandleDeactivate)
	r.Get("/audit", h.HandleRecentAudit)
	r.Get("/audit/{instituteId}", h.HandleAudit)
}

// HandleInconsistentSagas handles GET /admin/sagas/inconsistent.
func (h *AdminHandler) HandleInconsistentSagas(w http.ResponseWriter, r *http.Request) {
	records, err := h.sagas.ListInconsistent(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*saga.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"sagas": records, "count": len(records)})
}

// HandleDeactivate handles POST /admin/institutes/{id}/deactivate.
func (h *AdminHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	inst, err := h.institutes.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

// HandleAudit handles GET /admin/audit/{instituteId}.
func (h *AdminHandler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	events, err := h.audit.ListByInstitute(r.Context(), chi.URLParam(r, "instituteId"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list audit events", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// HandleRecentAudit handles GET /admin/audit?limit=N.
func (h *AdminHandler) HandleRecentAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}
	events, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list recent audit events", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
