package httptransport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	identitymodels "certledger/internal/identity/models"
	"certledger/internal/platform/middleware"
	"certledger/internal/uniqueid/models"
	"certledger/pkg/platform/httputil"
)

type UniqueIDService interface {
	Mint(ctx context.Context, principal identitymodels.Principal) (*models.UniqueIDRecord, error)
	List(ctx context.Context, principal identitymodels.Principal) ([]*models.UniqueIDRecord, error)
}

type UniqueIDHandler struct {
	service UniqueIDService
}

func NewUniqueIDHandler(service UniqueIDService) *UniqueIDHandler {
	return &UniqueIDHandler{service: service}
}

func (h *UniqueIDHandler) Register(r chi.Router) {
	r.Post("/unique-id/generate", h.HandleGenerate)
	r.Get("/unique-id/list", h.HandleList)
}

// HandleGenerate handles POST /unique-id/generate.
func (h *UniqueIDHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Mint(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// HandleList handles GET /unique-id/list.
func (h *UniqueIDHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*models.UniqueIDRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"uniqueIds": records})
}
