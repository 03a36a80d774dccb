package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certledger/internal/identity/models"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

type IdentityService interface {
	Register(ctx context.Context, reg models.Registration) (*models.Institute, error)
	Authenticate(ctx context.Context, instituteID, secret string) (*models.Session, error)
}

// InstituteHandler serves registration and login.
type InstituteHandler struct {
	service IdentityService
	logger  *slog.Logger
}

func NewInstituteHandler(service IdentityService, logger *slog.Logger) *InstituteHandler {
	return &InstituteHandler{service: service, logger: logger}
}

func (h *InstituteHandler) Register(r chi.Router) {
	r.Post("/institutes/register", h.HandleRegister)
	r.Post("/institutes/login", h.HandleLogin)
}

type loginRequest struct {
	InstituteID string `json:"instituteId"`
	Password    string `json:"password"`
}

type registerResponse struct {
	Message   string            `json:"message"`
	Institute *models.Institute `json:"institute"`
}

// HandleRegister handles POST /institutes/register.
func (h *InstituteHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.Registration
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	inst, err := h.service.Register(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "institute registration failed",
			"request_id", requestcontext.RequestID(ctx),
			"institute_id", req.InstituteID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		Message:   "institute registered successfully",
		Institute: inst,
	})
}

// HandleLogin handles POST /institutes/login.
func (h *InstituteHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.service.Authenticate(r.Context(), req.InstituteID, req.Password)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}
