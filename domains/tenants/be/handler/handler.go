package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/courier/domains/tenants/be/service"
	"github.com/relaycore/courier/platform/go/httpjson"
	platformlogging "github.com/relaycore/courier/platform/go/logging"
	"github.com/relaycore/courier/platform/go/tenant"
)

// Handler exposes the tenant registry's administrative surface.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the registry routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/tenants", h.list)
	r.Post("/tenants", h.onboard)
	r.Get("/tenants/{tenantID}/descriptor", h.resolve)
	r.Post("/tenants/{tenantID}/suspend", h.suspend)
	r.Post("/tenants/{tenantID}/reactivate", h.reactivate)
}

type tenantResponse struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Status    string    `json:"status"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Database  string    `json:"database"`
	CreatedAt time.Time `json:"createdAt"`
}

func toResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		ID:        t.ID,
		Slug:      t.Slug,
		Status:    string(t.Status),
		Host:      t.Host,
		Port:      t.Port,
		Database:  t.Database,
		CreatedAt: t.CreatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, r, err, "list tenants")
		return
	}
	items := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, toResponse(t))
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"items": items})
}

type onboardRequest struct {
	Slug           string `json:"slug"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Database       string `json:"database"`
	CredentialsRef string `json:"credentialsRef"`
}

func (h *Handler) onboard(w http.ResponseWriter, r *http.Request) {
	var req onboardRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	created, err := h.svc.Onboard(r.Context(), service.OnboardInput{
		Slug:           req.Slug,
		Host:           req.Host,
		Port:           req.Port,
		Database:       req.Database,
		CredentialsRef: req.CredentialsRef,
	})
	if err != nil {
		h.fail(w, r, err, "onboard tenant")
		return
	}
	httpjson.Write(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid tenant id", err.Error())
		return
	}

	desc, err := h.svc.Resolve(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, "resolve tenant")
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"tenantId": desc.TenantID,
		"slug":     desc.Slug,
		"host":     desc.Host,
		"port":     desc.Port,
		"database": desc.Database,
	})
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, tenant.StatusSuspended)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, tenant.StatusActive)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, status tenant.Status) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid tenant id", err.Error())
		return
	}

	var t service.Tenant
	if status == tenant.StatusSuspended {
		t, err = h.svc.Suspend(r.Context(), id)
	} else {
		t, err = h.svc.Reactivate(r.Context(), id)
	}
	if err != nil {
		h.fail(w, r, err, "set tenant status")
		return
	}
	httpjson.Write(w, http.StatusOK, toResponse(t))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	logger := platformlogging.FromRequest(r, h.logger)

	switch {
	case errors.Is(err, service.ErrNotFound):
		httpjson.Error(w, http.StatusNotFound, "Tenant not found", "")
	case errors.Is(err, service.ErrSuspended):
		httpjson.Error(w, http.StatusForbidden, "Tenant suspended", "")
	case errors.Is(err, service.ErrConflictSlug):
		httpjson.Error(w, http.StatusConflict, "Tenant slug already exists", "")
	case errors.Is(err, service.ErrInvalidInput):
		httpjson.Error(w, http.StatusBadRequest, "Invalid tenant input", err.Error())
	default:
		logger.Error(op, zap.Error(err))
		httpjson.Error(w, http.StatusInternalServerError, "Internal error", "")
	}
}
