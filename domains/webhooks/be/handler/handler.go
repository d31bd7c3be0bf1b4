package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/courier/domains/webhooks/be/service"
	"github.com/relaycore/courier/platform/go/httpjson"
	platformlogging "github.com/relaycore/courier/platform/go/logging"
)

// Handler receives carrier delivery status callbacks. The callback URL is
// registered per tenant at the carrier, so the tenant id travels in the path
// rather than in a header the carrier cannot set.
type Handler struct {
	reconciler *service.Reconciler
	logger     *zap.Logger
}

// New constructs a Handler instance.
func New(reconciler *service.Reconciler, logger *zap.Logger) *Handler {
	if reconciler == nil {
		panic("reconciler is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{reconciler: reconciler, logger: logger}
}

// Register mounts the webhook routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/{tenantID}/carrier", h.carrierStatus)
}

// carrierStatus handles the carrier's form-encoded status callback. Any 2xx
// stops the carrier from retrying, so every attributable-or-not callback that
// parses ends in 204.
func (h *Handler) carrierStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid tenant id", err.Error())
		return
	}

	if err := r.ParseForm(); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid callback body", err.Error())
		return
	}

	cb := service.Callback{
		ExternalID: r.PostFormValue("MessageSid"),
		Status:     r.PostFormValue("MessageStatus"),
		ErrorCode:  r.PostFormValue("ErrorCode"),
	}

	_, err = h.reconciler.Process(r.Context(), tenantID, cb)
	switch {
	case errors.Is(err, service.ErrInvalidCallback):
		httpjson.Error(w, http.StatusBadRequest, "Invalid callback", err.Error())
		return
	case err != nil:
		platformlogging.FromRequest(r, h.logger).Error("process carrier callback", zap.Error(err))
		httpjson.Error(w, http.StatusInternalServerError, "Internal error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
