package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	conversations "github.com/relaycore/courier/domains/conversations/be/service"
	"github.com/relaycore/courier/domains/dispatch/be/queue"
	"github.com/relaycore/courier/domains/dispatch/be/service"
	"github.com/relaycore/courier/platform/go/httpjson"
	platformlogging "github.com/relaycore/courier/platform/go/logging"
	"github.com/relaycore/courier/platform/go/tenant"
)

// Handler exposes the dispatch surface: tenant-scoped sends and analytics.
type Handler struct {
	sender    *service.Sender
	analytics *service.AnalyticsRecorder
	logger    *zap.Logger
}

// New constructs a Handler instance.
func New(sender *service.Sender, analytics *service.AnalyticsRecorder, logger *zap.Logger) *Handler {
	if sender == nil {
		panic("sender is required")
	}
	if analytics == nil {
		panic("analytics recorder is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{sender: sender, analytics: analytics, logger: logger}
}

// Register mounts the tenant-scoped dispatch routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/messages/send", h.send)
	r.Get("/analytics", h.counters)
}

type sendRequest struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient"`
	Body           string    `json:"body"`
}

type sendResponse struct {
	Status    string    `json:"status"`
	MessageID uuid.UUID `json:"messageId"`
	JobID     uuid.UUID `json:"jobId,omitempty"`
	Queue     string    `json:"queue,omitempty"`
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	desc, ok := tenant.FromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}

	var req sendRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	receipt, err := h.sender.Send(r.Context(), desc.TenantID, service.SendInput{
		ConversationID: req.ConversationID,
		Channel:        conversations.Channel(req.Channel),
		Recipient:      req.Recipient,
		Body:           req.Body,
	})
	switch {
	case errors.Is(err, queue.ErrQueueDisabled):
		// Not a failure: the message is stored pending, the channel is just
		// not configured for this deployment.
		httpjson.Write(w, http.StatusConflict, sendResponse{
			Status:    "channel_disabled",
			MessageID: receipt.MessageID,
		})
		return
	case err != nil:
		h.fail(w, r, err, "send message")
		return
	}

	httpjson.Write(w, http.StatusAccepted, sendResponse{
		Status:    "queued",
		MessageID: receipt.MessageID,
		JobID:     receipt.JobID,
		Queue:     string(receipt.Queue),
	})
}

func (h *Handler) counters(w http.ResponseWriter, r *http.Request) {
	desc, ok := tenant.FromContext(r.Context())
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}

	counts, err := h.analytics.Counters(r.Context(), desc.TenantID)
	if err != nil {
		h.fail(w, r, err, "read analytics counters")
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"counters": counts})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	logger := platformlogging.FromRequest(r, h.logger)

	switch {
	case errors.Is(err, conversations.ErrConversationNotFound):
		httpjson.Error(w, http.StatusNotFound, "Conversation not found", "")
	case errors.Is(err, conversations.ErrInvalidInput):
		httpjson.Error(w, http.StatusBadRequest, "Invalid send request", err.Error())
	case errors.Is(err, queue.ErrQueueClosed):
		httpjson.Error(w, http.StatusServiceUnavailable, "Shutting down", "")
	default:
		logger.Error(op, zap.Error(err))
		httpjson.Error(w, http.StatusInternalServerError, "Internal error", "")
	}
}

// AdminHandler exposes operational queue state outside the tenant scope.
type AdminHandler struct {
	router *queue.Router
}

// NewAdmin constructs an AdminHandler.
func NewAdmin(router *queue.Router) *AdminHandler {
	if router == nil {
		panic("queue router is required")
	}
	return &AdminHandler{router: router}
}

// Register mounts the admin routes on r.
func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/queues", h.stats)
}

func (h *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	httpjson.Write(w, http.StatusOK, map[string]any{"queues": h.router.Stats()})
}
