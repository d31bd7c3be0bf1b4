package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relaycore/courier/domains/conversations/be/service"
	"github.com/relaycore/courier/platform/go/httpjson"
	platformlogging "github.com/relaycore/courier/platform/go/logging"
	"github.com/relaycore/courier/platform/go/tenant"
)

// Handler exposes the tenant-scoped conversation store. Every route expects
// the tenant middleware to have resolved a descriptor into the context.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("conversations service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the conversation routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/conversations", h.create)
	r.Get("/conversations/{conversationID}", h.get)
	r.Post("/conversations/{conversationID}/messages", h.appendMessage)
	r.Get("/messages/{messageID}", h.getMessage)
	r.Get("/messages/{messageID}/reactions", h.listReactions)
	r.Post("/messages/{messageID}/reactions", h.addReaction)
	r.Delete("/messages/{messageID}/reactions", h.removeReaction)
}

type conversationResponse struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageResponse struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Direction      string    `json:"direction"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient,omitempty"`
	Body           string    `json:"body"`
	DeliveryState  string    `json:"deliveryState"`
	ExternalID     string    `json:"externalId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toMessageResponse(m service.Message) messageResponse {
	return messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Direction:      string(m.Direction),
		Channel:        string(m.Channel),
		Recipient:      m.Recipient,
		Body:           m.Body,
		DeliveryState:  string(m.DeliveryState),
		ExternalID:     m.ExternalID,
		CreatedAt:      m.CreatedAt,
	}
}

type createConversationRequest struct {
	Subject string `json:"subject"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(r)
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}

	var req createConversationRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	c, err := h.svc.CreateConversation(r.Context(), tenantID, req.Subject)
	if err != nil {
		h.fail(w, r, err, "create conversation")
		return
	}
	httpjson.Write(w, http.StatusCreated, conversationResponse{ID: c.ID, Subject: c.Subject, CreatedAt: c.CreatedAt})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(r)
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid conversation id", err.Error())
		return
	}

	c, msgs, err := h.svc.GetConversation(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err, "get conversation")
		return
	}

	items := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, toMessageResponse(m))
	}
	httpjson.Write(w, http.StatusOK, map[string]any{
		"conversation": conversationResponse{ID: c.ID, Subject: c.Subject, CreatedAt: c.CreatedAt},
		"messages":     items,
	})
}

type appendMessageRequest struct {
	Direction  string `json:"direction"`
	Channel    string `json:"channel"`
	Recipient  string `json:"recipient"`
	Body       string `json:"body"`
	ExternalID string `json:"externalId"`
}

func (h *Handler) appendMessage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(r)
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid conversation id", err.Error())
		return
	}

	var req appendMessageRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	m, err := h.svc.AppendMessage(r.Context(), tenantID, service.AppendInput{
		ConversationID: conversationID,
		Direction:      service.Direction(req.Direction),
		Channel:        service.Channel(req.Channel),
		Recipient:      req.Recipient,
		Body:           req.Body,
		ExternalID:     req.ExternalID,
	})
	if err != nil {
		h.fail(w, r, err, "append message")
		return
	}
	httpjson.Write(w, http.StatusCreated, toMessageResponse(m))
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(r)
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid message id", err.Error())
		return
	}

	m, err := h.svc.GetMessage(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, err, "get message")
		return
	}
	httpjson.Write(w, http.StatusOK, toMessageResponse(m))
}

type reactionRequest struct {
	AuthorID uuid.UUID `json:"authorId"`
	Emoji    string    `json:"emoji"`
}

func (h *Handler) addReaction(w http.ResponseWriter, r *http.Request) {
	h.mutateReaction(w, r, h.svc.AddReaction, http.StatusCreated, "add reaction")
}

func (h *Handler) removeReaction(w http.ResponseWriter, r *http.Request) {
	h.mutateReaction(w, r, h.svc.RemoveReaction, http.StatusNoContent, "remove reaction")
}

func (h *Handler) mutateReaction(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, tenantID, messageID, authorID uuid.UUID, emoji string) error,
	okStatus int,
	opName string,
) {
	tenantID, ok := tenantFrom(r)
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}
	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid message id", err.Error())
		return
	}

	var req reactionRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.AuthorID == uuid.Nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid reaction", "authorId is required")
		return
	}

	if err := op(r.Context(), tenantID, messageID, req.AuthorID, req.Emoji); err != nil {
		h.fail(w, r, err, opName)
		return
	}
	if okStatus == http.StatusNoContent {
		w.WriteHeader(okStatus)
		return
	}
	httpjson.Write(w, okStatus, map[string]string{"status": "ok"})
}

func (h *Handler) listReactions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(r)
	if !ok {
		httpjson.Error(w, http.StatusBadRequest, "Missing tenant", "")
		return
	}
	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		httpjson.Error(w, http.StatusBadRequest, "Invalid message id", err.Error())
		return
	}

	reactions, err := h.svc.ListReactions(r.Context(), tenantID, messageID)
	if err != nil {
		h.fail(w, r, err, "list reactions")
		return
	}

	type reactionResponse struct {
		AuthorID  uuid.UUID `json:"authorId"`
		Emoji     string    `json:"emoji"`
		CreatedAt time.Time `json:"createdAt"`
	}
	items := make([]reactionResponse, 0, len(reactions))
	for _, re := range reactions {
		items = append(items, reactionResponse{AuthorID: re.AuthorID, Emoji: re.Emoji, CreatedAt: re.CreatedAt})
	}
	httpjson.Write(w, http.StatusOK, map[string]any{"items": items})
}

// tenantFrom pulls the resolved tenant out of the request context.
func tenantFrom(r *http.Request) (uuid.UUID, bool) {
	desc, ok := tenant.FromContext(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	return desc.TenantID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	logger := platformlogging.FromRequest(r, h.logger)

	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		httpjson.Error(w, http.StatusNotFound, "Conversation not found", "")
	case errors.Is(err, service.ErrMessageNotFound):
		httpjson.Error(w, http.StatusNotFound, "Message not found", "")
	case errors.Is(err, service.ErrInvalidInput):
		httpjson.Error(w, http.StatusBadRequest, "Invalid message input", err.Error())
	default:
		logger.Error(op, zap.Error(err))
		httpjson.Error(w, http.StatusInternalServerError, "Internal error", "")
	}
}
