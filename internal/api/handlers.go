package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"llmproxy/internal/auth"
	"llmproxy/internal/chat"
	"llmproxy/internal/costguard"
	"llmproxy/internal/messagestore/models"
	domain "llmproxy/internal/models"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type ChatService interface {
	Stream(ctx context.Context, userID int64, req domain.ChatRequest) (<-chan domain.Event, error)
	Complete(ctx context.Context, userID int64, req domain.ChatRequest) (chat.Reply, error)
}

type HistoryStore interface {
	GetConversationOwner(ctx context.Context, conversationID string) (int64, error)
	GetMessageHistory(ctx context.Context, conversationID string) ([]models.MessageHistoryItem, error)
}

type CostWindow interface {
	Snapshot() costguard.Snapshot
}

type PricingStatus interface {
	Len() int
	FetchedAt() time.Time
	Stale() bool
}

type RoutingStatus interface {
	Entries() int
}

type Handler struct {
	chat     ChatService
	history  HistoryStore
	costs    CostWindow
	pricing  PricingStatus
	routing  RoutingStatus
	limits   Limits
	validate *validator.Validate
}

func NewHandler(chatService ChatService, history HistoryStore, costs CostWindow, pricing PricingStatus, routing RoutingStatus, limits Limits) *Handler {
	return &Handler{
		chat:     chatService,
		history:  history,
		costs:    costs,
		pricing:  pricing,
		routing:  routing,
		limits:   limits,
		validate: validator.New(),
	}
}

// Routes registers the public endpoints. Chat and history routes require a
// bearer token.
func (h *Handler) Routes(mux *http.ServeMux, signingKey string) {
	mux.HandleFunc("GET /health", h.HealthHandler)
	mux.Handle("POST /chat/stream", auth.JWTMiddleware(http.HandlerFunc(h.StreamChatHandler), signingKey))
	mux.Handle("POST /chat/complete", auth.JWTMiddleware(http.HandlerFunc(h.CompleteChatHandler), signingKey))
	mux.Handle("GET /conversations/{id}/messages", auth.JWTMiddleware(http.HandlerFunc(h.HistoryHandler), signingKey))
}

func (h *Handler) StreamChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	events, err := h.chat.Stream(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	broken := false
	for ev := range events {
		if broken {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			logrus.Errorf("Ошибка сериализации события: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logrus.Debugf("Клиент закрыл соединение: %v", err)
			broken = true
			continue
		}
		if err := rc.Flush(); err != nil {
			logrus.Debugf("Не удалось отправить событие: %v", err)
			broken = true
		}
	}
}

func (h *Handler) CompleteChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	reply, err := h.chat.Complete(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrAuthenticationRequired)
		return
	}

	conversationID := r.PathValue("id")
	if err := h.validate.Var(conversationID, "required,uuid"); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "некорректный идентификатор диалога"})
		return
	}

	owner, err := h.history.GetConversationOwner(r.Context(), conversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if owner != userID {
		writeError(w, domain.ErrConversationNotFound)
		return
	}

	items, err := h.history.GetMessageHistory(r.Context(), conversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.MessageHistoryItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        items,
	})
}

type pricingHealth struct {
	Models    int        `json:"models"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	Stale     bool       `json:"stale"`
}

type healthResponse struct {
	Status         string             `json:"status"`
	CostWindow     costguard.Snapshot `json:"cost_window"`
	Pricing        pricingHealth      `json:"pricing"`
	RoutingEntries int                `json:"routing_entries"`
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		CostWindow:     h.costs.Snapshot(),
		RoutingEntries: h.routing.Entries(),
		Pricing: pricingHealth{
			Models: h.pricing.Len(),
			Stale:  h.pricing.Stale(),
		},
	}
	if fetched := h.pricing.FetchedAt(); !fetched.IsZero() {
		resp.Pricing.FetchedAt = &fetched
	}
	if resp.Pricing.Stale {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (int64, domain.ChatRequest, bool) {
	var req domain.ChatRequest

	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrAuthenticationRequired)
		return 0, req, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.limits.maxBodyBytes())
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "тело запроса слишком большое"})
			return 0, req, false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "некорректное тело запроса", Details: err.Error()})
		return 0, req, false
	}

	if err := h.validateChatRequest(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ошибка валидации", Details: err.Error()})
		return 0, req, false
	}
	return userID, req, true
}
