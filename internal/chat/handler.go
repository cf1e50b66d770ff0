// Package chat provides the HTTP and WebSocket surface of the streaming
// engine: starting and stopping runs, listing conversations, and the two
// socket endpoints subscribers attach to.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parleyai/parley/internal/api"
	"github.com/parleyai/parley/internal/domain"
	"github.com/parleyai/parley/internal/identity"
	"github.com/parleyai/parley/internal/store"
	"github.com/parleyai/parley/internal/stream"
)

// maxRequestBodySize bounds chat request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Handler handles chat requests.
type Handler struct {
	repo          store.Repository
	registry      *stream.Registry
	driver        *stream.Driver
	rateLimiter   *RateLimiter
	defaultModel  string
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// HandlerConfig carries the handler's collaborators.
type HandlerConfig struct {
	Repo          store.Repository
	Registry      *stream.Registry
	Driver        *stream.Driver
	RateLimiter   *RateLimiter
	DefaultModel  string
	AllowedOrigin string
	IsDev         bool
	Logger        *slog.Logger
}

// NewHandler creates a chat handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		repo:          cfg.Repo,
		registry:      cfg.Registry,
		driver:        cfg.Driver,
		rateLimiter:   cfg.RateLimiter,
		defaultModel:  cfg.DefaultModel,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		logger:        cfg.Logger,
	}
}

// RegisterRoutes registers chat routes (requires the identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chats", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/chat/stop", h.HandleStop)
		r.Get("/running", h.HandleRunning)
		r.Get("/ws", h.HandleWS)
		r.Get("/ws-all", h.HandleWSAll)
		r.Get("/", h.HandleListConversations)
		r.Get("/{conversationID}", h.HandleGetConversation)
		r.Get("/{conversationID}/messages", h.HandleListMessages)
	})
}

// ChatRequest is the body of POST /chats/chat. Content carries structured
// parts; Message is a plain-text shortcut for clients that send only text.
type ChatRequest struct {
	Content []json.RawMessage `json:"content,omitempty"`
	Message string            `json:"message,omitempty"`
	Model   string            `json:"model,omitempty"`
}

func (req *ChatRequest) parts() ([]domain.Part, error) {
	if len(req.Content) == 0 {
		if req.Message == "" {
			return nil, fmt.Errorf("message or content is required")
		}
		return []domain.Part{domain.TextPart{Text: req.Message}}, nil
	}

	parts := make([]domain.Part, 0, len(req.Content))
	for i, raw := range req.Content {
		p, err := domain.DecodePart(raw)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// HandleChat handles POST /chats/chat. It starts the run in the background
// and returns 202 immediately; the stream itself is delivered over the
// socket endpoints, never in this response.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		api.Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	parts, err := req.parts()
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.resolveConversation(r, user, &req, parts)
	if err != nil {
		api.Error(w, statusFor(err), err.Error())
		return
	}

	sess := h.registry.GetOrCreate(conv.ID, userID)
	started := sess.Start(func(ctx context.Context) error {
		return h.driver.Run(ctx, sess, conv, user, parts)
	})
	if !started {
		api.JSON(w, http.StatusConflict, map[string]string{
			"status":          "already_running",
			"conversation_id": conv.ID,
		})
		return
	}

	h.logger.Info("chat started",
		"user_id", userID,
		"conversation_id", conv.ID,
		"model", conv.Model,
	)
	api.JSON(w, http.StatusAccepted, map[string]string{
		"status":          "started",
		"conversation_id": conv.ID,
	})
}

// HandleStop handles POST /chats/chat/stop.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		api.Error(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	sess := h.registry.Get(conversationID)
	if sess == nil || sess.UserID != userID || !sess.Stop() {
		api.JSON(w, http.StatusOK, map[string]string{
			"status":          "not_running",
			"conversation_id": conversationID,
		})
		return
	}

	h.logger.Info("chat stopped", "user_id", userID, "conversation_id", conversationID)
	api.JSON(w, http.StatusOK, map[string]string{
		"status":          "stopped",
		"conversation_id": conversationID,
	})
}

// HandleRunning handles GET /chats/running.
func (h *Handler) HandleRunning(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	api.JSON(w, http.StatusOK, map[string][]string{
		"conversation_ids": h.registry.Running(userID),
	})
}

// HandleListConversations handles GET /chats.
func (h *Handler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	convs, err := h.repo.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations", "error", err, "user_id", userID)
		api.Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// HandleGetConversation handles GET /chats/{conversationID}.
func (h *Handler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}
	api.JSON(w, http.StatusOK, conv)
}

// messageResponse is the wire form of one stored message.
type messageResponse struct {
	ID        string            `json:"id"`
	Parts     []json.RawMessage `json:"parts"`
	IsRequest bool              `json:"is_request"`
	CreatedAt time.Time         `json:"created_at"`
}

// HandleListMessages handles GET /chats/{conversationID}/messages.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.ownedConversation(w, r)
	if !ok {
		return
	}

	msgs, err := h.repo.ListMessages(r.Context(), conv.ID)
	if err != nil {
		h.logger.Error("list messages", "error", err, "conversation_id", conv.ID)
		api.Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		parts := make([]json.RawMessage, 0, len(m.Parts))
		for _, p := range m.Parts {
			raw, err := domain.EncodePart(p)
			if err != nil {
				h.logger.Warn("encode part", "error", err, "message_id", m.ID)
				continue
			}
			parts = append(parts, raw)
		}
		out = append(out, messageResponse{
			ID:        m.ID,
			Parts:     parts,
			IsRequest: m.IsRequest,
			CreatedAt: m.CreatedAt,
		})
	}
	api.JSON(w, http.StatusOK, map[string]any{"messages": out})
}

// ownedConversation loads the path conversation and enforces ownership.
func (h *Handler) ownedConversation(w http.ResponseWriter, r *http.Request) (*domain.Conversation, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	conversationID := chi.URLParam(r, "conversationID")
	conv, err := h.repo.GetConversation(r.Context(), conversationID)
	if err != nil {
		h.logger.Error("get conversation", "error", err, "conversation_id", conversationID)
		api.Error(w, http.StatusInternalServerError, "failed to load conversation")
		return nil, false
	}
	if conv == nil {
		api.Error(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if conv.UserID != userID {
		api.Error(w, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return conv, true
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func statusFor(err error) int {
	if re, ok := err.(*requestError); ok {
		return re.status
	}
	return http.StatusInternalServerError
}

// resolveConversation loads the target conversation, or creates one when the
// request names none. New conversations are titled from the first text part.
func (h *Handler) resolveConversation(r *http.Request, user *domain.User, req *ChatRequest, parts []domain.Part) (*domain.Conversation, error) {
	conversationID := r.URL.Query().Get("conversation_id")

	if conversationID != "" {
		conv, err := h.repo.GetConversation(r.Context(), conversationID)
		if err != nil {
			return nil, &requestError{http.StatusInternalServerError, "failed to load conversation"}
		}
		if conv == nil {
			return nil, &requestError{http.StatusNotFound, "conversation not found"}
		}
		if conv.UserID != user.UserID {
			return nil, &requestError{http.StatusForbidden, "forbidden"}
		}
		if req.Model != "" && req.Model != conv.Model {
			conv.Model = req.Model
		}
		return conv, nil
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}
	now := time.Now()
	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    user.UserID,
		Title:     domain.TitleFromParts(parts),
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateConversation(r.Context(), conv); err != nil {
		return nil, &requestError{http.StatusInternalServerError, "failed to create conversation"}
	}
	return conv, nil
}
