// Package httpapi exposes the chat history and user directory over REST.
// The WebSocket endpoint carries the live protocol; these routes exist for
// dashboards and moderation tooling that only need request/response access.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/parley/chat-server/internal/store"
)

const (
	defaultPageLimit   = 50
	maxPageLimit       = 200
	defaultRecentLimit = 50
	minSearchLength    = 2
)

// MessageStore is the slice of the persistence layer the API reads from.
type MessageStore interface {
	ListMessages(ctx context.Context, page, limit int) ([]store.Message, store.Pagination, error)
	RecentMessages(ctx context.Context, limit int) ([]store.Message, error)
	Conversation(ctx context.Context, userA, userB string, limit int) ([]store.Message, error)
	SearchMessages(ctx context.Context, query string, limit int) ([]store.Message, error)
	DeleteMessage(ctx context.Context, id int64, requester string) error
	OnlineUsers(ctx context.Context) ([]store.User, error)
	GetUser(ctx context.Context, username string) (store.User, error)
}

// Handler serves the /api routes.
type Handler struct {
	store MessageStore
}

// New creates an API handler backed by the given store.
func New(s MessageStore) *Handler {
	return &Handler{store: s}
}

// RegisterRoutes mounts all API routes on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages", h.handleListMessages)
	r.Get("/messages/recent", h.handleRecentMessages)
	r.Get("/messages/search", h.handleSearchMessages)
	r.Delete("/messages/{id}", h.handleDeleteMessage)
	r.Get("/conversations/{userA}/{userB}", h.handleConversation)
	r.Get("/users", h.handleOnlineUsers)
	r.Get("/users/{username}", h.handleGetUser)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := clampLimit(queryInt(r, "limit", defaultPageLimit))
	if page < 1 {
		page = 1
	}

	messages, pagination, err := h.store.ListMessages(r.Context(), page, limit)
	if err != nil {
		log.Printf("httpapi: list messages failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages":   messages,
		"pagination": pagination,
	})
}

func (h *Handler) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(queryInt(r, "limit", defaultRecentLimit))

	messages, err := h.store.RecentMessages(r.Context(), limit)
	if err != nil {
		log.Printf("httpapi: recent messages failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *Handler) handleSearchMessages(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < minSearchLength {
		respondError(w, http.StatusBadRequest, "search query must be at least 2 characters")
		return
	}
	limit := clampLimit(queryInt(r, "limit", defaultRecentLimit))

	messages, err := h.store.SearchMessages(r.Context(), query, limit)
	if err != nil {
		log.Printf("httpapi: search failed query=%q: %v", query, err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	sender := strings.TrimSpace(r.URL.Query().Get("sender"))
	if sender == "" {
		respondError(w, http.StatusBadRequest, "sender query parameter is required")
		return
	}

	switch err := h.store.DeleteMessage(r.Context(), id, sender); {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, store.ErrForbidden):
		respondError(w, http.StatusForbidden, "only the sender may delete a message")
	default:
		log.Printf("httpapi: delete message failed id=%d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "delete failed")
	}
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	userA := chi.URLParam(r, "userA")
	userB := chi.URLParam(r, "userB")
	limit := clampLimit(queryInt(r, "limit", defaultRecentLimit))

	messages, err := h.store.Conversation(r.Context(), userA, userB, limit)
	if err != nil {
		log.Printf("httpapi: conversation failed users=%s,%s: %v", userA, userB, err)
		respondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *Handler) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.OnlineUsers(r.Context())
	if err != nil {
		log.Printf("httpapi: online users failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load users")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	user, err := h.store.GetUser(r.Context(), username)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, user)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	default:
		log.Printf("httpapi: get user failed username=%s: %v", username, err)
		respondError(w, http.StatusInternalServerError, "failed to load user")
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
