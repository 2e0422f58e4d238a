// Package api exposes Relay's CRUD surface over HTTP JSON: user login
// (find-or-create), chat creation and listing, and message history.
// Message sends delegate to the broker so REST submissions fan out to live
// WebSocket subscribers exactly like WebSocket submissions do.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/relay/chat-app/internal/broker"
	"github.com/relay/chat-app/internal/protocol"
	"github.com/relay/chat-app/internal/store"
)

const requestTimeout = 5 * time.Second

// Handler serves the HTTP API.
type Handler struct {
	store  *store.Store
	broker *broker.Broker
}

// New creates an API handler backed by the given store and broker.
func New(st *store.Store, b *broker.Broker) *Handler {
	return &Handler{store: st, broker: b}
}

// Register mounts all API routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", h.login)
	mux.HandleFunc("GET /api/users", h.listUsers)
	mux.HandleFunc("POST /api/chats", h.createChat)
	mux.HandleFunc("GET /api/chats", h.listChats)
	mux.HandleFunc("GET /api/chats/{id}/messages", h.chatMessages)
	mux.HandleFunc("POST /api/chats/{id}/messages", h.postMessage)
	mux.HandleFunc("GET /api/chats/{id}/typing", h.typers)
}

// login finds a user by username, creating it on first login. There is no
// password or token; callers identify themselves by user id afterwards.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "username is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	user, err := h.store.UserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		user, err = h.store.CreateUser(ctx, req.Username)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	users, err := h.store.ListUsers(ctx)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) createChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           *string `json:"name"`
		ParticipantIDs []int64 `json:"participant_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if len(req.ParticipantIDs) < 2 {
		writeError(w, http.StatusBadRequest, "bad_request", "at least 2 participants are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	chat, err := h.store.CreateChat(ctx, req.Name, req.ParticipantIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

// listChats returns the chats for ?user_id=, each with last message and
// participants.
func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id query parameter is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	chats, err := h.store.ChatsForUser(ctx, userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) chatMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	// Existence check so an unknown chat is a 404, not an empty list.
	if _, err := h.store.GetChat(ctx, chatID); err != nil {
		writeStoreError(w, err)
		return
	}

	messages, err := h.store.ChatMessages(ctx, chatID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// postMessage persists a message through the broker, so live subscribers
// receive it immediately.
func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID int64  `json:"user_id"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id and text are required")
		return
	}
	if err := protocol.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msg, err := h.broker.SubmitMessage(ctx, chatID, req.UserID, req.Text)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// typers returns the chat's current typing set — the initial read clients
// perform before attaching a typing stream.
func (h *Handler) typers(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ChatID  int64   `json:"chat_id"`
		UserIDs []int64 `json:"user_ids"`
	}{ChatID: chatID, UserIDs: h.broker.Typers(chatID)})
}

// pathID parses the {id} path segment, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid chat id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{Error: struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message}})
}

// writeStoreError maps store errors to HTTP statuses: ErrNotFound is a 404,
// everything else a 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "referenced resource does not exist")
		return
	}
	log.Printf("[api] store error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
