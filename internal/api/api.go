// Package api serves the conversation REST endpoints used by clients to open
// conversations, list them and page through history.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/fitcoach/coachchat/internal/auth"
	"github.com/fitcoach/coachchat/internal/chat"
	"github.com/fitcoach/coachchat/store/conversation"
	"github.com/fitcoach/coachchat/store/message"
	"github.com/fitcoach/coachchat/store/user"
)

const searchLimit = 20

type Handler struct {
	directory *chat.Directory
	messages  message.Store
	users     user.Store
	log       *slog.Logger
}

func NewHandler(directory *chat.Directory, messages message.Store, users user.Store, log *slog.Logger) *Handler {
	return &Handler{
		directory: directory,
		messages:  messages,
		users:     users,
		log:       log,
	}
}

// Register mounts the API on r. Every /api route requires a bearer credential.
func (h *Handler) Register(r *mux.Router, authn *auth.Authenticator) {
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authn.Middleware)
	api.HandleFunc("/conversations", h.createConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", h.history).Methods(http.MethodGet)
	api.HandleFunc("/users/search", h.searchUsers).Methods(http.MethodGet)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.log.Warn("health check write error", "error", err)
	}
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())

	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	if req.ParticipantID == "" {
		http.Error(w, "participantId is required", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == session.UserID {
		http.Error(w, "Cannot open a conversation with yourself", http.StatusBadRequest)
		return
	}

	other, err := h.users.Get(r.Context(), req.ParticipantID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.internalError(w, "look up participant", err)
		return
	}
	if other.TenantID != session.TenantID {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	id, created, err := h.directory.FindOrCreate(r.Context(), session.UserID, other.ID)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidParticipants) {
			http.Error(w, "Invalid participants", http.StatusBadRequest)
			return
		}
		h.internalError(w, "find or create conversation", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, map[string]any{
		"conversationId": id,
		"created":        created,
	})
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())

	summaries, err := h.directory.ForUser(r.Context(), session.UserID)
	if err != nil {
		h.internalError(w, "list conversations", err)
		return
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())
	conversationID := mux.Vars(r)["id"]

	var (
		beforeID int64
		limit    int
		err      error
	)
	q := r.URL.Query()
	if v := q.Get("before"); v != "" {
		if beforeID, err = strconv.ParseInt(v, 10, 64); err != nil || beforeID < 0 {
			http.Error(w, "Invalid before cursor", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}

	member, err := h.directory.IsParticipant(r.Context(), conversationID, session.UserID)
	if err != nil {
		h.internalError(w, "check membership", err)
		return
	}
	if !member {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	msgs, err := h.messages.History(r.Context(), conversationID, beforeID, limit)
	if err != nil {
		h.internalError(w, "load history", err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		h.writeJSON(w, http.StatusOK, []user.User{})
		return
	}

	users, err := h.users.Search(r.Context(), session.TenantID, query, session.UserID, searchLimit)
	if err != nil {
		h.internalError(w, "search users", err)
		return
	}
	if users == nil {
		users = []user.User{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("response write error", "error", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error("Request failed", "op", op, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}
