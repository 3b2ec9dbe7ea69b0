package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campushub/internal/handler/validate"
	"github.com/campushub/internal/middleware"
	"github.com/campushub/internal/repository"
)

type ConversationHandler struct {
	convs *repository.ConversationRepository
	users *repository.UserRepository
}

func NewConversationHandler(convs *repository.ConversationRepository, users *repository.UserRepository) *ConversationHandler {
	return &ConversationHandler{convs: convs, users: users}
}

type OpenConversationRequest struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
}

// Open находит или создаёт личную переписку с указанным пользователем.
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		writeError(w, http.StatusBadRequest, validate.Message(errs))
		return
	}

	currentUserID := middleware.GetUserID(r.Context())
	if req.UserID == currentUserID {
		writeError(w, http.StatusBadRequest, "cannot open conversation with yourself")
		return
	}
	if _, err := h.users.GetByID(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	conv, err := h.convs.GetOrCreate(r.Context(), currentUserID, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	conv, err := h.convs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	if !conv.HasParticipant(currentUserID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// List возвращает переписки текущего пользователя, свежие сверху.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	convs, err := h.convs.ListFor(r.Context(), currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}
