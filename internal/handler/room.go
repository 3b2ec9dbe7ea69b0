package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campushub/internal/handler/validate"
	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/middleware"
	"github.com/campushub/internal/model"
	"github.com/campushub/internal/repository"
)

// SystemMessages — запись системных сообщений о членстве в ленту комнаты.
// Реализация — repository.MessageRepository.
type SystemMessages interface {
	Create(ctx context.Context, m *model.Message) error
}

type RoomHandler struct {
	rooms    *repository.RoomRepository
	users    *repository.UserRepository
	messages SystemMessages
	name     func(ctx context.Context, userID string) (string, error)
}

func NewRoomHandler(rooms *repository.RoomRepository, users *repository.UserRepository, messages SystemMessages) *RoomHandler {
	return &RoomHandler{rooms: rooms, users: users, messages: messages, name: users.DisplayName}
}

// announceMembership пишет системное сообщение (kind=system, без автора) в
// ленту комнаты: открытые представления получат его через ленту изменений,
// диспетчер уведомлений такие сообщения пропускает. Ошибка только логируется,
// членство к этому моменту уже изменилось.
func (h *RoomHandler) announceMembership(ctx context.Context, roomID, userID, action string) {
	name, err := h.name(ctx, userID)
	if err != nil {
		logger.Errorf("membership announce name %s: %v", userID, err)
		name = "Кто-то"
	}
	m := &model.Message{
		ID:          uuid.New().String(),
		ContainerID: roomID,
		Kind:        model.MessageKindSystem,
		Body:        name + " " + action,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.messages.Create(ctx, m); err != nil {
		logger.Errorf("membership announce room %s: %v", roomID, err)
	}
}

type CreateRoomRequest struct {
	Name  string `json:"name" validate:"required,min=1,max=120"`
	Topic string `json:"topic" validate:"max=500"`
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if errs := validate.Struct(req); errs != nil {
		writeError(w, http.StatusBadRequest, validate.Message(errs))
		return
	}

	currentUserID := middleware.GetUserID(r.Context())
	now := time.Now().UTC()
	room := &model.Room{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Topic:     req.Topic,
		CreatedBy: currentUserID,
		CreatedAt: now,
	}
	if err := h.rooms.Create(r.Context(), room); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	member := &model.RoomMember{RoomID: room.ID, UserID: currentUserID, Role: "owner", JoinedAt: now}
	if err := h.rooms.AddMember(r.Context(), member); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// GetUserRooms возвращает комнаты, в которых состоит текущий пользователь.
func (h *RoomHandler) GetUserRooms(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	ids, err := h.rooms.RoomIDsOf(r.Context(), currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	rooms := make([]model.Room, 0, len(ids))
	for _, id := range ids {
		room, err := h.rooms.GetByID(r.Context(), id)
		if err != nil {
			continue
		}
		rooms = append(rooms, *room)
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "id")
	if _, err := h.rooms.GetByID(r.Context(), roomID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get room")
		return
	}
	// Повторный join — no-op без системного сообщения.
	already, err := h.rooms.IsMember(r.Context(), roomID, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if already {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	member := &model.RoomMember{RoomID: roomID, UserID: currentUserID, Role: "member", JoinedAt: time.Now().UTC()}
	if err := h.rooms.AddMember(r.Context(), member); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to join room")
		return
	}
	h.announceMembership(r.Context(), roomID, currentUserID, "присоединяется к комнате")
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "id")
	member, err := h.rooms.IsMember(r.Context(), roomID, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if err := h.rooms.RemoveMember(r.Context(), roomID, currentUserID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to leave room")
		return
	}
	if member {
		h.announceMembership(r.Context(), roomID, currentUserID, "покидает комнату")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandler) GetMembers(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	currentUserID := middleware.GetUserID(r.Context())
	ok, err := h.rooms.IsMember(r.Context(), roomID, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	ids, err := h.rooms.MemberIDs(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	members := make([]model.UserPublic, 0, len(ids))
	for _, id := range ids {
		user, err := h.users.GetByID(r.Context(), id)
		if err != nil {
			continue
		}
		members = append(members, user.ToPublic())
	}
	writeJSON(w, http.StatusOK, members)
}
