package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campushub/internal/feed"
	"github.com/campushub/internal/middleware"
	"github.com/campushub/internal/model"
	"github.com/campushub/internal/repository"
)

// MessageHandler — REST-чтение истории. Запись и live-обновления идут через WebSocket;
// эти ручки нужны для первоначальной загрузки и клиентов без ws.
type MessageHandler struct {
	roomReader *feed.Reader
	convReader *feed.Reader
	rooms      *repository.RoomRepository
	convs      *repository.ConversationRepository
	threads    *repository.ThreadRepository
}

func NewMessageHandler(roomReader, convReader *feed.Reader, rooms *repository.RoomRepository, convs *repository.ConversationRepository, threads *repository.ThreadRepository) *MessageHandler {
	return &MessageHandler{roomReader: roomReader, convReader: convReader, rooms: rooms, convs: convs, threads: threads}
}

type pageResponse struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"has_more"`
}

// parseBefore читает курсор before (RFC3339Nano) из query; nil — первая страница.
func parseBefore(r *http.Request) (*time.Time, bool) {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// GetRoomMessages возвращает страницу истории комнаты (без before — самая свежая).
func (h *MessageHandler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "id")
	ok, err := h.rooms.IsMember(r.Context(), roomID, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	before, ok := parseBefore(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid before cursor")
		return
	}
	msgs, hasMore, err := h.roomReader.Page(r.Context(), roomID, before, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Messages: msgs, HasMore: hasMore})
}

// GetConversationMessages возвращает страницу истории личной переписки.
func (h *MessageHandler) GetConversationMessages(w http.ResponseWriter, r *http.Request) {
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
	before, ok := parseBefore(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid before cursor")
		return
	}
	msgs, hasMore, err := h.convReader.Page(r.Context(), conv.ID, before, currentUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Messages: msgs, HasMore: hasMore})
}

type threadResponse struct {
	Thread  model.Thread          `json:"thread"`
	Replies []model.ThreadMessage `json:"replies"`
}

// GetThread возвращает тред по корневому сообщению (без создания: нет треда — 404).
func (h *MessageHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	currentUserID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageId")

	msg, err := h.roomReader.GetFull(r.Context(), messageID, currentUserID)
	if errors.Is(err, repository.ErrNotFound) {
		msg, err = h.convReader.GetFull(r.Context(), messageID, currentUserID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if ok, err := h.canRead(r, msg.ContainerID, currentUserID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check access")
		return
	} else if !ok {
		writeError(w, http.StatusForbidden, "no access")
		return
	}

	thread, err := h.threads.GetByRoot(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "thread not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get thread")
		return
	}
	replies, err := h.threads.ListMessages(r.Context(), thread.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load replies")
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{Thread: *thread, Replies: replies})
}

// canRead проверяет доступ к контейнеру: членство в комнате либо участие в переписке.
func (h *MessageHandler) canRead(r *http.Request, containerID, userID string) (bool, error) {
	ok, err := h.rooms.IsMember(r.Context(), containerID, userID)
	if err != nil || ok {
		return ok, err
	}
	conv, err := h.convs.GetByID(r.Context(), containerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return conv.HasParticipant(userID), nil
}
