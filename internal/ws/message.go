package ws

import (
	"time"

	"github.com/campushub/internal/feed"
	"github.com/campushub/internal/model"
	"github.com/campushub/internal/notify"
)

// CommandType — команды клиента.
type CommandType string

const (
	CmdOpenContainer  CommandType = "open_container"
	CmdCloseContainer CommandType = "close_container"
	CmdLoadOlder      CommandType = "load_older"
	CmdSendMessage    CommandType = "send_message"
	CmdEditMessage    CommandType = "edit_message"
	CmdDeleteMessage  CommandType = "delete_message"
	CmdToggleReaction CommandType = "toggle_reaction"
	CmdOpenThread     CommandType = "open_thread"
	CmdCloseThread    CommandType = "close_thread"
	CmdThreadReply    CommandType = "thread_reply"
	CmdEditReply      CommandType = "edit_reply"
	CmdDeleteReply    CommandType = "delete_reply"
	CmdMarkRead       CommandType = "mark_read"
)

// EventType — события сервера.
type EventType string

const (
	EventPage            EventType = "page"
	EventMessageAdded    EventType = "message_added"
	EventMessageUpdated  EventType = "message_updated"
	EventReactions       EventType = "reactions_updated"
	EventThread          EventType = "thread"
	EventThreadClosed    EventType = "thread_closed"
	EventReplyAdded      EventType = "thread_reply_added"
	EventReplyUpdated    EventType = "thread_reply_updated"
	EventThreadReactions EventType = "thread_reactions_updated"
	EventNotification    EventType = "notification"
	EventError           EventType = "error"
)

// Виды контейнеров.
const (
	KindRoom         = "room"
	KindConversation = "conversation"
)

// AttachmentIn — описание уже загруженного файла (storage_ref выдаёт
// upload-эндпоинт) в команде send_message.
type AttachmentIn struct {
	StorageRef string `json:"storage_ref"`
	Mime       string `json:"mime,omitempty"`
	Width      *int   `json:"width,omitempty"`
	Height     *int   `json:"height,omitempty"`
}

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type        CommandType    `json:"type"`
	ContainerID string         `json:"container_id,omitempty"`
	Kind        string         `json:"kind,omitempty"` // room | conversation
	Body        string         `json:"body,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
	ReplyID     string         `json:"reply_id,omitempty"`
	Emoji       string         `json:"emoji,omitempty"`
	Attachments []AttachmentIn `json:"attachments,omitempty"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// PagePayload — страница истории. Older=true — догруженная старая страница,
// false — начальная (новейшая).
type PagePayload struct {
	ContainerID string          `json:"container_id"`
	Messages    []model.Message `json:"messages"`
	HasMore     bool            `json:"has_more"`
	Older       bool            `json:"older,omitempty"`
}

// MessagePayload — добавленное или изменённое сообщение ленты.
type MessagePayload struct {
	ContainerID string         `json:"container_id"`
	Message     *model.Message `json:"message"`
}

// ReactionsPayload — свежая агрегация реакций сообщения.
type ReactionsPayload struct {
	ContainerID string                `json:"container_id"`
	MessageID   string                `json:"message_id"`
	Groups      []model.ReactionGroup `json:"groups"`
}

// ThreadPayload — открытый тред целиком.
type ThreadPayload struct {
	Thread  model.Thread          `json:"thread"`
	Replies []model.ThreadMessage `json:"replies"`
}

// ThreadClosedPayload — подтверждение закрытия треда: представление снято,
// подписка освобождена.
type ThreadClosedPayload struct {
	ThreadID string `json:"thread_id"`
}

// ReplyPayload — добавленный или изменённый ответ треда.
type ReplyPayload struct {
	ThreadID string               `json:"thread_id"`
	Reply    *model.ThreadMessage `json:"reply"`
}

// ThreadReactionsPayload — свежая агрегация реакций ответа треда.
type ThreadReactionsPayload struct {
	ThreadID string                `json:"thread_id"`
	ReplyID  string                `json:"reply_id"`
	Groups   []model.ReactionGroup `json:"groups"`
}

// Интерфейсные проверки: сессия — и представления, и приёмник реконсилера.
var (
	_ feed.Views      = (*Session)(nil)
	_ feed.Sink       = (*Session)(nil)
	_ notify.Notifier = (*Session)(nil)
)
