package model

import "time"

// Thread создаётся лениво при первом ответе на корневое сообщение.
// root_message_id уникален; reply_count денормализован для списков.
type Thread struct {
	ID            string     `json:"id"`
	RootMessageID string     `json:"root_message_id"`
	ReplyCount    int        `json:"reply_count"`
	LastReplyAt   *time.Time `json:"last_reply_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ThreadMessage — ответ в треде. Правила редактирования/удаления/реакций те же,
// что у Message; вложения и превью ссылок в тредах не поддерживаются.
type ThreadMessage struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"thread_id"`
	AuthorID  *string     `json:"author_id,omitempty"`
	Kind      MessageKind `json:"kind"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`

	Author    *UserPublic     `json:"author,omitempty"`
	Reactions []ReactionGroup `json:"reactions,omitempty"`
}

// CanEdit — те же правила, что Message.CanEdit.
func (m *ThreadMessage) CanEdit(viewerID string, now time.Time) bool {
	if m.AuthorID == nil || *m.AuthorID != viewerID {
		return false
	}
	if m.Kind != MessageKindNormal || m.DeletedAt != nil {
		return false
	}
	return now.Sub(m.CreatedAt) <= EditWindow
}

// CanDelete — автор и ещё не удалено.
func (m *ThreadMessage) CanDelete(viewerID string) bool {
	if m.AuthorID == nil || *m.AuthorID != viewerID {
		return false
	}
	return m.DeletedAt == nil
}
