package model

import "time"

type MessageKind string

const (
	MessageKindNormal MessageKind = "normal"
	MessageKindSystem MessageKind = "system"
)

// EditWindow is how long after creation the author may still edit a message.
// The store layer enforces the same bound in its UPDATE predicates.
const EditWindow = 10 * time.Minute

// Message is one entry of a room feed. Direct conversations store rows of the
// same shape in their own table; both sides scan into this struct with
// ContainerID set to the room or conversation id.
type Message struct {
	ID             string      `json:"id"`
	ContainerID    string      `json:"container_id"`
	AuthorID       *string     `json:"author_id,omitempty"` // nil for system messages
	Kind           MessageKind `json:"kind"`
	Body           string      `json:"body,omitempty"` // empty when attachment-only
	HasAttachments bool        `json:"has_attachments"`
	HasLinks       bool        `json:"has_links"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`

	Author      *UserPublic     `json:"author,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Links       []LinkPreview   `json:"links,omitempty"`
	Reactions   []ReactionGroup `json:"reactions,omitempty"`
	ReplyCount  int             `json:"reply_count,omitempty"`
}

func (m *Message) Deleted() bool { return m.DeletedAt != nil }

// Tombstone suppresses everything a deleted message must not surface to other
// participants. The row itself stays in place.
func (m *Message) Tombstone(at time.Time) {
	if m.DeletedAt == nil {
		t := at
		m.DeletedAt = &t
	}
	m.Body = ""
	m.HasAttachments = false
	m.HasLinks = false
	m.Attachments = nil
	m.Links = nil
}

// CanEdit reports whether viewer may edit m at time now: author only, normal
// kind, not deleted, within EditWindow of creation.
func (m *Message) CanEdit(viewerID string, now time.Time) bool {
	if m.AuthorID == nil || *m.AuthorID != viewerID {
		return false
	}
	if m.Kind != MessageKindNormal || m.DeletedAt != nil {
		return false
	}
	return now.Sub(m.CreatedAt) <= EditWindow
}

// CanDelete reports whether viewer may soft-delete m: author only, not already
// deleted. There is no time window on deletion.
func (m *Message) CanDelete(viewerID string) bool {
	if m.AuthorID == nil || *m.AuthorID != viewerID {
		return false
	}
	return m.DeletedAt == nil
}

// Reaction is one (message, user, emoji) row. Exactly one of MessageID and
// ThreadMessageID is non-nil; the unique indexes allow at most one row per
// (owner, user, emoji) triple.
type Reaction struct {
	MessageID       *string   `json:"message_id,omitempty"`
	ThreadMessageID *string   `json:"thread_message_id,omitempty"`
	UserID          string    `json:"user_id"`
	Emoji           string    `json:"emoji"`
	CreatedAt       time.Time `json:"created_at"`
}

// OwnerID returns whichever owner id is set.
func (r *Reaction) OwnerID() string {
	if r.MessageID != nil {
		return *r.MessageID
	}
	if r.ThreadMessageID != nil {
		return *r.ThreadMessageID
	}
	return ""
}

// ReactionGroup is the aggregated per-emoji view of a message's reactions.
type ReactionGroup struct {
	Emoji            string   `json:"emoji"`
	Count            int      `json:"count"`
	Users            []string `json:"users"`
	ViewerHasReacted bool     `json:"viewer_has_reacted"`
}
