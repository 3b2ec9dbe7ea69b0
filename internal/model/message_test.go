package model

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func normalMessage(authorID string) *Message {
	return &Message{
		ID:          "m-1",
		ContainerID: "room-1",
		AuthorID:    &authorID,
		Kind:        MessageKindNormal,
		Body:        "привет",
		CreatedAt:   base,
	}
}

func TestCanEdit(t *testing.T) {
	deleted := normalMessage("alice")
	delAt := base
	deleted.DeletedAt = &delAt

	system := normalMessage("alice")
	system.Kind = MessageKindSystem

	anon := normalMessage("alice")
	anon.AuthorID = nil

	cases := []struct {
		name   string
		msg    *Message
		viewer string
		now    time.Time
		want   bool
	}{
		{"FreshOwn", normalMessage("alice"), "alice", base.Add(time.Minute), true},
		{"WindowBoundaryInclusive", normalMessage("alice"), "alice", base.Add(EditWindow), true},
		{"PastWindow", normalMessage("alice"), "alice", base.Add(EditWindow + time.Second), false},
		{"Foreign", normalMessage("alice"), "bob", base.Add(time.Minute), false},
		{"System", system, "alice", base.Add(time.Minute), false},
		{"Deleted", deleted, "alice", base.Add(time.Minute), false},
		{"NoAuthor", anon, "alice", base.Add(time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.CanEdit(tc.viewer, tc.now); got != tc.want {
				t.Errorf("CanEdit = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanDelete(t *testing.T) {
	m := normalMessage("alice")
	if !m.CanDelete("alice") {
		t.Error("автор должен мочь удалить своё сообщение")
	}
	if m.CanDelete("bob") {
		t.Error("чужое сообщение удалять нельзя")
	}

	// Окна на удаление нет, в отличие от правки.
	m.CreatedAt = base.Add(-24 * time.Hour)
	if !m.CanDelete("alice") {
		t.Error("удаление не ограничено окном правки")
	}

	delAt := base
	m.DeletedAt = &delAt
	if m.CanDelete("alice") {
		t.Error("повторное удаление не разрешается")
	}
}

func TestTombstone(t *testing.T) {
	m := normalMessage("alice")
	m.HasAttachments = true
	m.HasLinks = true
	m.Attachments = []Attachment{{ID: "a-1"}}
	m.Links = []LinkPreview{{URL: "https://example.edu"}}

	at := base.Add(time.Hour)
	m.Tombstone(at)

	if m.DeletedAt == nil || !m.DeletedAt.Equal(at) {
		t.Errorf("DeletedAt = %v, want %v", m.DeletedAt, at)
	}
	if m.Body != "" || m.HasAttachments || m.HasLinks || m.Attachments != nil || m.Links != nil {
		t.Errorf("надгробие не должно ничего показывать: %+v", m)
	}
	if !m.Deleted() {
		t.Error("Deleted() после Tombstone")
	}

	// Повторный Tombstone не двигает время удаления.
	m.Tombstone(at.Add(time.Hour))
	if !m.DeletedAt.Equal(at) {
		t.Errorf("повторное надгробие сдвинуло DeletedAt: %v", m.DeletedAt)
	}
}

func TestReactionOwnerID(t *testing.T) {
	msgID, threadID := "m-1", "tm-1"
	cases := []struct {
		name string
		r    Reaction
		want string
	}{
		{"Message", Reaction{MessageID: &msgID}, "m-1"},
		{"ThreadMessage", Reaction{ThreadMessageID: &threadID}, "tm-1"},
		{"Neither", Reaction{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.OwnerID(); got != tc.want {
				t.Errorf("OwnerID = %q, want %q", got, tc.want)
			}
		})
	}
}
