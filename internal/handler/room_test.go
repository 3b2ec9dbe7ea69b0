package handler

import (
	"context"
	"fmt"
	"testing"

	"github.com/campushub/internal/model"
)

type recordingMessages struct {
	created []model.Message
	fail    bool
}

func (r *recordingMessages) Create(ctx context.Context, m *model.Message) error {
	if r.fail {
		return fmt.Errorf("хранилище недоступно")
	}
	r.created = append(r.created, *m)
	return nil
}

func TestAnnounceMembership(t *testing.T) {
	msgs := &recordingMessages{}
	h := &RoomHandler{
		messages: msgs,
		name: func(ctx context.Context, userID string) (string, error) {
			return "Алиса", nil
		},
	}

	h.announceMembership(context.Background(), "room-1", "u-1", "присоединяется к комнате")

	if len(msgs.created) != 1 {
		t.Fatalf("сообщений %d, ожидали 1", len(msgs.created))
	}
	m := msgs.created[0]
	if m.Kind != model.MessageKindSystem {
		t.Errorf("Kind = %q, системное сообщение обязано быть kind=system", m.Kind)
	}
	if m.AuthorID != nil {
		t.Errorf("AuthorID = %v, у системного сообщения нет автора", m.AuthorID)
	}
	if m.ContainerID != "room-1" {
		t.Errorf("ContainerID = %q", m.ContainerID)
	}
	if m.Body != "Алиса присоединяется к комнате" {
		t.Errorf("Body = %q", m.Body)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Errorf("незаполненная строка: %+v", m)
	}
}

func TestAnnounceMembershipNameFallback(t *testing.T) {
	msgs := &recordingMessages{}
	h := &RoomHandler{
		messages: msgs,
		name: func(ctx context.Context, userID string) (string, error) {
			return "", fmt.Errorf("нет такого пользователя")
		},
	}

	h.announceMembership(context.Background(), "room-1", "u-ghost", "покидает комнату")

	if len(msgs.created) != 1 {
		t.Fatalf("сообщений %d, ожидали 1", len(msgs.created))
	}
	if msgs.created[0].Body != "Кто-то покидает комнату" {
		t.Errorf("Body = %q", msgs.created[0].Body)
	}
}

func TestAnnounceMembershipStoreFailureSilent(t *testing.T) {
	h := &RoomHandler{
		messages: &recordingMessages{fail: true},
		name: func(ctx context.Context, userID string) (string, error) {
			return "Алиса", nil
		},
	}
	// Сбой записи не должен паниковать: членство уже изменилось,
	// объявление — лучшая попытка.
	h.announceMembership(context.Background(), "room-1", "u-1", "присоединяется к комнате")
}
