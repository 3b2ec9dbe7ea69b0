package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/campushub/internal/model"
	"github.com/campushub/internal/repository"
)

type fakeThreadBackend struct {
	mu      sync.Mutex
	threads map[string]model.Thread // по root_message_id
	replies map[string]model.ThreadMessage
}

func newFakeThreadBackend() *fakeThreadBackend {
	return &fakeThreadBackend{
		threads: make(map[string]model.Thread),
		replies: make(map[string]model.ThreadMessage),
	}
}

func (f *fakeThreadBackend) GetOrCreate(ctx context.Context, rootMessageID string) (*model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.threads[rootMessageID]; ok {
		return &t, nil
	}
	t := model.Thread{ID: uuid.New().String(), RootMessageID: rootMessageID, CreatedAt: time.Now().UTC()}
	f.threads[rootMessageID] = t
	return &t, nil
}

func (f *fakeThreadBackend) CreateReply(ctx context.Context, m *model.ThreadMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[m.ID] = *m
	for root, t := range f.threads {
		if t.ID == m.ThreadID {
			t.ReplyCount++
			at := m.CreatedAt
			t.LastReplyAt = &at
			f.threads[root] = t
		}
	}
	return nil
}

func (f *fakeThreadBackend) GetReply(ctx context.Context, id string) (*model.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.replies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.DeletedAt != nil {
		m.Body = ""
	}
	return &m, nil
}

func (f *fakeThreadBackend) ListMessages(ctx context.Context, threadID string) ([]model.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ThreadMessage
	for _, m := range f.replies {
		if m.ThreadID != threadID || m.DeletedAt != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeThreadBackend) EditReply(ctx context.Context, id, authorID, body string, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.replies[id]
	if !ok || !m.CanEdit(authorID, editedAt) {
		return repository.ErrAuthorizationDenied
	}
	m.Body = body
	m.EditedAt = &editedAt
	f.replies[id] = m
	return nil
}

func (f *fakeThreadBackend) SoftDeleteReply(ctx context.Context, id, authorID string, deletedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.replies[id]
	if !ok || !m.CanDelete(authorID) {
		return repository.ErrAuthorizationDenied
	}
	m.DeletedAt = &deletedAt
	f.replies[id] = m
	return nil
}

func TestOpenThreadLazyCreate(t *testing.T) {
	backend := newFakeThreadBackend()
	reacts := newFakeReactions()

	tv, err := OpenThread(context.Background(), "root1", testViewer("viewer"), backend, reacts)
	if err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	if tv.RootMessageID() != "root1" || tv.ReplyCount() != 0 {
		t.Fatalf("fresh thread: root=%s count=%d", tv.RootMessageID(), tv.ReplyCount())
	}

	// Повторное открытие возвращает тот же тред, не плодя новые.
	tv2, err := OpenThread(context.Background(), "root1", testViewer("other"), backend, reacts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if tv2.ThreadID() != tv.ThreadID() {
		t.Fatalf("reopen created a second thread: %s vs %s", tv2.ThreadID(), tv.ThreadID())
	}
}

func TestThreadReplyBumpsCount(t *testing.T) {
	backend := newFakeThreadBackend()
	tv, err := OpenThread(context.Background(), "root1", testViewer("viewer"), backend, newFakeReactions())
	if err != nil {
		t.Fatalf("OpenThread: %v", err)
	}

	m, err := tv.Reply(context.Background(), "первый ответ")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if tv.ReplyCount() != 1 {
		t.Fatalf("reply count: got %d, want 1", tv.ReplyCount())
	}
	if !tv.Has(m.ID) {
		t.Fatal("reply must be in the view immediately")
	}
	// Эхо события о собственном ответе — дубликат.
	if tv.ApplyReplyInsert(m) {
		t.Fatal("ApplyReplyInsert of own echo must be a no-op")
	}
	if tv.ReplyCount() != 1 {
		t.Fatalf("echo bumped the count: got %d", tv.ReplyCount())
	}

	if _, err := tv.Reply(context.Background(), ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty reply: got %v, want ErrEmptyMessage", err)
	}
}

func TestThreadEditReplyWindow(t *testing.T) {
	backend := newFakeThreadBackend()
	tv, err := OpenThread(context.Background(), "root1", testViewer("viewer"), backend, newFakeReactions())
	if err != nil {
		t.Fatalf("OpenThread: %v", err)
	}

	stale := &model.ThreadMessage{
		ID: "stale", ThreadID: tv.ThreadID(), AuthorID: strp("viewer"),
		Kind: model.MessageKindNormal, Body: "old",
		CreatedAt: time.Now().UTC().Add(-model.EditWindow - time.Minute),
	}
	if err := backend.CreateReply(context.Background(), stale); err != nil {
		t.Fatal(err)
	}
	tv.ApplyReplyInsert(stale)

	if _, err := tv.EditReply(context.Background(), "stale", "new"); !errors.Is(err, ErrEditWindow) {
		t.Fatalf("edit after window: got %v, want ErrEditWindow", err)
	}

	m, err := tv.Reply(context.Background(), "fresh")
	if err != nil {
		t.Fatal(err)
	}
	got, err := tv.EditReply(context.Background(), m.ID, "fresh edited")
	if err != nil {
		t.Fatalf("edit within window: %v", err)
	}
	if got.Body != "fresh edited" || got.EditedAt == nil {
		t.Fatalf("edit not applied: %+v", got)
	}
}

func TestThreadEditReplySystemKindDenied(t *testing.T) {
	backend := newFakeThreadBackend()
	tv, err := OpenThread(context.Background(), "root1", testViewer("viewer"), backend, newFakeReactions())
	if err != nil {
		t.Fatalf("OpenThread: %v", err)
	}

	// Системный ответ не редактируется даже свежим и даже с совпавшим
	// автором: это отказ в праве, а не истёкшее окно.
	system := &model.ThreadMessage{
		ID: "sys", ThreadID: tv.ThreadID(), AuthorID: strp("viewer"),
		Kind: model.MessageKindSystem, Body: "тред закреплён",
		CreatedAt: time.Now().UTC(),
	}
	if err := backend.CreateReply(context.Background(), system); err != nil {
		t.Fatal(err)
	}
	tv.ApplyReplyInsert(system)

	_, err = tv.EditReply(context.Background(), "sys", "правка")
	if !errors.Is(err, repository.ErrAuthorizationDenied) {
		t.Fatalf("edit of system reply: got %v, want ErrAuthorizationDenied", err)
	}
}

func TestThreadDeleteReplyTombstone(t *testing.T) {
	backend := newFakeThreadBackend()
	tv, err := OpenThread(context.Background(), "root1", testViewer("viewer"), backend, newFakeReactions())
	if err != nil {
		t.Fatalf("OpenThread: %v", err)
	}
	m, err := tv.Reply(context.Background(), "до свидания")
	if err != nil {
		t.Fatal(err)
	}
	got, err := tv.DeleteReply(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("DeleteReply: %v", err)
	}
	if got.DeletedAt == nil || got.Body != "" {
		t.Fatalf("deleted reply must be a tombstone: %+v", got)
	}
	// Чужой ответ удалить нельзя.
	other := &model.ThreadMessage{
		ID: "other", ThreadID: tv.ThreadID(), AuthorID: strp("someone"),
		Kind: model.MessageKindNormal, Body: "x", CreatedAt: time.Now().UTC(),
	}
	if err := backend.CreateReply(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	tv.ApplyReplyInsert(other)
	if _, err := tv.DeleteReply(context.Background(), "other"); !errors.Is(err, repository.ErrAuthorizationDenied) {
		t.Fatalf("delete foreign reply: got %v, want ErrAuthorizationDenied", err)
	}
}
