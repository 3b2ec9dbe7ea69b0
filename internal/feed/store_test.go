package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/campushub/internal/model"
	"github.com/campushub/internal/repository"
)

var base = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func TestStorePagination(t *testing.T) {
	msgs := newFakeMessages()
	seedMessages(msgs, "room1", 120, base)
	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})

	page, hasMore, err := store.LoadInitial(context.Background())
	if err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	if len(page) != PageSize {
		t.Fatalf("initial page: got %d messages, want %d", len(page), PageSize)
	}
	if !hasMore {
		t.Fatal("initial page: hasMore = false, want true")
	}
	for i := 1; i < len(page); i++ {
		if page[i].CreatedAt.Before(page[i-1].CreatedAt) {
			t.Fatalf("page not chronological at %d", i)
		}
	}

	seen := map[string]bool{}
	for _, m := range page {
		seen[m.ID] = true
	}
	for {
		older, more, err := store.LoadOlder(context.Background())
		if err != nil {
			t.Fatalf("LoadOlder: %v", err)
		}
		for _, m := range older {
			if seen[m.ID] {
				t.Fatalf("message %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		if !more {
			break
		}
	}
	if len(seen) != 120 {
		t.Fatalf("paged through %d messages, want 120", len(seen))
	}

	// История исчерпана: дальнейшие запросы пустые без похода в хранилище.
	older, more, err := store.LoadOlder(context.Background())
	if err != nil || older != nil || more {
		t.Fatalf("LoadOlder after end: got (%v, %v, %v)", older, more, err)
	}
}

func TestStoreSendEchoDedup(t *testing.T) {
	msgs := newFakeMessages()
	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	m, err := store.Send(context.Background(), "привет", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Author == nil || m.Author.ID != "viewer" {
		t.Fatal("sent message must carry the viewer as author")
	}
	if !store.Has(m.ID) {
		t.Fatal("sent message must be in the window immediately")
	}

	// Событие ленты о собственной вставке — дубликат по id.
	if store.ApplyInsert(m) {
		t.Fatal("ApplyInsert of own echo must be a no-op")
	}
	if got := len(store.Snapshot()); got != 1 {
		t.Fatalf("window has %d messages, want 1", got)
	}
}

func TestStoreSendValidation(t *testing.T) {
	store := NewStore("room1", testViewer("viewer"), newTestReader(newFakeMessages()), nopEnricher{})

	if _, err := store.Send(context.Background(), "", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty send: got %v, want ErrEmptyMessage", err)
	}
	long := make([]rune, MaxBodyLen+1)
	for i := range long {
		long[i] = 'ы'
	}
	if _, err := store.Send(context.Background(), string(long), nil); !errors.Is(err, ErrBodyTooLong) {
		t.Fatalf("long send: got %v, want ErrBodyTooLong", err)
	}
	// Ровно на пределе — можно (считаем в символах, не байтах).
	if _, err := store.Send(context.Background(), string(long[:MaxBodyLen]), nil); err != nil {
		t.Fatalf("send at limit: %v", err)
	}
}

func TestStoreApplyInsertOrdering(t *testing.T) {
	msgs := newFakeMessages()
	seedMessages(msgs, "room1", 60, base)
	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	window := store.Snapshot()
	oldest := window[0].CreatedAt

	// Событие старше загруженного окна при hasMore отбрасывается: его подберёт пагинация.
	tooOld := &model.Message{
		ID: "too-old", ContainerID: "room1", AuthorID: strp("a"),
		Kind: model.MessageKindNormal, CreatedAt: oldest.Add(-time.Hour),
	}
	if store.ApplyInsert(tooOld) {
		t.Fatal("insert older than the window must be dropped while hasMore")
	}

	// Вставка в середину окна (запоздавшее событие) садится по created_at.
	mid := &model.Message{
		ID: "mid", ContainerID: "room1", AuthorID: strp("a"),
		Kind: model.MessageKindNormal, CreatedAt: window[10].CreatedAt.Add(500 * time.Millisecond),
	}
	if !store.ApplyInsert(mid) {
		t.Fatal("insert inside the window must apply")
	}
	got := store.Snapshot()
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("window out of order after insert at %d", i)
		}
	}
	if got[11].ID != "mid" {
		t.Fatalf("late insert landed at wrong position: got %s at index 11", got[11].ID)
	}
}

func TestStoreEditWindow(t *testing.T) {
	msgs := newFakeMessages()
	now := time.Now().UTC()
	msgs.put(model.Message{
		ID: "fresh", ContainerID: "room1", AuthorID: strp("viewer"),
		Kind: model.MessageKindNormal, Body: "a", CreatedAt: now.Add(-time.Minute),
	})
	msgs.put(model.Message{
		ID: "stale", ContainerID: "room1", AuthorID: strp("viewer"),
		Kind: model.MessageKindNormal, Body: "b", CreatedAt: now.Add(-model.EditWindow - time.Minute),
	})
	msgs.put(model.Message{
		ID: "foreign", ContainerID: "room1", AuthorID: strp("someone"),
		Kind: model.MessageKindNormal, Body: "c", CreatedAt: now.Add(-time.Minute),
	})

	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	m, err := store.Edit(context.Background(), "fresh", "edited")
	if err != nil {
		t.Fatalf("edit within window: %v", err)
	}
	if m.Body != "edited" || m.EditedAt == nil {
		t.Fatalf("edit not applied: %+v", m)
	}

	if _, err := store.Edit(context.Background(), "stale", "x"); !errors.Is(err, ErrEditWindow) {
		t.Fatalf("edit after window: got %v, want ErrEditWindow", err)
	}
	if _, err := store.Edit(context.Background(), "foreign", "x"); !errors.Is(err, repository.ErrAuthorizationDenied) {
		t.Fatalf("edit foreign message: got %v, want ErrAuthorizationDenied", err)
	}
}

func TestStoreDeleteTombstone(t *testing.T) {
	msgs := newFakeMessages()
	now := time.Now().UTC()
	msgs.put(model.Message{
		ID: "m1", ContainerID: "room1", AuthorID: strp("viewer"),
		Kind: model.MessageKindNormal, Body: "secret", HasAttachments: true,
		CreatedAt: now.Add(-time.Hour),
	})

	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	m, err := store.Delete(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.DeletedAt == nil || m.Body != "" || m.HasAttachments {
		t.Fatalf("tombstone must suppress body and flags: %+v", m)
	}
	// Надгробие остаётся в окне и доступно точечным чтением.
	if !store.Has("m1") {
		t.Fatal("tombstone must stay in the window")
	}
	got, err := store.PointRead(context.Background(), "m1")
	if err != nil {
		t.Fatalf("PointRead of tombstone: %v", err)
	}
	if got.DeletedAt == nil || got.Body != "" {
		t.Fatalf("point read must return a tombstone: %+v", got)
	}
	// Но свежая страница его уже не содержит.
	fresh := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	page, _, err := fresh.LoadInitial(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("deleted message leaked into a page: %v", page)
	}
}

func TestStoreApplyEditKeepsDecoration(t *testing.T) {
	msgs := newFakeMessages()
	now := time.Now().UTC()
	msgs.put(model.Message{
		ID: "m1", ContainerID: "room1", AuthorID: strp("a"),
		Kind: model.MessageKindNormal, Body: "old", CreatedAt: now,
	})
	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}
	groups := []model.ReactionGroup{{Emoji: "👍", Count: 2, Users: []string{"a", "b"}}}
	store.ApplyReactions("m1", groups)

	editedAt := now.Add(time.Minute)
	m, ok := store.ApplyEdit("m1", "new", false, &editedAt)
	if !ok {
		t.Fatal("ApplyEdit must find the message")
	}
	if m.Body != "new" {
		t.Fatalf("body: got %q, want %q", m.Body, "new")
	}
	if diff := cmp.Diff(groups, m.Reactions); diff != "" {
		t.Fatalf("reactions lost on merge (-want +got):\n%s", diff)
	}

	// При обрезанном теле события текст не мержится (его перечитают целиком).
	m, _ = store.ApplyEdit("m1", "trunc...", true, &editedAt)
	if m.Body != "new" {
		t.Fatalf("truncated body must not be merged, got %q", m.Body)
	}
}
