package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/campushub/internal/changefeed"
	"github.com/campushub/internal/model"
)

type fakeViews struct {
	stores  map[string]*Store
	threads map[string]*ThreadView
}

func (v *fakeViews) View(containerID string) (*Store, bool) {
	s, ok := v.stores[containerID]
	return s, ok
}

func (v *fakeViews) ViewOf(messageID string) (*Store, bool) {
	for _, s := range v.stores {
		if s.Has(messageID) {
			return s, true
		}
	}
	return nil, false
}

func (v *fakeViews) Thread(threadID string) (*ThreadView, bool) {
	t, ok := v.threads[threadID]
	return t, ok
}

func (v *fakeViews) ThreadOf(replyID string) (*ThreadView, bool) {
	for _, t := range v.threads {
		if t.Has(replyID) {
			return t, true
		}
	}
	return nil, false
}

type sinkCall struct {
	kind        string
	containerID string
	messageID   string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) record(kind, containerID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind, containerID, messageID})
}

func (s *fakeSink) MessageAdded(containerID string, m *model.Message) {
	s.record("added", containerID, m.ID)
}
func (s *fakeSink) MessageUpdated(containerID string, m *model.Message) {
	s.record("updated", containerID, m.ID)
}
func (s *fakeSink) ReactionsUpdated(containerID, messageID string, groups []model.ReactionGroup) {
	s.record("reactions", containerID, messageID)
}
func (s *fakeSink) ThreadReplyAdded(threadID string, m *model.ThreadMessage) {
	s.record("reply_added", threadID, m.ID)
}
func (s *fakeSink) ThreadReplyUpdated(threadID string, m *model.ThreadMessage) {
	s.record("reply_updated", threadID, m.ID)
}
func (s *fakeSink) ThreadReactionsUpdated(threadID, replyID string, groups []model.ReactionGroup) {
	s.record("reply_reactions", threadID, replyID)
}

func (s *fakeSink) last() (sinkCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return sinkCall{}, false
	}
	return s.calls[len(s.calls)-1], true
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func messageEvent(t *testing.T, op changefeed.Op, row changefeed.MessageRow) changefeed.Event {
	t.Helper()
	raw, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}
	return changefeed.Event{Table: changefeed.TableMessages, Op: op, Row: raw}
}

func TestReconcilerInsertPointReads(t *testing.T) {
	msgs := newFakeMessages()
	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	r := NewReconciler(changefeed.NewBroker(), &fakeViews{stores: map[string]*Store{"room1": store}}, sink)

	now := time.Now().UTC()
	// Строка уже в хранилище: событие несёт только проекцию.
	msgs.put(model.Message{
		ID: "m1", ContainerID: "room1", AuthorID: strp("someone"),
		Kind: model.MessageKindNormal, Body: "полный текст из хранилища", CreatedAt: now,
	})
	r.handle(context.Background(), messageEvent(t, changefeed.OpInsert, changefeed.MessageRow{
		ID: "m1", ContainerID: "room1", AuthorID: strp("someone"),
		Kind: "normal", Body: "пол", BodyTruncated: true, CreatedAt: now,
	}))

	if !store.Has("m1") {
		t.Fatal("insert event must land the message in the window")
	}
	m, _ := store.Get("m1")
	if m.Body != "полный текст из хранилища" {
		t.Fatalf("window must hold the point-read row, got body %q", m.Body)
	}
	if call, ok := sink.last(); !ok || call.kind != "added" || call.messageID != "m1" {
		t.Fatalf("sink call: %+v", call)
	}

	// Повтор того же события (at-least-once) — ничего не меняет.
	before := sink.count()
	r.handle(context.Background(), messageEvent(t, changefeed.OpInsert, changefeed.MessageRow{
		ID: "m1", ContainerID: "room1", CreatedAt: now,
	}))
	if sink.count() != before {
		t.Fatal("duplicate insert event must be dropped")
	}
}

func TestReconcilerVanishedRowDropped(t *testing.T) {
	msgs := newFakeMessages()
	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	r := NewReconciler(changefeed.NewBroker(), &fakeViews{stores: map[string]*Store{"room1": store}}, sink)

	// Вставка строки, которой уже нет (гонка с физическим удалением).
	r.handle(context.Background(), messageEvent(t, changefeed.OpInsert, changefeed.MessageRow{
		ID: "ghost", ContainerID: "room1", CreatedAt: time.Now().UTC(),
	}))
	if store.Has("ghost") || sink.count() != 0 {
		t.Fatal("event about a vanished row must be dropped silently")
	}
}

func TestReconcilerUpdatePaths(t *testing.T) {
	msgs := newFakeMessages()
	now := time.Now().UTC()
	msgs.put(model.Message{
		ID: "m1", ContainerID: "room1", AuthorID: strp("someone"),
		Kind: model.MessageKindNormal, Body: "old", CreatedAt: now,
	})
	store := NewStore("room1", testViewer("viewer"), newTestReader(msgs), nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	r := NewReconciler(changefeed.NewBroker(), &fakeViews{stores: map[string]*Store{"room1": store}}, sink)

	// Обычная правка мержится из события без чтения хранилища.
	editedAt := now.Add(time.Minute)
	r.handle(context.Background(), messageEvent(t, changefeed.OpUpdate, changefeed.MessageRow{
		ID: "m1", ContainerID: "room1", Body: "new", EditedAt: &editedAt, CreatedAt: now,
	}))
	if m, _ := store.Get("m1"); m.Body != "new" || m.EditedAt == nil {
		t.Fatalf("merge edit not applied: %+v", m)
	}

	// Обрезанное тело — обязательное перечитывание.
	msgs.put(model.Message{
		ID: "m1", ContainerID: "room1", AuthorID: strp("someone"),
		Kind: model.MessageKindNormal, Body: "очень длинное настоящее тело", CreatedAt: now, EditedAt: &editedAt,
	})
	r.handle(context.Background(), messageEvent(t, changefeed.OpUpdate, changefeed.MessageRow{
		ID: "m1", ContainerID: "room1", Body: "очень", BodyTruncated: true, EditedAt: &editedAt, CreatedAt: now,
	}))
	if m, _ := store.Get("m1"); m.Body != "очень длинное настоящее тело" {
		t.Fatalf("truncated update must re-read the row, got %q", m.Body)
	}

	// Событие с deleted_at превращает сообщение окна в надгробие.
	deletedAt := now.Add(2 * time.Minute)
	r.handle(context.Background(), messageEvent(t, changefeed.OpUpdate, changefeed.MessageRow{
		ID: "m1", ContainerID: "room1", DeletedAt: &deletedAt, CreatedAt: now,
	}))
	if m, _ := store.Get("m1"); m.DeletedAt == nil || m.Body != "" {
		t.Fatalf("delete event must tombstone in place: %+v", m)
	}
}

func TestReconcilerReactionRefresh(t *testing.T) {
	msgs := newFakeMessages()
	now := time.Now().UTC()
	msgs.put(model.Message{
		ID: "m1", ContainerID: "room1", AuthorID: strp("someone"),
		Kind: model.MessageKindNormal, Body: "x", CreatedAt: now,
	})
	reacts := newFakeReactions()
	reader := NewReader(msgs,
		&fakeAttachments{byMessage: map[string][]model.Attachment{}},
		&fakeLinks{byMessage: map[string][]model.LinkPreview{}},
		reacts,
		&fakeCounts{counts: map[string]int{}},
		fakeResolver{},
	)
	store := NewStore("room1", testViewer("viewer"), reader, nopEnricher{})
	if _, _, err := store.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	sink := &fakeSink{}
	r := NewReconciler(changefeed.NewBroker(), &fakeViews{stores: map[string]*Store{"room1": store}}, sink)

	reacts.set("m1",
		model.Reaction{MessageID: strp("m1"), UserID: "viewer", Emoji: "🔥", CreatedAt: now},
		model.Reaction{MessageID: strp("m1"), UserID: "someone", Emoji: "🔥", CreatedAt: now},
	)
	raw, _ := json.Marshal(changefeed.ReactionRow{MessageID: strp("m1")})
	r.handle(context.Background(), changefeed.Event{Table: changefeed.TableReactions, Op: changefeed.OpInsert, Row: raw})

	m, _ := store.Get("m1")
	if len(m.Reactions) != 1 || m.Reactions[0].Count != 2 || !m.Reactions[0].ViewerHasReacted {
		t.Fatalf("reaction refresh: %+v", m.Reactions)
	}
	if call, ok := sink.last(); !ok || call.kind != "reactions" || call.messageID != "m1" {
		t.Fatalf("sink call: %+v", call)
	}
}
