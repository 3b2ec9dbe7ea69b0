package enrich

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/campushub/internal/model"
)

type fakeAttachmentStore struct {
	mu      sync.Mutex
	created []model.Attachment
	failID  string
}

func (s *fakeAttachmentStore) Create(ctx context.Context, a *model.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == s.failID {
		return fmt.Errorf("диск переполнен")
	}
	s.created = append(s.created, *a)
	return nil
}

type fakeLinkStore struct {
	mu        sync.Mutex
	pending   []string
	completed []model.LinkPreview
}

func (s *fakeLinkStore) CreatePending(ctx context.Context, messageID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, url)
	return nil
}

func (s *fakeLinkStore) Complete(ctx context.Context, lp *model.LinkPreview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, *lp)
	return nil
}

func TestWorkerEnrichesLinks(t *testing.T) {
	good := servePage(t, "text/html", `<html><head><meta property="og:title" content="Доска объявлений"></head></html>`)
	bare := servePage(t, "text/html", `<html><body>без метатегов</body></html>`)
	broken := servePage(t, "application/octet-stream", "не html")

	atts := &fakeAttachmentStore{}
	links := &fakeLinkStore{}
	w := NewWorker(atts, links, NewUnfurler())

	// run вызывается напрямую, чтобы не ждать фоновую горутину Enrich.
	w.run("msg-1", nil, []string{good.URL, bare.URL, broken.URL})

	// Pending-маркер ставится всем ссылкам до походов за страницами.
	if len(links.pending) != 3 {
		t.Fatalf("pending-строк %d, ожидали 3", len(links.pending))
	}
	// Завершается только ссылка с метаданными: голая страница и не-HTML
	// остаются pending и рендерятся голым адресом.
	if len(links.completed) != 1 {
		t.Fatalf("завершённых превью %d, ожидали 1: %+v", len(links.completed), links.completed)
	}
	lp := links.completed[0]
	if lp.MessageID != "msg-1" || lp.URL != good.URL || lp.Title != "Доска объявлений" {
		t.Errorf("превью = %+v", lp)
	}
}

func TestWorkerAttachmentFailureIsIsolated(t *testing.T) {
	atts := &fakeAttachmentStore{failID: "a-2"}
	links := &fakeLinkStore{}
	w := NewWorker(atts, links, NewUnfurler())

	w.run("msg-1", []model.Attachment{
		{ID: "a-1", MessageID: "msg-1"},
		{ID: "a-2", MessageID: "msg-1"},
		{ID: "a-3", MessageID: "msg-1"},
	}, nil)

	if len(atts.created) != 2 {
		t.Fatalf("сохранено %d вложений, ожидали 2: сбой одного не трогает остальные", len(atts.created))
	}
	if atts.created[0].ID != "a-1" || atts.created[1].ID != "a-3" {
		t.Errorf("сохранены %+v", atts.created)
	}
}

func TestWorkerNothingToDo(t *testing.T) {
	w := NewWorker(&fakeAttachmentStore{}, &fakeLinkStore{}, NewUnfurler())
	// Пустое обогащение не должно порождать горутину и паниковать.
	w.Enrich("msg-1", nil, nil)
}
