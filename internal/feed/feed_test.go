package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/campushub/internal/model"
	"github.com/campushub/internal/repository"
)

// Фейковые хранилища для тестов представлений и реконсилера.

type fakeMessages struct {
	mu   sync.Mutex
	rows map[string]model.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: make(map[string]model.Message)}
}

func (f *fakeMessages) put(m model.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[m.ID] = m
}

func (f *fakeMessages) Create(ctx context.Context, m *model.Message) error {
	f.put(*m)
	return nil
}

func (f *fakeMessages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if m.Deleted() {
		m.Tombstone(*m.DeletedAt)
	}
	return &m, nil
}

func (f *fakeMessages) PageBefore(ctx context.Context, containerID string, before *time.Time, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var page []model.Message
	for _, m := range f.rows {
		if m.ContainerID != containerID || m.Deleted() {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		page = append(page, m)
	}
	// новейшие вперёд, как в хранилище
	sort.Slice(page, func(i, j int) bool { return page[i].CreatedAt.After(page[j].CreatedAt) })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (f *fakeMessages) Edit(ctx context.Context, id, authorID, body string, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok || !m.CanEdit(authorID, editedAt) {
		return repository.ErrAuthorizationDenied
	}
	m.Body = body
	m.EditedAt = &editedAt
	f.rows[id] = m
	return nil
}

func (f *fakeMessages) SoftDelete(ctx context.Context, id, authorID string, deletedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok || !m.CanDelete(authorID) {
		return repository.ErrAuthorizationDenied
	}
	m.DeletedAt = &deletedAt
	f.rows[id] = m
	return nil
}

type fakeAttachments struct {
	byMessage map[string][]model.Attachment
}

func (f *fakeAttachments) ListByMessage(ctx context.Context, messageID string) ([]model.Attachment, error) {
	return f.byMessage[messageID], nil
}

func (f *fakeAttachments) ListByMessages(ctx context.Context, ids []string) (map[string][]model.Attachment, error) {
	out := make(map[string][]model.Attachment)
	for _, id := range ids {
		if atts, ok := f.byMessage[id]; ok {
			out[id] = atts
		}
	}
	return out, nil
}

type fakeLinks struct {
	byMessage map[string][]model.LinkPreview
}

func (f *fakeLinks) ListByMessage(ctx context.Context, messageID string) ([]model.LinkPreview, error) {
	return f.byMessage[messageID], nil
}

func (f *fakeLinks) ListByMessages(ctx context.Context, ids []string) (map[string][]model.LinkPreview, error) {
	out := make(map[string][]model.LinkPreview)
	for _, id := range ids {
		if links, ok := f.byMessage[id]; ok {
			out[id] = links
		}
	}
	return out, nil
}

type fakeReactions struct {
	mu        sync.Mutex
	byMessage map[string][]model.Reaction
}

func newFakeReactions() *fakeReactions {
	return &fakeReactions{byMessage: make(map[string][]model.Reaction)}
}

func (f *fakeReactions) set(messageID string, rs ...model.Reaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byMessage[messageID] = rs
}

func (f *fakeReactions) ListByMessage(ctx context.Context, messageID string) ([]model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byMessage[messageID], nil
}

func (f *fakeReactions) ListByMessages(ctx context.Context, ids []string) (map[string][]model.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]model.Reaction)
	for _, id := range ids {
		if rs, ok := f.byMessage[id]; ok {
			out[id] = rs
		}
	}
	return out, nil
}

func (f *fakeReactions) ListByThreadMessage(ctx context.Context, id string) ([]model.Reaction, error) {
	return f.ListByMessage(ctx, id)
}

func (f *fakeReactions) ListByThreadMessages(ctx context.Context, ids []string) (map[string][]model.Reaction, error) {
	return f.ListByMessages(ctx, ids)
}

type fakeCounts struct {
	counts map[string]int
}

func (f *fakeCounts) ReplyCounts(ctx context.Context, ids []string) (map[string]int, error) {
	out := make(map[string]int)
	for _, id := range ids {
		if n, ok := f.counts[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type fakeResolver struct{}

func (fakeResolver) PublicURL(ref string) string { return "/files/" + ref }

type nopEnricher struct{}

func (nopEnricher) Enrich(messageID string, atts []model.Attachment, urls []string) {}

func newTestReader(msgs *fakeMessages) *Reader {
	return NewReader(msgs,
		&fakeAttachments{byMessage: map[string][]model.Attachment{}},
		&fakeLinks{byMessage: map[string][]model.LinkPreview{}},
		newFakeReactions(),
		&fakeCounts{counts: map[string]int{}},
		fakeResolver{},
	)
}

func strp(s string) *string { return &s }

func testViewer(id string) model.UserPublic {
	return model.UserPublic{ID: id, DisplayName: "user " + id}
}

// seedMessages кладёт n сообщений контейнера с шагом в секунду, старые раньше.
func seedMessages(msgs *fakeMessages, containerID string, n int, base time.Time) []string {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := containerID + "-m" + string(rune('A'+i%26)) + "-" + time.Duration(i).String()
		ids[i] = id
		msgs.put(model.Message{
			ID:          id,
			ContainerID: containerID,
			AuthorID:    strp("author"),
			Kind:        model.MessageKindNormal,
			Body:        "msg",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
	}
	return ids
}
