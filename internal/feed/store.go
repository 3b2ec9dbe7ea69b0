package feed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campushub/internal/enrich"
	"github.com/campushub/internal/model"
	"github.com/campushub/internal/repository"
)

// MaxBodyLen — предел длины текста сообщения в символах.
const MaxBodyLen = 4000

var (
	ErrEmptyMessage = errors.New("feed: empty message")
	ErrBodyTooLong  = errors.New("feed: body too long")
	// ErrEditWindow — окно редактирования истекло (локальная проверка;
	// хранилище повторяет её в предикате UPDATE).
	ErrEditWindow = errors.New("feed: edit window expired")
)

// Enricher — фоновое обогащение отправленного сообщения.
// Реализация — enrich.Worker.
type Enricher interface {
	Enrich(messageID string, atts []model.Attachment, urls []string)
}

// Store — представление одной открытой ленты (комнаты или переписки) для
// одного зрителя. Живёт ровно пока контейнер открыт в сессии: держит
// загруженное окно истории и применяет к нему события ленты изменений.
// Окно всегда непрерывно: новые сообщения пришиваются к свежему краю, старые
// страницы — к старому; событие старше незагруженной истории отбрасывается,
// его подберёт пагинация.
type Store struct {
	containerID string
	viewer      model.UserPublic
	reader      *Reader
	enricher    Enricher

	mu      sync.Mutex
	msgs    []model.Message // хронологический порядок
	known   map[string]struct{}
	hasMore bool
	loaded  bool
}

func NewStore(containerID string, viewer model.UserPublic, reader *Reader, enricher Enricher) *Store {
	return &Store{
		containerID: containerID,
		viewer:      viewer,
		reader:      reader,
		enricher:    enricher,
		known:       make(map[string]struct{}, PageSize),
	}
}

func (s *Store) ContainerID() string { return s.containerID }

// LoadInitial загружает новейшую страницу, сбрасывая прежнее состояние.
func (s *Store) LoadInitial(ctx context.Context) ([]model.Message, bool, error) {
	page, hasMore, err := s.reader.Page(ctx, s.containerID, nil, s.viewer.ID)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	s.msgs = page
	s.known = make(map[string]struct{}, len(page)+PageSize)
	for i := range page {
		s.known[page[i].ID] = struct{}{}
	}
	s.hasMore = hasMore
	s.loaded = true
	out := snapshot(s.msgs)
	s.mu.Unlock()
	return out, hasMore, nil
}

// LoadOlder догружает следующую страницу истории и пришивает её к старому
// краю окна. Возвращает только догруженный кусок.
func (s *Store) LoadOlder(ctx context.Context) ([]model.Message, bool, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return s.LoadInitial(ctx)
	}
	if !s.hasMore {
		s.mu.Unlock()
		return nil, false, nil
	}
	var before *time.Time
	if len(s.msgs) > 0 {
		t := s.msgs[0].CreatedAt
		before = &t
	}
	s.mu.Unlock()

	page, hasMore, err := s.reader.Page(ctx, s.containerID, before, s.viewer.ID)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := make([]model.Message, 0, len(page))
	for i := range page {
		if _, dup := s.known[page[i].ID]; dup {
			continue
		}
		s.known[page[i].ID] = struct{}{}
		added = append(added, page[i])
	}
	s.msgs = append(added, s.msgs...)
	s.hasMore = hasMore
	return snapshot(added), hasMore, nil
}

// Send записывает сообщение и сразу пришивает его к окну (оптимистичное эхо:
// событие ленты о собственной вставке потом отсеется по id). Вложения и
// ссылки уходят в фоновое обогащение; их появление доедет событиями.
func (s *Store) Send(ctx context.Context, body string, atts []model.Attachment) (*model.Message, error) {
	if body == "" && len(atts) == 0 {
		return nil, ErrEmptyMessage
	}
	if len([]rune(body)) > MaxBodyLen {
		return nil, ErrBodyTooLong
	}

	now := time.Now().UTC()
	urls := enrich.ExtractURLs(body)
	authorID := s.viewer.ID
	author := s.viewer
	m := &model.Message{
		ID:             uuid.New().String(),
		ContainerID:    s.containerID,
		AuthorID:       &authorID,
		Kind:           model.MessageKindNormal,
		Body:           body,
		HasAttachments: len(atts) > 0,
		HasLinks:       len(urls) > 0,
		CreatedAt:      now,
		Author:         &author,
	}
	for i := range atts {
		if atts[i].ID == "" {
			atts[i].ID = uuid.New().String()
		}
		atts[i].MessageID = m.ID
		atts[i].CreatedAt = now
	}

	if err := s.reader.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	s.enricher.Enrich(m.ID, atts, urls)

	s.ApplyInsert(m)
	return m, nil
}

// Edit меняет текст своего сообщения в пределах окна редактирования.
func (s *Store) Edit(ctx context.Context, id, body string) (*model.Message, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if len([]rune(body)) > MaxBodyLen {
		return nil, ErrBodyTooLong
	}
	now := time.Now().UTC()

	// Локальная копия позволяет отличить истёкшее окно от чужого сообщения
	// до похода в хранилище; решает всё равно предикат UPDATE.
	s.mu.Lock()
	if i := s.index(id); i >= 0 && !s.msgs[i].CanEdit(s.viewer.ID, now) {
		expired := s.msgs[i].AuthorID != nil && *s.msgs[i].AuthorID == s.viewer.ID &&
			s.msgs[i].Kind == model.MessageKindNormal && !s.msgs[i].Deleted()
		s.mu.Unlock()
		if expired {
			return nil, ErrEditWindow
		}
		return nil, repository.ErrAuthorizationDenied
	}
	s.mu.Unlock()

	if err := s.reader.messages.Edit(ctx, id, s.viewer.ID, body, now); err != nil {
		return nil, err
	}
	m, _ := s.ApplyEdit(id, body, false, &now)
	return m, nil
}

// Delete помечает своё сообщение удалённым; строка остаётся надгробием.
func (s *Store) Delete(ctx context.Context, id string) (*model.Message, error) {
	now := time.Now().UTC()
	s.mu.Lock()
	if i := s.index(id); i >= 0 && !s.msgs[i].CanDelete(s.viewer.ID) {
		s.mu.Unlock()
		return nil, repository.ErrAuthorizationDenied
	}
	s.mu.Unlock()

	if err := s.reader.messages.SoftDelete(ctx, id, s.viewer.ID, now); err != nil {
		return nil, err
	}
	m, _ := s.ApplyDelete(id, now)
	return m, nil
}

// RefreshReactions перечитывает и применяет реакции одного сообщения.
func (s *Store) RefreshReactions(ctx context.Context, messageID string) ([]model.ReactionGroup, error) {
	groups, err := s.reader.GroupsFor(ctx, messageID, s.viewer.ID)
	if err != nil {
		return nil, err
	}
	s.ApplyReactions(messageID, groups)
	return groups, nil
}

// PointRead — полное чтение сообщения под зрителя этого представления.
func (s *Store) PointRead(ctx context.Context, id string) (*model.Message, error) {
	return s.reader.GetFull(ctx, id, s.viewer.ID)
}

// Has сообщает, лежит ли сообщение в загруженном окне.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[id]
	return ok
}

// Get возвращает копию сообщения окна.
func (s *Store) Get(id string) (*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return nil, false
	}
	out := s.msgs[i]
	return &out, true
}

// Snapshot возвращает копию окна в хронологическом порядке.
func (s *Store) Snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.msgs)
}

// ApplyInsert вставляет сообщение в окно по created_at. Дубликат и сообщение
// старше загруженной истории не применяются.
func (s *Store) ApplyInsert(m *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return false
	}
	if _, dup := s.known[m.ID]; dup {
		return false
	}
	if s.hasMore && len(s.msgs) > 0 && m.CreatedAt.Before(s.msgs[0].CreatedAt) {
		// Принадлежит незагруженной странице; доедет пагинацией.
		return false
	}
	i := sort.Search(len(s.msgs), func(i int) bool {
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	s.msgs = append(s.msgs, model.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = *m
	s.known[m.ID] = struct{}{}
	return true
}

// ApplyUpdate замещает сообщение окна свежей полной копией.
func (s *Store) ApplyUpdate(m *model.Message) (*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(m.ID)
	if i < 0 {
		return nil, false
	}
	s.msgs[i] = *m
	out := s.msgs[i]
	return &out, true
}

// ApplyEdit мержит правку текста в сообщение окна, не трогая присоединённые
// данные (путь события без полного перечитывания).
func (s *Store) ApplyEdit(id, body string, bodyTruncated bool, editedAt *time.Time) (*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return nil, false
	}
	if !bodyTruncated {
		s.msgs[i].Body = body
	}
	s.msgs[i].EditedAt = editedAt
	out := s.msgs[i]
	return &out, true
}

// ApplyDelete превращает сообщение окна в надгробие на месте.
func (s *Store) ApplyDelete(id string, at time.Time) (*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return nil, false
	}
	s.msgs[i].Tombstone(at)
	out := s.msgs[i]
	return &out, true
}

// ApplyReactions замещает агрегированные реакции сообщения окна.
func (s *Store) ApplyReactions(id string, groups []model.ReactionGroup) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.msgs[i].Reactions = groups
	return true
}

// ApplyReplyCount обновляет счётчик треда корневого сообщения.
func (s *Store) ApplyReplyCount(id string, n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.msgs[i].ReplyCount = n
	return true
}

func (s *Store) index(id string) int {
	if _, ok := s.known[id]; !ok {
		return -1
	}
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func snapshot(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
