// Package feed — живая лента контейнера сообщений (комнаты или личной
// переписки): страницы истории, отправка и применение событий ленты изменений
// к открытым представлениям.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/campushub/internal/model"
	"github.com/campushub/internal/reactions"
)

// PageSize — размер страницы истории. Страница читается новейшими вперёд и
// разворачивается в хронологический порядок для отдачи.
const PageSize = 50

// Messages — хранилище строк сообщений. Реализации: repository.MessageRepository
// (комнаты) и repository.DirectMessageRepository (переписки).
type Messages interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	PageBefore(ctx context.Context, containerID string, before *time.Time, limit int) ([]model.Message, error)
	Edit(ctx context.Context, id, authorID, body string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id, authorID string, deletedAt time.Time) error
}

type Attachments interface {
	ListByMessage(ctx context.Context, messageID string) ([]model.Attachment, error)
	ListByMessages(ctx context.Context, messageIDs []string) (map[string][]model.Attachment, error)
}

type Links interface {
	ListByMessage(ctx context.Context, messageID string) ([]model.LinkPreview, error)
	ListByMessages(ctx context.Context, messageIDs []string) (map[string][]model.LinkPreview, error)
}

type Reactions interface {
	ListByMessage(ctx context.Context, messageID string) ([]model.Reaction, error)
	ListByMessages(ctx context.Context, messageIDs []string) (map[string][]model.Reaction, error)
}

// ReplyCounts — счётчики тредов для декорации страницы.
// Реализация — repository.ThreadRepository.
type ReplyCounts interface {
	ReplyCounts(ctx context.Context, rootMessageIDs []string) (map[string]int, error)
}

// URLResolver выводит публичный адрес вложения из storage_ref.
// Реализация — objstore.Store.
type URLResolver interface {
	PublicURL(ref string) string
}

// Reader собирает полные сообщения: строка плюс вложения, превью ссылок,
// агрегированные реакции и счётчик треда. Реакции агрегируются под конкретного
// зрителя (флаг viewer_has_reacted), поэтому все методы принимают viewerID.
type Reader struct {
	messages    Messages
	attachments Attachments
	links       Links
	reactions   Reactions
	threads     ReplyCounts
	objects     URLResolver
}

func NewReader(messages Messages, attachments Attachments, links Links, reacts Reactions, threads ReplyCounts, objects URLResolver) *Reader {
	return &Reader{
		messages:    messages,
		attachments: attachments,
		links:       links,
		reactions:   reacts,
		threads:     threads,
		objects:     objects,
	}
}

// GetFull — точечное чтение одного сообщения со всеми присоединёнными данными.
// Удалённое сообщение возвращается надгробием без обогащения.
func (r *Reader) GetFull(ctx context.Context, id, viewerID string) (*model.Message, error) {
	m, err := r.messages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Deleted() {
		return m, nil
	}

	if m.HasAttachments {
		atts, err := r.attachments.ListByMessage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("feed: attachments of %s: %w", id, err)
		}
		m.Attachments = r.resolveURLs(atts)
	}
	if m.HasLinks {
		links, err := r.links.ListByMessage(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("feed: links of %s: %w", id, err)
		}
		m.Links = links
	}

	flat, err := r.reactions.ListByMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("feed: reactions of %s: %w", id, err)
	}
	m.Reactions = reactions.Group(flat, viewerID)

	counts, err := r.threads.ReplyCounts(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("feed: reply count of %s: %w", id, err)
	}
	m.ReplyCount = counts[id]
	return m, nil
}

// Page читает страницу контейнера строго старше before (nil — новейшая
// страница) и возвращает её в хронологическом порядке. Второй результат —
// эвристика "есть ли ещё": полная страница означает, что история, вероятно,
// продолжается; последний запрос истории тогда вернёт пустую страницу.
func (r *Reader) Page(ctx context.Context, containerID string, before *time.Time, viewerID string) ([]model.Message, bool, error) {
	page, err := r.messages.PageBefore(ctx, containerID, before, PageSize)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(page) == PageSize

	// Разворот в хронологический порядок.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	if err := r.decorate(ctx, page, viewerID); err != nil {
		return nil, false, err
	}
	return page, hasMore, nil
}

// GroupsFor перечитывает реакции одного сообщения и агрегирует их.
func (r *Reader) GroupsFor(ctx context.Context, messageID, viewerID string) ([]model.ReactionGroup, error) {
	flat, err := r.reactions.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("feed: reactions of %s: %w", messageID, err)
	}
	return reactions.Group(flat, viewerID), nil
}

// decorate навешивает присоединённые данные на страницу батчевыми запросами.
func (r *Reader) decorate(ctx context.Context, page []model.Message, viewerID string) error {
	if len(page) == 0 {
		return nil
	}
	ids := make([]string, len(page))
	for i := range page {
		ids[i] = page[i].ID
	}

	atts, err := r.attachments.ListByMessages(ctx, ids)
	if err != nil {
		return fmt.Errorf("feed: page attachments: %w", err)
	}
	links, err := r.links.ListByMessages(ctx, ids)
	if err != nil {
		return fmt.Errorf("feed: page links: %w", err)
	}
	reacts, err := r.reactions.ListByMessages(ctx, ids)
	if err != nil {
		return fmt.Errorf("feed: page reactions: %w", err)
	}
	counts, err := r.threads.ReplyCounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("feed: page reply counts: %w", err)
	}

	for i := range page {
		m := &page[i]
		if m.Deleted() {
			continue
		}
		m.Attachments = r.resolveURLs(atts[m.ID])
		m.Links = links[m.ID]
		m.Reactions = reactions.Group(reacts[m.ID], viewerID)
		m.ReplyCount = counts[m.ID]
	}
	return nil
}

func (r *Reader) resolveURLs(atts []model.Attachment) []model.Attachment {
	for i := range atts {
		atts[i].URL = r.objects.PublicURL(atts[i].StorageRef)
	}
	return atts
}
