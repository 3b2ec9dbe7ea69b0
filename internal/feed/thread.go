package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campushub/internal/model"
	"github.com/campushub/internal/reactions"
	"github.com/campushub/internal/repository"
)

// ErrThreadDepth — попытка открыть тред на ответе внутри треда.
var ErrThreadDepth = errors.New("feed: threads do not nest")

// ThreadBackend — хранилище тредов. Реализация — repository.ThreadRepository.
type ThreadBackend interface {
	GetOrCreate(ctx context.Context, rootMessageID string) (*model.Thread, error)
	CreateReply(ctx context.Context, m *model.ThreadMessage) error
	GetReply(ctx context.Context, id string) (*model.ThreadMessage, error)
	ListMessages(ctx context.Context, threadID string) ([]model.ThreadMessage, error)
	EditReply(ctx context.Context, id, authorID, body string, editedAt time.Time) error
	SoftDeleteReply(ctx context.Context, id, authorID string, deletedAt time.Time) error
}

// ThreadReactions — чтение реакций ответов треда.
type ThreadReactions interface {
	ListByThreadMessage(ctx context.Context, id string) ([]model.Reaction, error)
	ListByThreadMessages(ctx context.Context, ids []string) (map[string][]model.Reaction, error)
}

// ThreadView — открытый тред одного зрителя. Тред создаётся лениво: открытие
// треда на сообщении без ответов заводит пустой тред. Ответы загружаются целиком,
// без пагинации.
type ThreadView struct {
	viewer  model.UserPublic
	backend ThreadBackend
	reacts  ThreadReactions

	mu      sync.Mutex
	thread  model.Thread
	replies []model.ThreadMessage
	known   map[string]struct{}
}

// OpenThread открывает (и при необходимости создаёт) тред корневого сообщения.
func OpenThread(ctx context.Context, rootMessageID string, viewer model.UserPublic, backend ThreadBackend, reacts ThreadReactions) (*ThreadView, error) {
	t, err := backend.GetOrCreate(ctx, rootMessageID)
	if err != nil {
		return nil, err
	}
	replies, err := backend.ListMessages(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(replies))
	for i := range replies {
		ids[i] = replies[i].ID
	}
	flat, err := reacts.ListByThreadMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(replies))
	for i := range replies {
		replies[i].Reactions = reactions.Group(flat[replies[i].ID], viewer.ID)
		known[replies[i].ID] = struct{}{}
	}
	return &ThreadView{
		viewer:  viewer,
		backend: backend,
		reacts:  reacts,
		thread:  *t,
		replies: replies,
		known:   known,
	}, nil
}

func (v *ThreadView) ThreadID() string { return v.thread.ID }

func (v *ThreadView) RootMessageID() string { return v.thread.RootMessageID }

func (v *ThreadView) ReplyCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.thread.ReplyCount
}

func (v *ThreadView) Thread() model.Thread {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.thread
}

// Replies возвращает копию ответов в хронологическом порядке.
func (v *ThreadView) Replies() []model.ThreadMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.ThreadMessage, len(v.replies))
	copy(out, v.replies)
	return out
}

// Reply добавляет ответ и оптимистично пришивает его к представлению.
func (v *ThreadView) Reply(ctx context.Context, body string) (*model.ThreadMessage, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if len([]rune(body)) > MaxBodyLen {
		return nil, ErrBodyTooLong
	}
	authorID := v.viewer.ID
	author := v.viewer
	m := &model.ThreadMessage{
		ID:        uuid.New().String(),
		ThreadID:  v.thread.ID,
		AuthorID:  &authorID,
		Kind:      model.MessageKindNormal,
		Body:      body,
		CreatedAt: time.Now().UTC(),
		Author:    &author,
	}
	if err := v.backend.CreateReply(ctx, m); err != nil {
		return nil, err
	}
	v.ApplyReplyInsert(m)
	return m, nil
}

func (v *ThreadView) EditReply(ctx context.Context, id, body string) (*model.ThreadMessage, error) {
	if body == "" {
		return nil, ErrEmptyMessage
	}
	now := time.Now().UTC()
	v.mu.Lock()
	if i := v.replyIndex(id); i >= 0 && !v.replies[i].CanEdit(v.viewer.ID, now) {
		expired := v.replies[i].AuthorID != nil && *v.replies[i].AuthorID == v.viewer.ID &&
			v.replies[i].Kind == model.MessageKindNormal && v.replies[i].DeletedAt == nil
		v.mu.Unlock()
		if expired {
			return nil, ErrEditWindow
		}
		return nil, repository.ErrAuthorizationDenied
	}
	v.mu.Unlock()

	if err := v.backend.EditReply(ctx, id, v.viewer.ID, body, now); err != nil {
		return nil, err
	}
	m, _ := v.ApplyReplyEdit(id, body, &now)
	return m, nil
}

func (v *ThreadView) DeleteReply(ctx context.Context, id string) (*model.ThreadMessage, error) {
	now := time.Now().UTC()
	if err := v.backend.SoftDeleteReply(ctx, id, v.viewer.ID, now); err != nil {
		return nil, err
	}
	m, _ := v.ApplyReplyDelete(id, now)
	return m, nil
}

// RefreshReplyReactions перечитывает и применяет реакции одного ответа.
func (v *ThreadView) RefreshReplyReactions(ctx context.Context, replyID string) ([]model.ReactionGroup, error) {
	flat, err := v.reacts.ListByThreadMessage(ctx, replyID)
	if err != nil {
		return nil, err
	}
	groups := reactions.Group(flat, v.viewer.ID)
	v.ApplyReplyReactions(replyID, groups)
	return groups, nil
}

// PointReadReply — полное чтение одного ответа под зрителя представления.
func (v *ThreadView) PointReadReply(ctx context.Context, id string) (*model.ThreadMessage, error) {
	m, err := v.backend.GetReply(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.DeletedAt == nil {
		flat, err := v.reacts.ListByThreadMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		m.Reactions = reactions.Group(flat, v.viewer.ID)
	}
	return m, nil
}

func (v *ThreadView) Has(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.known[id]
	return ok
}

// ApplyReplyInsert пришивает ответ по created_at и двигает счётчик треда.
func (v *ThreadView) ApplyReplyInsert(m *model.ThreadMessage) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, dup := v.known[m.ID]; dup {
		return false
	}
	i := len(v.replies)
	for i > 0 && v.replies[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	v.replies = append(v.replies, model.ThreadMessage{})
	copy(v.replies[i+1:], v.replies[i:])
	v.replies[i] = *m
	v.known[m.ID] = struct{}{}
	v.thread.ReplyCount++
	t := m.CreatedAt
	v.thread.LastReplyAt = &t
	return true
}

func (v *ThreadView) ApplyReplyEdit(id, body string, editedAt *time.Time) (*model.ThreadMessage, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.replyIndex(id)
	if i < 0 {
		return nil, false
	}
	v.replies[i].Body = body
	v.replies[i].EditedAt = editedAt
	out := v.replies[i]
	return &out, true
}

func (v *ThreadView) ApplyReplyDelete(id string, at time.Time) (*model.ThreadMessage, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.replyIndex(id)
	if i < 0 {
		return nil, false
	}
	if v.replies[i].DeletedAt == nil {
		t := at
		v.replies[i].DeletedAt = &t
	}
	v.replies[i].Body = ""
	out := v.replies[i]
	return &out, true
}

func (v *ThreadView) ApplyReplyReactions(id string, groups []model.ReactionGroup) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.replyIndex(id)
	if i < 0 {
		return false
	}
	v.replies[i].Reactions = groups
	return true
}

// ApplyReplyUpdate замещает ответ свежей полной копией.
func (v *ThreadView) ApplyReplyUpdate(m *model.ThreadMessage) (*model.ThreadMessage, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	i := v.replyIndex(m.ID)
	if i < 0 {
		return nil, false
	}
	v.replies[i] = *m
	out := v.replies[i]
	return &out, true
}

func (v *ThreadView) replyIndex(id string) int {
	for i := range v.replies {
		if v.replies[i].ID == id {
			return i
		}
	}
	return -1
}
