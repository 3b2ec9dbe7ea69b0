package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/campushub/internal/changefeed"
	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
	"github.com/campushub/internal/repository"
)

// Views — открытые представления одной сессии. Реализация — ws-сессия.
type Views interface {
	// View — представление контейнера, если он открыт.
	View(containerID string) (*Store, bool)
	// ViewOf — представление, в окне которого лежит сообщение.
	ViewOf(messageID string) (*Store, bool)
	// Thread — открытый тред.
	Thread(threadID string) (*ThreadView, bool)
	// ThreadOf — открытый тред, содержащий ответ.
	ThreadOf(replyID string) (*ThreadView, bool)
}

// Sink получает результат применения событий — то, что сессия шлёт клиенту.
type Sink interface {
	MessageAdded(containerID string, m *model.Message)
	MessageUpdated(containerID string, m *model.Message)
	ReactionsUpdated(containerID, messageID string, groups []model.ReactionGroup)
	ThreadReplyAdded(threadID string, m *model.ThreadMessage)
	ThreadReplyUpdated(threadID string, m *model.ThreadMessage)
	ThreadReactionsUpdated(threadID, replyID string, groups []model.ReactionGroup)
}

// Reconciler применяет события ленты изменений к открытым представлениям
// сессии. События одной подписки обрабатываются последовательно, поэтому
// внутри сессии порядок применения стабилен. Событие о строке, которой уже
// нет (гонка с удалением), молча отбрасывается: надгробие доедет своим
// событием. Событие о сообщении, уже лежащем в окне (собственное эхо),
// отсеивается по id.
type Reconciler struct {
	feed  changefeed.Feed
	views Views
	sink  Sink
}

func NewReconciler(f changefeed.Feed, views Views, sink Sink) *Reconciler {
	return &Reconciler{feed: f, views: views, sink: sink}
}

// Run блокирует до отмены ctx, применяя события по мере поступления.
func (r *Reconciler) Run(ctx context.Context) {
	sub := r.feed.Subscribe(ctx,
		changefeed.TableMessages,
		changefeed.TableDirectMessages,
		changefeed.TableThreadMessages,
		changefeed.TableReactions,
		changefeed.TableAttachments,
		changefeed.TableLinkPreviews,
	)
	defer sub.Close()

	for ev := range sub.Events() {
		r.handle(ctx, ev)
	}
}

func (r *Reconciler) handle(ctx context.Context, ev changefeed.Event) {
	switch ev.Table {
	case changefeed.TableMessages, changefeed.TableDirectMessages:
		var row changefeed.MessageRow
		if err := json.Unmarshal(ev.Row, &row); err != nil {
			logger.Errorf("reconciler: bad %s row: %v", ev.Table, err)
			return
		}
		r.handleMessage(ctx, ev.Op, row)
	case changefeed.TableThreadMessages:
		var row changefeed.MessageRow
		if err := json.Unmarshal(ev.Row, &row); err != nil {
			logger.Errorf("reconciler: bad thread row: %v", err)
			return
		}
		r.handleThreadReply(ctx, ev.Op, row)
	case changefeed.TableReactions:
		var row changefeed.ReactionRow
		if err := json.Unmarshal(ev.Row, &row); err != nil {
			logger.Errorf("reconciler: bad reaction row: %v", err)
			return
		}
		r.handleReaction(ctx, row)
	case changefeed.TableAttachments, changefeed.TableLinkPreviews:
		var row changefeed.EnrichmentRow
		if err := json.Unmarshal(ev.Row, &row); err != nil {
			logger.Errorf("reconciler: bad enrichment row: %v", err)
			return
		}
		r.handleEnrichment(ctx, row)
	}
}

func (r *Reconciler) handleMessage(ctx context.Context, op changefeed.Op, row changefeed.MessageRow) {
	store, ok := r.views.View(row.ContainerID)
	if !ok {
		return
	}
	switch op {
	case changefeed.OpInsert:
		if store.Has(row.ID) {
			return
		}
		m, err := store.PointRead(ctx, row.ID)
		if err != nil {
			r.dropRead("message", row.ID, err)
			return
		}
		if store.ApplyInsert(m) {
			r.sink.MessageAdded(row.ContainerID, m)
		}
	case changefeed.OpUpdate:
		if row.DeletedAt != nil {
			if m, ok := store.ApplyDelete(row.ID, *row.DeletedAt); ok {
				r.sink.MessageUpdated(row.ContainerID, m)
			}
			return
		}
		if row.BodyTruncated || !store.Has(row.ID) {
			// Тело не влезло в событие (или окно сообщения не знает):
			// полное перечитывание вместо мержа.
			m, err := store.PointRead(ctx, row.ID)
			if err != nil {
				r.dropRead("message", row.ID, err)
				return
			}
			if m2, ok := store.ApplyUpdate(m); ok {
				r.sink.MessageUpdated(row.ContainerID, m2)
			}
			return
		}
		if m, ok := store.ApplyEdit(row.ID, row.Body, false, row.EditedAt); ok {
			r.sink.MessageUpdated(row.ContainerID, m)
		}
	case changefeed.OpDelete:
		// Физическое удаление строки трактуем как надгробие на месте.
		at := time.Now().UTC()
		if row.DeletedAt != nil {
			at = *row.DeletedAt
		}
		if m, ok := store.ApplyDelete(row.ID, at); ok {
			r.sink.MessageUpdated(row.ContainerID, m)
		}
	}
}

func (r *Reconciler) handleThreadReply(ctx context.Context, op changefeed.Op, row changefeed.MessageRow) {
	// ContainerID строки треда — thread_id.
	tv, ok := r.views.Thread(row.ContainerID)
	if !ok {
		return
	}
	switch op {
	case changefeed.OpInsert:
		if tv.Has(row.ID) {
			return
		}
		m, err := tv.PointReadReply(ctx, row.ID)
		if err != nil {
			r.dropRead("thread reply", row.ID, err)
			return
		}
		if tv.ApplyReplyInsert(m) {
			r.sink.ThreadReplyAdded(tv.ThreadID(), m)
			r.bumpReplyCount(tv)
		}
	case changefeed.OpUpdate:
		if row.DeletedAt != nil {
			if m, ok := tv.ApplyReplyDelete(row.ID, *row.DeletedAt); ok {
				r.sink.ThreadReplyUpdated(tv.ThreadID(), m)
			}
			return
		}
		if row.BodyTruncated {
			m, err := tv.PointReadReply(ctx, row.ID)
			if err != nil {
				r.dropRead("thread reply", row.ID, err)
				return
			}
			if m2, ok := tv.ApplyReplyUpdate(m); ok {
				r.sink.ThreadReplyUpdated(tv.ThreadID(), m2)
			}
			return
		}
		if m, ok := tv.ApplyReplyEdit(row.ID, row.Body, row.EditedAt); ok {
			r.sink.ThreadReplyUpdated(tv.ThreadID(), m)
		}
	}
}

// bumpReplyCount обновляет счётчик треда на корневом сообщении, если его
// контейнер тоже открыт в этой сессии.
func (r *Reconciler) bumpReplyCount(tv *ThreadView) {
	store, ok := r.views.ViewOf(tv.RootMessageID())
	if !ok {
		return
	}
	if store.ApplyReplyCount(tv.RootMessageID(), tv.ReplyCount()) {
		if m, ok := store.Get(tv.RootMessageID()); ok {
			r.sink.MessageUpdated(store.ContainerID(), m)
		}
	}
}

func (r *Reconciler) handleReaction(ctx context.Context, row changefeed.ReactionRow) {
	// В строке реакции нет контейнера: ищем представление, знающее владельца.
	if row.MessageID != nil {
		store, ok := r.views.ViewOf(*row.MessageID)
		if !ok {
			return
		}
		groups, err := store.RefreshReactions(ctx, *row.MessageID)
		if err != nil {
			r.dropRead("reactions", *row.MessageID, err)
			return
		}
		r.sink.ReactionsUpdated(store.ContainerID(), *row.MessageID, groups)
		return
	}
	if row.ThreadMessageID != nil {
		tv, ok := r.views.ThreadOf(*row.ThreadMessageID)
		if !ok {
			return
		}
		groups, err := tv.RefreshReplyReactions(ctx, *row.ThreadMessageID)
		if err != nil {
			r.dropRead("thread reactions", *row.ThreadMessageID, err)
			return
		}
		r.sink.ThreadReactionsUpdated(tv.ThreadID(), *row.ThreadMessageID, groups)
	}
}

func (r *Reconciler) handleEnrichment(ctx context.Context, row changefeed.EnrichmentRow) {
	store, ok := r.views.ViewOf(row.MessageID)
	if !ok {
		return
	}
	m, err := store.PointRead(ctx, row.MessageID)
	if err != nil {
		r.dropRead("enrichment", row.MessageID, err)
		return
	}
	if m2, ok := store.ApplyUpdate(m); ok {
		r.sink.MessageUpdated(store.ContainerID(), m2)
	}
}

func (r *Reconciler) dropRead(kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debugf("reconciler: %s %s vanished, dropping event", kind, id)
		return
	}
	logger.Errorf("reconciler: read %s %s: %v", kind, id, err)
}
