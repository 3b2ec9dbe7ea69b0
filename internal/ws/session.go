package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campushub/internal/changefeed"
	"github.com/campushub/internal/feed"
	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
	"github.com/campushub/internal/notify"
	"github.com/campushub/internal/reactions"
	"github.com/campushub/internal/repository"
	"github.com/campushub/internal/storage"
)

const handleTimeout = 5 * time.Second

// Outgoing — куда сессия шлёт события. Реализация — Client.
type Outgoing interface {
	Send(msg OutgoingMessage)
}

// Deps — зависимости сессии. Ридеры разные у комнат и переписок (разные
// таблицы), остальное общее.
type Deps struct {
	Feed         changefeed.Feed
	RoomReader   *feed.Reader
	ConvReader   *feed.Reader
	Enricher     feed.Enricher
	Rooms        *repository.RoomRepository
	Convs        *repository.ConversationRepository
	Threads      *repository.ThreadRepository
	ThreadReacts feed.ThreadReactions
	Reactions    *reactions.Service
	Users        *repository.UserRepository
	Marks        storage.NotifyStateStore
}

// Session — состояние одного ws-соединения: открытые представления лент и
// тредов плюс реконсилер и диспетчер уведомлений поверх ленты изменений.
// Представление живёт ровно от open_container до close_container (или конца
// сессии); никакого состояния ленты между сессиями не хранится.
type Session struct {
	deps   Deps
	viewer model.UserPublic
	out    Outgoing

	mu      sync.RWMutex
	views   map[string]*feed.Store
	threads map[string]*feed.ThreadView

	dispatcher *notify.Dispatcher
}

func NewSession(deps Deps, viewer model.UserPublic) *Session {
	return &Session{
		deps:    deps,
		viewer:  viewer,
		views:   make(map[string]*feed.Store, 4),
		threads: make(map[string]*feed.ThreadView, 2),
	}
}

// Start запускает фоновые контуры сессии; живут до отмены ctx.
func (s *Session) Start(ctx context.Context) {
	memberships := s.loadMemberships(ctx)
	s.dispatcher = notify.NewDispatcher(
		s.deps.Feed, s.viewer.ID, memberships, s, s.deps.Users.DisplayName, s.deps.Marks, s,
	)
	reconciler := feed.NewReconciler(s.deps.Feed, s, s)
	go reconciler.Run(ctx)
	go s.dispatcher.Run(ctx)
}

// loadMemberships читает множество членства один раз на сессию.
func (s *Session) loadMemberships(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	rooms, err := s.deps.Rooms.RoomIDsOf(ctx, s.viewer.ID)
	if err != nil {
		logger.Errorf("ws memberships rooms user=%s: %v", s.viewer.ID, err)
	}
	convs, err := s.deps.Convs.IDsFor(ctx, s.viewer.ID)
	if err != nil {
		logger.Errorf("ws memberships convs user=%s: %v", s.viewer.ID, err)
	}
	return append(rooms, convs...)
}

// Handle разбирает команду клиента.
func (s *Session) Handle(ctx context.Context, msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch msg.Type {
	case CmdOpenContainer:
		s.handleOpenContainer(ctx, msg)
	case CmdCloseContainer:
		s.closeView(msg.ContainerID)
	case CmdLoadOlder:
		s.handleLoadOlder(ctx, msg)
	case CmdSendMessage:
		s.handleSend(ctx, msg)
	case CmdEditMessage:
		s.handleEdit(ctx, msg)
	case CmdDeleteMessage:
		s.handleDelete(ctx, msg)
	case CmdToggleReaction:
		s.handleToggleReaction(ctx, msg)
	case CmdOpenThread:
		s.handleOpenThread(ctx, msg)
	case CmdCloseThread:
		s.closeThread(msg.ThreadID)
	case CmdThreadReply:
		s.handleThreadReply(ctx, msg)
	case CmdEditReply:
		s.handleEditReply(ctx, msg)
	case CmdDeleteReply:
		s.handleDeleteReply(ctx, msg)
	case CmdMarkRead:
		s.handleMarkRead(ctx, msg)
	default:
		s.sendError("unknown command type")
	}
}

func (s *Session) handleOpenContainer(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.openContainer", time.Now())()
	if msg.ContainerID == "" {
		s.sendError("container_id required")
		return
	}

	var reader *feed.Reader
	switch msg.Kind {
	case KindRoom, "":
		isMember, err := s.deps.Rooms.IsMember(ctx, msg.ContainerID, s.viewer.ID)
		if err != nil {
			logger.Errorf("ws membership room=%s user=%s: %v", msg.ContainerID, s.viewer.ID, err)
			s.sendError("internal error")
			return
		}
		if !isMember {
			s.sendError("not a member")
			return
		}
		reader = s.deps.RoomReader
	case KindConversation:
		conv, err := s.deps.Convs.GetByID(ctx, msg.ContainerID)
		if err != nil {
			s.sendError("conversation not found")
			return
		}
		if !conv.HasParticipant(s.viewer.ID) {
			s.sendError("not a participant")
			return
		}
		reader = s.deps.ConvReader
	default:
		s.sendError("unknown container kind")
		return
	}

	store := feed.NewStore(msg.ContainerID, s.viewer, reader, s.deps.Enricher)
	page, hasMore, err := store.LoadInitial(ctx)
	if err != nil {
		logger.Errorf("ws open %s user=%s: %v", msg.ContainerID, s.viewer.ID, err)
		s.sendError("failed to load messages")
		return
	}

	s.mu.Lock()
	s.views[msg.ContainerID] = store
	s.mu.Unlock()

	s.out.Send(OutgoingMessage{Type: EventPage, Payload: PagePayload{
		ContainerID: msg.ContainerID,
		Messages:    page,
		HasMore:     hasMore,
	}})
}

func (s *Session) handleLoadOlder(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.loadOlder", time.Now())()
	store, ok := s.View(msg.ContainerID)
	if !ok {
		s.sendError("container not open")
		return
	}
	page, hasMore, err := store.LoadOlder(ctx)
	if err != nil {
		logger.Errorf("ws load older %s user=%s: %v", msg.ContainerID, s.viewer.ID, err)
		s.sendError("failed to load older messages")
		return
	}
	s.out.Send(OutgoingMessage{Type: EventPage, Payload: PagePayload{
		ContainerID: msg.ContainerID,
		Messages:    page,
		HasMore:     hasMore,
		Older:       true,
	}})
}

func (s *Session) handleSend(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.send", time.Now())()
	store, ok := s.View(msg.ContainerID)
	if !ok {
		s.sendError("container not open")
		return
	}
	atts := make([]model.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		if a.StorageRef == "" {
			continue
		}
		atts = append(atts, model.Attachment{
			StorageRef: a.StorageRef,
			Mime:       a.Mime,
			Width:      a.Width,
			Height:     a.Height,
		})
	}
	m, err := store.Send(ctx, msg.Body, atts)
	if err != nil {
		s.sendOpError("send", err)
		return
	}
	s.out.Send(OutgoingMessage{Type: EventMessageAdded, Payload: MessagePayload{
		ContainerID: msg.ContainerID, Message: m,
	}})
}

func (s *Session) handleEdit(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.edit", time.Now())()
	store, ok := s.View(msg.ContainerID)
	if !ok {
		s.sendError("container not open")
		return
	}
	m, err := store.Edit(ctx, msg.MessageID, msg.Body)
	if err != nil {
		s.sendOpError("edit", err)
		return
	}
	s.out.Send(OutgoingMessage{Type: EventMessageUpdated, Payload: MessagePayload{
		ContainerID: msg.ContainerID, Message: m,
	}})
}

func (s *Session) handleDelete(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.delete", time.Now())()
	store, ok := s.View(msg.ContainerID)
	if !ok {
		s.sendError("container not open")
		return
	}
	m, err := store.Delete(ctx, msg.MessageID)
	if err != nil {
		s.sendOpError("delete", err)
		return
	}
	s.out.Send(OutgoingMessage{Type: EventMessageUpdated, Payload: MessagePayload{
		ContainerID: msg.ContainerID, Message: m,
	}})
}

func (s *Session) handleToggleReaction(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.toggleReaction", time.Now())()
	if msg.Emoji == "" {
		s.sendError("emoji required")
		return
	}
	if msg.ReplyID != "" {
		tv, ok := s.ThreadOf(msg.ReplyID)
		if !ok {
			s.sendError("thread not open")
			return
		}
		if _, err := s.deps.Reactions.ToggleThread(ctx, msg.ReplyID, s.viewer.ID, msg.Emoji); err != nil {
			logger.Errorf("ws toggle thread reaction %s user=%s: %v", msg.ReplyID, s.viewer.ID, err)
			s.sendError("failed to toggle reaction")
			return
		}
		groups, err := tv.RefreshReplyReactions(ctx, msg.ReplyID)
		if err != nil {
			return
		}
		s.ThreadReactionsUpdated(tv.ThreadID(), msg.ReplyID, groups)
		return
	}

	store, ok := s.ViewOf(msg.MessageID)
	if !ok {
		s.sendError("message not in an open container")
		return
	}
	if _, err := s.deps.Reactions.Toggle(ctx, msg.MessageID, s.viewer.ID, msg.Emoji); err != nil {
		logger.Errorf("ws toggle reaction %s user=%s: %v", msg.MessageID, s.viewer.ID, err)
		s.sendError("failed to toggle reaction")
		return
	}
	groups, err := store.RefreshReactions(ctx, msg.MessageID)
	if err != nil {
		return
	}
	s.ReactionsUpdated(store.ContainerID(), msg.MessageID, groups)
}

func (s *Session) handleOpenThread(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.openThread", time.Now())()
	// Тред открывается только на сообщении из открытой ленты: это и проверка
	// доступа, и гарантия отсутствия вложенных тредов (ответов в лентах нет).
	store, ok := s.ViewOf(msg.MessageID)
	if !ok {
		s.sendError("message not in an open container")
		return
	}
	tv, err := feed.OpenThread(ctx, msg.MessageID, s.viewer, s.deps.Threads, s.deps.ThreadReacts)
	if err != nil {
		logger.Errorf("ws open thread %s user=%s: %v", msg.MessageID, s.viewer.ID, err)
		s.sendError("failed to open thread")
		return
	}

	s.mu.Lock()
	s.threads[tv.ThreadID()] = tv
	s.mu.Unlock()

	store.ApplyReplyCount(msg.MessageID, tv.ReplyCount())
	s.out.Send(OutgoingMessage{Type: EventThread, Payload: ThreadPayload{
		Thread:  tv.Thread(),
		Replies: tv.Replies(),
	}})
}

func (s *Session) handleThreadReply(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.threadReply", time.Now())()
	tv, ok := s.Thread(msg.ThreadID)
	if !ok {
		s.sendError("thread not open")
		return
	}
	m, err := tv.Reply(ctx, msg.Body)
	if err != nil {
		s.sendOpError("reply", err)
		return
	}
	s.out.Send(OutgoingMessage{Type: EventReplyAdded, Payload: ReplyPayload{
		ThreadID: tv.ThreadID(), Reply: m,
	}})
	// Счётчик на корневом сообщении, если его лента открыта.
	if store, ok := s.ViewOf(tv.RootMessageID()); ok {
		if store.ApplyReplyCount(tv.RootMessageID(), tv.ReplyCount()) {
			if root, ok := store.Get(tv.RootMessageID()); ok {
				s.MessageUpdated(store.ContainerID(), root)
			}
		}
	}
}

func (s *Session) handleEditReply(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.editReply", time.Now())()
	tv, ok := s.Thread(msg.ThreadID)
	if !ok {
		s.sendError("thread not open")
		return
	}
	m, err := tv.EditReply(ctx, msg.ReplyID, msg.Body)
	if err != nil {
		s.sendOpError("edit reply", err)
		return
	}
	s.out.Send(OutgoingMessage{Type: EventReplyUpdated, Payload: ReplyPayload{
		ThreadID: tv.ThreadID(), Reply: m,
	}})
}

func (s *Session) handleDeleteReply(ctx context.Context, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.deleteReply", time.Now())()
	tv, ok := s.Thread(msg.ThreadID)
	if !ok {
		s.sendError("thread not open")
		return
	}
	m, err := tv.DeleteReply(ctx, msg.ReplyID)
	if err != nil {
		s.sendOpError("delete reply", err)
		return
	}
	s.out.Send(OutgoingMessage{Type: EventReplyUpdated, Payload: ReplyPayload{
		ThreadID: tv.ThreadID(), Reply: m,
	}})
}

func (s *Session) handleMarkRead(ctx context.Context, msg IncomingMessage) {
	at := time.Now().UTC()
	if msg.ReadAt != nil {
		at = *msg.ReadAt
	}
	if err := s.dispatcher.MarkRead(ctx, at); err != nil {
		logger.Errorf("ws mark read user=%s: %v", s.viewer.ID, err)
	}
}

func (s *Session) closeView(containerID string) {
	s.mu.Lock()
	delete(s.views, containerID)
	s.mu.Unlock()
}

func (s *Session) closeThread(threadID string) {
	s.mu.Lock()
	_, open := s.threads[threadID]
	delete(s.threads, threadID)
	s.mu.Unlock()
	if open {
		s.out.Send(OutgoingMessage{Type: EventThreadClosed, Payload: ThreadClosedPayload{ThreadID: threadID}})
	}
}

// --- feed.Views ---

func (s *Session) View(containerID string) (*feed.Store, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	store, ok := s.views[containerID]
	return store, ok
}

func (s *Session) ViewOf(messageID string) (*feed.Store, bool) {
	s.mu.RLock()
	stores := make([]*feed.Store, 0, len(s.views))
	for _, store := range s.views {
		stores = append(stores, store)
	}
	s.mu.RUnlock()
	for _, store := range stores {
		if store.Has(messageID) {
			return store, true
		}
	}
	return nil, false
}

func (s *Session) Thread(threadID string) (*feed.ThreadView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tv, ok := s.threads[threadID]
	return tv, ok
}

func (s *Session) ThreadOf(replyID string) (*feed.ThreadView, bool) {
	s.mu.RLock()
	views := make([]*feed.ThreadView, 0, len(s.threads))
	for _, tv := range s.threads {
		views = append(views, tv)
	}
	s.mu.RUnlock()
	for _, tv := range views {
		if tv.Has(replyID) {
			return tv, true
		}
	}
	return nil, false
}

// --- feed.Sink ---

func (s *Session) MessageAdded(containerID string, m *model.Message) {
	s.out.Send(OutgoingMessage{Type: EventMessageAdded, Payload: MessagePayload{ContainerID: containerID, Message: m}})
}

func (s *Session) MessageUpdated(containerID string, m *model.Message) {
	s.out.Send(OutgoingMessage{Type: EventMessageUpdated, Payload: MessagePayload{ContainerID: containerID, Message: m}})
}

func (s *Session) ReactionsUpdated(containerID, messageID string, groups []model.ReactionGroup) {
	s.out.Send(OutgoingMessage{Type: EventReactions, Payload: ReactionsPayload{ContainerID: containerID, MessageID: messageID, Groups: groups}})
}

func (s *Session) ThreadReplyAdded(threadID string, m *model.ThreadMessage) {
	s.out.Send(OutgoingMessage{Type: EventReplyAdded, Payload: ReplyPayload{ThreadID: threadID, Reply: m}})
}

func (s *Session) ThreadReplyUpdated(threadID string, m *model.ThreadMessage) {
	s.out.Send(OutgoingMessage{Type: EventReplyUpdated, Payload: ReplyPayload{ThreadID: threadID, Reply: m}})
}

func (s *Session) ThreadReactionsUpdated(threadID, replyID string, groups []model.ReactionGroup) {
	s.out.Send(OutgoingMessage{Type: EventThreadReactions, Payload: ThreadReactionsPayload{ThreadID: threadID, ReplyID: replyID, Groups: groups}})
}

// --- notify.Notifier / notify.OpenChecker ---

func (s *Session) Notify(n *notify.Notification) {
	s.out.Send(OutgoingMessage{Type: EventNotification, Payload: n})
}

func (s *Session) IsOpen(containerID string) bool {
	_, ok := s.View(containerID)
	return ok
}

func (s *Session) sendError(msg string) {
	s.out.Send(OutgoingMessage{Type: EventError, Payload: msg})
}

// sendOpError переводит типизированные отказы в понятные клиенту тексты.
func (s *Session) sendOpError(op string, err error) {
	switch {
	case errors.Is(err, feed.ErrEmptyMessage):
		s.sendError("message is empty")
	case errors.Is(err, feed.ErrBodyTooLong):
		s.sendError("message is too long")
	case errors.Is(err, feed.ErrEditWindow):
		s.sendError("edit window expired")
	case errors.Is(err, repository.ErrAuthorizationDenied):
		s.sendError("not allowed")
	case errors.Is(err, repository.ErrNotFound):
		s.sendError("not found")
	default:
		logger.Errorf("ws %s user=%s: %v", op, s.viewer.ID, err)
		s.sendError("failed to " + op)
	}
}
