// Package notify — внутрисессионные уведомления о сообщениях в чужих
// (не открытых сейчас) контейнерах пользователя.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campushub/internal/changefeed"
	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/storage"
)

// seenCap ограничивает память дедупликации. Набор очищается при заполнении:
// редкий повторный показ уведомления дешевле неограниченного роста.
const seenCap = 100

const previewLen = 120

// Notification — то, что сессия шлёт клиенту для показа тоста.
type Notification struct {
	ContainerID string    `json:"container_id"`
	MessageID   string    `json:"message_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notifier получает готовые уведомления. Реализация — ws-сессия.
type Notifier interface {
	Notify(n *Notification)
}

// OpenChecker сообщает, открыт ли контейнер в сессии: по открытой ленте
// уведомления не нужны, сообщение и так на экране.
type OpenChecker interface {
	IsOpen(containerID string) bool
}

// NameFunc — имя автора для заголовка уведомления.
type NameFunc func(ctx context.Context, userID string) (string, error)

// Dispatcher превращает события ленты изменений в уведомления одной сессии.
// Множество членства читается один раз при старте сессии и внутри неё не
// обновляется: вступление в комнату начнёт приносить уведомления со
// следующей сессии.
type Dispatcher struct {
	feed        changefeed.Feed
	userID      string
	memberships map[string]struct{}
	open        OpenChecker
	name        NameFunc
	marks       storage.NotifyStateStore
	out         Notifier

	mu       sync.Mutex
	seen     map[string]struct{}
	readMark time.Time
}

func NewDispatcher(feed changefeed.Feed, userID string, memberships []string, open OpenChecker, name NameFunc, marks storage.NotifyStateStore, out Notifier) *Dispatcher {
	set := make(map[string]struct{}, len(memberships))
	for _, id := range memberships {
		set[id] = struct{}{}
	}
	return &Dispatcher{
		feed:        feed,
		userID:      userID,
		memberships: set,
		open:        open,
		name:        name,
		marks:       marks,
		out:         out,
		seen:        make(map[string]struct{}, seenCap),
	}
}

// Run блокирует до отмены ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	mark, err := d.marks.GetNotifyRead(ctx, d.userID)
	if err != nil {
		logger.Errorf("notify: read mark of %s: %v", d.userID, err)
	}
	d.mu.Lock()
	d.readMark = mark
	d.mu.Unlock()

	sub := d.feed.Subscribe(ctx, changefeed.TableMessages, changefeed.TableDirectMessages)
	defer sub.Close()

	for ev := range sub.Events() {
		if ev.Op != changefeed.OpInsert {
			continue
		}
		row, err := changefeed.DecodeMessageRow(ev.Row)
		if err != nil {
			logger.Errorf("notify: bad %s row: %v", ev.Table, err)
			continue
		}
		d.handle(ctx, row)
	}
}

// MarkRead двигает отметку прочтения: сообщения старше неё не уведомляются.
func (d *Dispatcher) MarkRead(ctx context.Context, at time.Time) error {
	d.mu.Lock()
	if at.After(d.readMark) {
		d.readMark = at
	}
	d.mu.Unlock()
	return d.marks.SetNotifyRead(ctx, d.userID, at)
}

func (d *Dispatcher) handle(ctx context.Context, row changefeed.MessageRow) {
	if row.AuthorID == nil || *row.AuthorID == d.userID {
		return
	}
	if row.Kind != "normal" || row.DeletedAt != nil {
		return
	}
	if _, member := d.memberships[row.ContainerID]; !member {
		return
	}
	if d.open.IsOpen(row.ContainerID) {
		return
	}

	d.mu.Lock()
	if !row.CreatedAt.After(d.readMark) {
		d.mu.Unlock()
		return
	}
	if _, dup := d.seen[row.ID]; dup {
		d.mu.Unlock()
		return
	}
	if len(d.seen) >= seenCap {
		d.seen = make(map[string]struct{}, seenCap)
	}
	d.seen[row.ID] = struct{}{}
	d.mu.Unlock()

	authorName, err := d.name(ctx, *row.AuthorID)
	if err != nil {
		logger.Errorf("notify: author %s: %v", *row.AuthorID, err)
		authorName = "Кто-то"
	}

	d.out.Notify(&Notification{
		ContainerID: row.ContainerID,
		MessageID:   row.ID,
		Title:       fmt.Sprintf("Сообщение от %s", authorName),
		Body:        preview(row),
		CreatedAt:   row.CreatedAt,
	})
}

func preview(row changefeed.MessageRow) string {
	if row.Body == "" {
		if row.HasAttachments {
			return "Вложение"
		}
		return "Новое сообщение"
	}
	runes := []rune(row.Body)
	if len(runes) > previewLen {
		return string(runes[:previewLen]) + "…"
	}
	return row.Body
}
