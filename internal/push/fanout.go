package push

import (
	"context"
	"time"

	"github.com/campushub/internal/changefeed"
	"github.com/campushub/internal/logger"
)

// previewLen — длина текстового превью в пуше.
const previewLen = 120

// RecipientsFunc возвращает всех получателей контейнера (участники комнаты
// или пара переписки).
type RecipientsFunc func(ctx context.Context, containerID string) ([]string, error)

// NameFunc — имя автора для заголовка пуша.
type NameFunc func(ctx context.Context, userID string) (string, error)

// Fanout слушает ленту изменений и рассылает пуши всем получателям нового
// сообщения, кроме автора. Fanout безсостоянен: упавший и перезапущенный
// процесс просто продолжает с новых событий, старые пуши не доотправляются.
type Fanout struct {
	feed      changefeed.Feed
	rooms     RecipientsFunc
	convs     RecipientsFunc
	name      NameFunc
	subs      SubscriptionStore
	transport Transport
}

func NewFanout(feed changefeed.Feed, rooms, convs RecipientsFunc, name NameFunc, subs SubscriptionStore, transport Transport) *Fanout {
	return &Fanout{feed: feed, rooms: rooms, convs: convs, name: name, subs: subs, transport: transport}
}

// Run блокирует до отмены ctx.
func (f *Fanout) Run(ctx context.Context) {
	sub := f.feed.Subscribe(ctx, changefeed.TableMessages, changefeed.TableDirectMessages)
	defer sub.Close()

	for ev := range sub.Events() {
		if ev.Op != changefeed.OpInsert {
			continue
		}
		row, err := changefeed.DecodeMessageRow(ev.Row)
		if err != nil {
			logger.Errorf("fanout: bad %s row: %v", ev.Table, err)
			continue
		}
		f.deliver(ctx, ev.Table, row)
	}
}

func (f *Fanout) deliver(ctx context.Context, table string, row changefeed.MessageRow) {
	// Системные сообщения и надгробия пушей не порождают.
	if row.AuthorID == nil || row.Kind != "normal" || row.DeletedAt != nil {
		return
	}
	recipients := f.rooms
	if table == changefeed.TableDirectMessages {
		recipients = f.convs
	}
	users, err := recipients(ctx, row.ContainerID)
	if err != nil {
		logger.Errorf("fanout: recipients of %s: %v", row.ContainerID, err)
		return
	}

	authorName, err := f.name(ctx, *row.AuthorID)
	if err != nil {
		logger.Errorf("fanout: author %s: %v", *row.AuthorID, err)
		authorName = "Кто-то"
	}
	payload := &Payload{
		Title: authorName,
		Body:  preview(row),
		Tag:   row.ContainerID,
		Data: map[string]string{
			"container_id": row.ContainerID,
			"message_id":   row.ID,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, userID := range users {
		if userID == *row.AuthorID {
			continue
		}
		subs, err := f.subs.List(sendCtx, userID)
		if err != nil {
			logger.Errorf("fanout: subs of %s: %v", userID, err)
			continue
		}
		for _, sub := range subs {
			if f.transport.Send(sendCtx, sub, payload) == StatusGone {
				if err := f.subs.Remove(sendCtx, userID, sub.Endpoint); err != nil {
					logger.Errorf("fanout: prune sub of %s: %v", userID, err)
				}
			}
		}
	}
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
