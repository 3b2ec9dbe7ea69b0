// Package changefeed — подписка на построчные изменения хранилища.
// События считаются at-least-once и упорядоченными только в рамках одного
// соединения подписки; глобальный порядок доставки не гарантируется, потребители
// сортируют по created_at сами.
package changefeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Имена таблиц, публикуемых в ленту.
const (
	TableMessages       = "messages"
	TableDirectMessages = "direct_messages"
	TableThreadMessages = "thread_messages"
	TableReactions      = "reactions"
	TableAttachments    = "attachments"
	TableLinkPreviews   = "link_previews"
)

// Event — одно изменение строки. Row — компактная проекция строки (см. триггеры
// в миграциях), достаточная для фильтрации и мержа; полные присоединённые данные
// потребитель дочитывает точечным чтением.
type Event struct {
	Table string          `json:"table"`
	Op    Op              `json:"op"`
	Row   json.RawMessage `json:"row"`
}

// MessageRow — проекция строки сообщения (комнатного или личного) в событии.
// Тело обрезается триггером до вместимости NOTIFY; BodyTruncated заставляет
// потребителя перечитать строку вместо мержа из события.
type MessageRow struct {
	ID             string     `json:"id"`
	ContainerID    string     `json:"container_id"`
	AuthorID       *string    `json:"author_id"`
	Kind           string     `json:"kind"`
	Body           string     `json:"body"`
	BodyTruncated  bool       `json:"body_truncated"`
	HasAttachments bool       `json:"has_attachments"`
	CreatedAt      time.Time  `json:"created_at"`
	EditedAt       *time.Time `json:"edited_at"`
	DeletedAt      *time.Time `json:"deleted_at"`
}

// DecodeMessageRow разбирает проекцию строки сообщения из события.
func DecodeMessageRow(raw json.RawMessage) (MessageRow, error) {
	var row MessageRow
	err := json.Unmarshal(raw, &row)
	return row, err
}

// ReactionRow — проекция строки реакции. Контейнера в ней нет (см. схему),
// потребители фильтруют по id владельца.
type ReactionRow struct {
	MessageID       *string `json:"message_id"`
	ThreadMessageID *string `json:"thread_message_id"`
}

// EnrichmentRow — проекция строк вложений и превью ссылок: событию достаточно
// id сообщения-владельца.
type EnrichmentRow struct {
	MessageID string `json:"message_id"`
}

// Feed — источник событий. Реализации: PGListener (LISTEN/NOTIFY) и Broker
// (внутрипроцессный, для -dev и тестов).
type Feed interface {
	// Subscribe возвращает подписку на события перечисленных таблиц
	// (пустой список — все таблицы). Закрытие ctx закрывает подписку.
	Subscribe(ctx context.Context, tables ...string) *Subscription
}

// Subscription — один поток событий. Events закрывается после Close или отмены ctx.
type Subscription struct {
	events chan Event
	done   chan struct{}
	tables map[string]struct{}
	cancel func()

	sendMu sync.Mutex
	closed bool
}

func (s *Subscription) Events() <-chan Event { return s.events }

// Close освобождает подписку. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.cancel()
}

func (s *Subscription) wants(table string) bool {
	if len(s.tables) == 0 {
		return true
	}
	_, ok := s.tables[table]
	return ok
}

// publish кладёт событие в буфер подписки; переполнение — потеря события
// (потребитель восстановится полным перечитыванием страницы).
func (s *Subscription) publish(ev Event) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) shutdown() {
	s.sendMu.Lock()
	s.closed = true
	close(s.events)
	s.sendMu.Unlock()
	close(s.done)
}
