package storage

import (
	"context"
	"time"
)

// NotifyStateStore — отметка "уведомления прочитаны до": сообщения старше неё
// диспетчер не превращает в уведомления.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type NotifyStateStore interface {
	SetNotifyRead(ctx context.Context, userID string, at time.Time) error
	// GetNotifyRead возвращает нулевое время, если отметки нет.
	GetNotifyRead(ctx context.Context, userID string) (time.Time, error)
	Close() error
}
