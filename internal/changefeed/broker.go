package changefeed

import (
	"context"
	"sync"

	"github.com/campushub/internal/logger"
)

const subscriptionBufSize = 256

// Broker — внутрипроцессная лента изменений: раздаёт опубликованные события
// всем живым подпискам. Используется в -dev режиме и тестах, а также как
// локальный распределитель под PGListener.
type Broker struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

func (b *Broker) Subscribe(ctx context.Context, tables ...string) *Subscription {
	s := &Subscription{
		events: make(chan Event, subscriptionBufSize),
		done:   make(chan struct{}),
	}
	if len(tables) > 0 {
		s.tables = make(map[string]struct{}, len(tables))
		for _, t := range tables {
			s.tables[t] = struct{}{}
		}
	}
	var once sync.Once
	s.cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			s.shutdown()
		})
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.done:
		}
	}()
	return s
}

// Publish раздаёт событие всем подпискам, которым интересна таблица.
// Переполненная подписка событие теряет (at-least-once не означает «без
// потерь на медленном потребителе»); потребители восстанавливаются полным
// перечитыванием страницы.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		if s.wants(ev.Table) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		if !s.publish(ev) {
			logger.Errorf("changefeed: subscription buffer full, dropping %s %s event", ev.Op, ev.Table)
		}
	}
}
