package changefeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/campushub/internal/logger"
)

// NotifyChannel — канал pg_notify, в который пишут триггеры миграций.
const NotifyChannel = "campushub_feed"

// PGListener держит выделенное соединение с Postgres в LISTEN и раздаёт
// полученные уведомления через внутренний Broker. Разрыв соединения
// переподключается с backoff; события за время разрыва теряются — потребители
// восстанавливаются перечитыванием страницы (семантика at-least-once на живом
// соединении, без replay).
type PGListener struct {
	url    string
	broker *Broker
}

func NewPGListener(databaseURL string) *PGListener {
	return &PGListener{url: databaseURL, broker: NewBroker()}
}

func (l *PGListener) Subscribe(ctx context.Context, tables ...string) *Subscription {
	return l.broker.Subscribe(ctx, tables...)
}

// Run блокирует до отмены ctx, поддерживая LISTEN-соединение.
func (l *PGListener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("changefeed: listen connection lost: %v (reconnect in %v)", err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}
	logger.Infof("changefeed: listening on %s", NotifyChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			logger.Errorf("changefeed: bad notify payload: %v", err)
			continue
		}
		logger.Debugf("changefeed: %s %s", ev.Op, ev.Table)
		l.broker.Publish(ev)
	}
}
