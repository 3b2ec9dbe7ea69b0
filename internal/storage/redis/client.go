package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Отметка живёт 30 дней: пользователь, не заходивший дольше, начинает с чистого
// листа, и старые сообщения не считаются непрочитанными.
const notifyReadTTL = 30 * 24 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Underlying отдаёт соединение для соседних потребителей (хранилище пуш-подписок).
func (c *Client) Underlying() *redis.Client { return c.cli }

func (c *Client) SetNotifyRead(ctx context.Context, userID string, at time.Time) error {
	return c.cli.Set(ctx, "notify_read:"+userID, at.UTC().Format(time.RFC3339Nano), notifyReadTTL).Err()
}

func (c *Client) GetNotifyRead(ctx context.Context, userID string) (time.Time, error) {
	val, err := c.cli.Get(ctx, "notify_read:"+userID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis notify_read parse: %w", err)
	}
	return t, nil
}
