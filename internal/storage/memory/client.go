package memory

import (
	"context"
	"sync"
	"time"
)

const notifyReadTTL = 30 * 24 * time.Hour

type item struct {
	val time.Time
	exp time.Time
}

type Client struct {
	mu    sync.RWMutex
	reads map[string]item
}

func New() *Client {
	return &Client{reads: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetNotifyRead(ctx context.Context, userID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[userID] = item{val: at.UTC(), exp: time.Now().Add(notifyReadTTL)}
	return nil
}

func (c *Client) GetNotifyRead(ctx context.Context, userID string) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.reads[userID]
	if !ok || time.Now().After(v.exp) {
		return time.Time{}, nil
	}
	return v.val, nil
}
