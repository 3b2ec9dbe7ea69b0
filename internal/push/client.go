package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client вызывает сервис пуш-уведомлений из API. Если URL пустой — методы no-op
// (пуши отключены; сам фан-аут читает ленту изменений напрямую из базы).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой — пуши отключены.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SubscribeRequest — тело запроса подписки на сервис пушей.
type SubscribeRequest struct {
	UserID       string       `json:"user_id"`
	Subscription Subscription `json:"subscription"`
}

// Subscribe сохраняет подписку для user_id на push-сервисе.
func (c *Client) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if c.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(SubscribeRequest{UserID: userID, Subscription: sub})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/subscribe", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push subscribe: %d", resp.StatusCode)
	}
	return nil
}

// Unsubscribe удаляет подписку по endpoint.
func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if c.baseURL == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"user_id": userID, "endpoint": endpoint})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/subscribe", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push unsubscribe: %d", resp.StatusCode)
	}
	return nil
}
