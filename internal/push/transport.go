package push

import (
	"context"
	"encoding/json"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/campushub/internal/logger"
)

type Status int

const (
	StatusOK Status = iota
	// StatusGone — endpoint мёртв (браузер отозвал подписку), её надо удалить.
	StatusGone
	StatusFailed
)

// Payload — содержимое пуша, как его увидит service worker.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Tag   string            `json:"tag,omitempty"` // id контейнера: браузер схлопывает пуши одной ленты
	Data  map[string]string `json:"data,omitempty"`
}

// Transport отправляет один пуш на одну подписку.
type Transport interface {
	Send(ctx context.Context, sub Subscription, p *Payload) Status
}

// WebPush — транспорт поверх протокола Web Push с VAPID-подписью.
type WebPush struct {
	opts *webpush.Options
}

func NewWebPush(subscriber, publicKey, privateKey string) *WebPush {
	return &WebPush{opts: &webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  publicKey,
		VAPIDPrivateKey: privateKey,
		TTL:             30,
	}}
}

func (t *WebPush) Send(ctx context.Context, sub Subscription, p *Payload) Status {
	payloadBytes, _ := json.Marshal(p)
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, wpSub, t.opts)
	if err != nil {
		logger.Errorf("push: send %s: %v", shortEndpoint(sub.Endpoint), err)
		return StatusFailed
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == 410 || resp.StatusCode == 404:
		return StatusGone
	case resp.StatusCode >= 400:
		logger.Errorf("push: send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		return StatusFailed
	}
	return StatusOK
}

func shortEndpoint(endpoint string) string {
	if len(endpoint) > 50 {
		return endpoint[:50]
	}
	return endpoint
}
