// Package push — серверная доставка Web Push: хранилище браузерных подписок
// и отправка уведомлений через VAPID.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campushub/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// Subscription — подписка из браузера.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscriptionStore хранит подписки пользователя. У пользователя до
// maxSubsPerUser подписок (устройств); самые старые вытесняются.
type SubscriptionStore interface {
	Add(ctx context.Context, userID string, sub Subscription) error
	List(ctx context.Context, userID string) ([]Subscription, error)
	// Remove удаляет подписку по endpoint (отписка или мёртвый endpoint).
	Remove(ctx context.Context, userID, endpoint string) error
}

// RedisSubscriptions — список подписок в Redis-списке на пользователя.
type RedisSubscriptions struct {
	rdb *redis.Client
}

func NewRedisSubscriptions(rdb *redis.Client) *RedisSubscriptions {
	return &RedisSubscriptions{rdb: rdb}
}

func (s *RedisSubscriptions) Add(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSubscriptions) List(ctx context.Context, userID string) ([]Subscription, error) {
	list, err := s.rdb.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]Subscription, 0, len(list))
	for _, item := range list {
		var sub Subscription
		if err := json.Unmarshal([]byte(item), &sub); err != nil || sub.Endpoint == "" {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Remove пересобирает список без подписки с данным endpoint.
func (s *RedisSubscriptions) Remove(ctx context.Context, userID, endpoint string) error {
	key := redisKeyPrefix + userID
	list, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	var kept []string
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return err
	}
	for _, v := range kept {
		if err := s.rdb.RPush(ctx, key, v).Err(); err != nil {
			return err
		}
	}
	if len(kept) > 0 {
		if err := s.rdb.Expire(ctx, key, subscriptionTTL).Err(); err != nil {
			logger.Errorf("push: expire %s: %v", key, err)
		}
	}
	return nil
}

// MemorySubscriptions — для -dev без Redis и для тестов.
type MemorySubscriptions struct {
	mu   sync.Mutex
	subs map[string][]Subscription
}

func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{subs: make(map[string][]Subscription)}
}

func (s *MemorySubscriptions) Add(ctx context.Context, userID string, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.subs[userID], sub)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	s.subs[userID] = list
	return nil
}

func (s *MemorySubscriptions) List(ctx context.Context, userID string) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, len(s.subs[userID]))
	copy(out, s.subs[userID])
	return out, nil
}

func (s *MemorySubscriptions) Remove(ctx context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Subscription
	for _, sub := range s.subs[userID] {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(s.subs, userID)
	} else {
		s.subs[userID] = kept
	}
	return nil
}
