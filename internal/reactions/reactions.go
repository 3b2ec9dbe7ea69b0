// Package reactions aggregates flat reaction rows into per-emoji groups and
// owns the toggle operation.
package reactions

import (
	"context"

	"github.com/campushub/internal/model"
)

// Group reduces flat (user, emoji) rows into per-emoji groups. Groups appear
// in first-occurrence order, not sorted by count or alphabet, so a feed patch
// does not shuffle chips the viewer is looking at.
func Group(reactions []model.Reaction, viewerID string) []model.ReactionGroup {
	if len(reactions) == 0 {
		return nil
	}
	index := make(map[string]int, 4)
	groups := make([]model.ReactionGroup, 0, 4)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, model.ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
		if r.UserID == viewerID {
			groups[i].ViewerHasReacted = true
		}
	}
	return groups
}

// ToggleStore — условная вставка/удаление реакции в хранилище.
// Реализация — repository.ReactionRepository.
type ToggleStore interface {
	ToggleMessage(ctx context.Context, messageID, userID, emoji string) (added bool, err error)
	ToggleThreadMessage(ctx context.Context, threadMessageID, userID, emoji string) (added bool, err error)
}

// ToggleResult сообщает, что произошло с реакцией.
type ToggleResult string

const (
	ToggleAdded   ToggleResult = "added"
	ToggleRemoved ToggleResult = "removed"
)

// Service переключает реакции поверх условной операции хранилища.
type Service struct {
	store ToggleStore
}

func NewService(store ToggleStore) *Service {
	return &Service{store: store}
}

// Toggle добавляет реакцию, если её нет, иначе убирает.
func (s *Service) Toggle(ctx context.Context, messageID, viewerID, emoji string) (ToggleResult, error) {
	added, err := s.store.ToggleMessage(ctx, messageID, viewerID, emoji)
	if err != nil {
		return "", err
	}
	if added {
		return ToggleAdded, nil
	}
	return ToggleRemoved, nil
}

// ToggleThread — то же для ответа в треде.
func (s *Service) ToggleThread(ctx context.Context, threadMessageID, viewerID, emoji string) (ToggleResult, error) {
	added, err := s.store.ToggleThreadMessage(ctx, threadMessageID, viewerID, emoji)
	if err != nil {
		return "", err
	}
	if added {
		return ToggleAdded, nil
	}
	return ToggleRemoved, nil
}
