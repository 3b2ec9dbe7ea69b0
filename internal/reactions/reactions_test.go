package reactions

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/campushub/internal/model"
)

func strp(s string) *string { return &s }

func TestGroup(t *testing.T) {
	now := time.Now().UTC()
	row := func(user, emoji string) model.Reaction {
		return model.Reaction{MessageID: strp("m1"), UserID: user, Emoji: emoji, CreatedAt: now}
	}

	tests := []struct {
		name     string
		rows     []model.Reaction
		viewerID string
		want     []model.ReactionGroup
	}{
		{
			name: "Empty",
			rows: nil,
			want: nil,
		},
		{
			name:     "GroupsKeepFirstOccurrenceOrder",
			viewerID: "v",
			rows: []model.Reaction{
				row("a", "🔥"),
				row("b", "👍"),
				row("c", "🔥"),
				row("d", "👍"),
				row("e", "👍"),
			},
			want: []model.ReactionGroup{
				{Emoji: "🔥", Count: 2, Users: []string{"a", "c"}},
				{Emoji: "👍", Count: 3, Users: []string{"b", "d", "e"}},
			},
		},
		{
			name:     "ViewerFlag",
			viewerID: "b",
			rows: []model.Reaction{
				row("a", "🔥"),
				row("b", "👍"),
			},
			want: []model.ReactionGroup{
				{Emoji: "🔥", Count: 1, Users: []string{"a"}},
				{Emoji: "👍", Count: 1, Users: []string{"b"}, ViewerHasReacted: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Group(tt.rows, tt.viewerID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Group() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type fakeToggleStore struct {
	present map[string]bool
}

func (f *fakeToggleStore) key(id, user, emoji string) string { return id + "|" + user + "|" + emoji }

func (f *fakeToggleStore) ToggleMessage(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	k := f.key(messageID, userID, emoji)
	if f.present[k] {
		delete(f.present, k)
		return false, nil
	}
	f.present[k] = true
	return true, nil
}

func (f *fakeToggleStore) ToggleThreadMessage(ctx context.Context, id, userID, emoji string) (bool, error) {
	return f.ToggleMessage(ctx, id, userID, emoji)
}

func TestServiceToggle(t *testing.T) {
	svc := NewService(&fakeToggleStore{present: map[string]bool{}})

	got, err := svc.Toggle(context.Background(), "m1", "v", "🔥")
	if err != nil || got != ToggleAdded {
		t.Fatalf("first toggle: got (%v, %v), want added", got, err)
	}
	got, err = svc.Toggle(context.Background(), "m1", "v", "🔥")
	if err != nil || got != ToggleRemoved {
		t.Fatalf("second toggle: got (%v, %v), want removed", got, err)
	}
	// Та же эмодзи другого пользователя — независимая реакция.
	got, err = svc.Toggle(context.Background(), "m1", "w", "🔥")
	if err != nil || got != ToggleAdded {
		t.Fatalf("other user toggle: got (%v, %v), want added", got, err)
	}
}
