package model

import "time"

// Conversation — личная переписка ровно двух участников. Пара хранится в
// каноническом порядке (ParticipantA < ParticipantB), чтобы поиск существующей
// переписки и уникальный индекс были однозначны.
type Conversation struct {
	ID            string     `json:"id"`
	ParticipantA  string     `json:"participant_a"`
	ParticipantB  string     `json:"participant_b"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NormalizePair приводит пару участников к каноническому порядку.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// HasParticipant reports whether uid is one of the two participants.
func (c *Conversation) HasParticipant(uid string) bool {
	return c.ParticipantA == uid || c.ParticipantB == uid
}

// Other returns the counterpart of uid, or "" when uid is not a participant.
func (c *Conversation) Other(uid string) string {
	switch uid {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}
