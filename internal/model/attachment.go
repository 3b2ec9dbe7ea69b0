package model

import "time"

// Attachment belongs to exactly one message. StorageRef is the object-store
// key; the public URL is derived at read time and never persisted.
type Attachment struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	StorageRef string    `json:"-"`
	URL        string    `json:"url,omitempty"` // derived, not stored
	Mime       string    `json:"mime,omitempty"`
	Width      *int      `json:"width,omitempty"`
	Height     *int      `json:"height,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LinkPreview is keyed by (message_id, url). A row with only the url filled is
// the pending marker; the enrichment worker completes it later. A row that
// stays pending forever renders as a bare link.
type LinkPreview struct {
	MessageID   string    `json:"message_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Domain      string    `json:"domain,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pending reports whether enrichment has not completed for this link.
func (l *LinkPreview) Pending() bool { return l.Title == "" && l.Description == "" }
