package domain

import (
	"strings"
	"time"
)

// Conversation is a persisted chat thread owned by one user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one persisted model request or model response within a
// conversation. Messages are append-only; rows are never rewritten after
// creation, and ordering is creation order.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Parts          []Part    `json:"parts"`
	IsRequest      bool      `json:"is_request"`
	CreatedAt      time.Time `json:"created_at"`
}

const maxTitleLen = 80

// TitleFromParts derives a conversation title from the first user text part.
func TitleFromParts(parts []Part) string {
	for _, p := range parts {
		text, ok := p.(TextPart)
		if !ok {
			continue
		}
		title := strings.TrimSpace(text.Text)
		if title == "" {
			continue
		}
		if line, _, found := strings.Cut(title, "\n"); found {
			title = strings.TrimSpace(line)
		}
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen]
		}
		return title
	}
	return "New conversation"
}
