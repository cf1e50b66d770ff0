// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/parleyai/parley/internal/domain"
)

// Repository defines the interface for persisting users, conversations and
// messages. Message order within a conversation is creation order; rows are
// append-only.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetConversation retrieves a conversation by id. Returns nil, nil when
	// it does not exist.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// CreateConversation inserts a new conversation row.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// TouchConversation bumps updated_at and records the selected model.
	TouchConversation(ctx context.Context, id, model string, at time.Time) error

	// ListConversations returns the user's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)

	// AppendMessage inserts a new message row. Messages are never mutated
	// after creation.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a conversation's messages in creation order.
	ListMessages(ctx context.Context, conversationID string) ([]*domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
