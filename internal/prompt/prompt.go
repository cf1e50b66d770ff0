// Package prompt computes the current system prompt for a run.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parleyai/parley/internal/domain"
)

// MemoryRetriever returns remembered context for a user. Implementations may
// back this with a vector store or a plain profile field; an empty string
// means nothing retrieved.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID string) (string, error)
}

// Provider computes the system prompt text for a run. The driver calls this
// on every run, including resumed conversations, so instructions stay
// current.
type Provider interface {
	SystemPrompt(ctx context.Context, user *domain.User) (string, error)
}

// StoredMemory retrieves memory from the user's persisted profile.
type StoredMemory struct{}

// Retrieve returns the memory string stored on the user row.
func (StoredMemory) Retrieve(_ context.Context, _ string) (string, error) {
	return "", nil
}

// Builder is the default Provider: a static instruction block plus the user
// profile and retrieved memory.
type Builder struct {
	Base   string
	Memory MemoryRetriever
	Now    func() time.Time
}

// NewBuilder creates a Builder with the default base instructions.
func NewBuilder(memory MemoryRetriever) *Builder {
	return &Builder{
		Base:   defaultBase,
		Memory: memory,
		Now:    time.Now,
	}
}

const defaultBase = "You are a helpful assistant. Answer concisely and use tools when they help."

// SystemPrompt builds the current prompt text for a user.
func (b *Builder) SystemPrompt(ctx context.Context, user *domain.User) (string, error) {
	var sb strings.Builder
	sb.WriteString(b.Base)

	if user != nil {
		fmt.Fprintf(&sb, "\n\nYou are talking to %s.", user.Name())
	}

	memory := ""
	if b.Memory != nil && user != nil {
		retrieved, err := b.Memory.Retrieve(ctx, user.UserID)
		if err != nil {
			return "", fmt.Errorf("retrieve memory: %w", err)
		}
		memory = retrieved
	}
	if memory == "" && user != nil {
		memory = user.Memory
	}
	if memory != "" {
		sb.WriteString("\n\nWhat you remember about this user:\n")
		sb.WriteString(memory)
	}

	fmt.Fprintf(&sb, "\n\nCurrent date: %s.", b.Now().UTC().Format("2006-01-02"))
	return sb.String(), nil
}
