package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleyai/parley/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestUserLifecycle(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetUser(ctx, "missing")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for unknown user")
	}

	now := time.Now().Truncate(time.Second)
	user := &domain.User{
		UserID:     "user-1",
		Username:   "anon-1",
		Memory:     "likes concise answers",
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.UpsertUser(ctx, user); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err = repo.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil || got.Username != "anon-1" || got.Memory != "likes concise answers" {
		t.Fatalf("unexpected user: %+v", got)
	}

	if err := repo.UpdateLastSeen(ctx, "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateLastSeen failed: %v", err)
	}
	got, _ = repo.GetUser(ctx, "user-1")
	if !got.LastSeenAt.After(now) {
		t.Fatalf("last seen not bumped: %v", got.LastSeenAt)
	}
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	conv := &domain.Conversation{
		ID:        "conv-1",
		UserID:    "user-1",
		Title:     "Goroutines",
		Model:     "m1",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, err := repo.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil || got.Title != "Goroutines" || got.Model != "m1" {
		t.Fatalf("unexpected conversation: %+v", got)
	}
	if missing, _ := repo.GetConversation(ctx, "nope"); missing != nil {
		t.Fatal("expected nil for unknown conversation")
	}

	if err := repo.TouchConversation(ctx, "conv-1", "m2", now.Add(time.Hour)); err != nil {
		t.Fatalf("TouchConversation failed: %v", err)
	}
	got, _ = repo.GetConversation(ctx, "conv-1")
	if got.Model != "m2" || !got.UpdatedAt.After(now) {
		t.Fatalf("touch not applied: %+v", got)
	}
	if err := repo.TouchConversation(ctx, "nope", "m2", now); err == nil {
		t.Fatal("expected error touching unknown conversation")
	}
}

func TestListConversationsOrdersByRecency(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for i, id := range []string{"old", "newer", "newest"} {
		conv := &domain.Conversation{
			ID:        id,
			UserID:    "user-1",
			Title:     id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation failed: %v", err)
		}
	}
	other := &domain.Conversation{ID: "theirs", UserID: "user-2", Title: "x", CreatedAt: base, UpdatedAt: base}
	if err := repo.CreateConversation(ctx, other); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	convs, err := repo.ListConversations(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(convs) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(convs))
	}
	if convs[0].ID != "newest" || convs[2].ID != "old" {
		t.Fatalf("wrong order: %s, %s, %s", convs[0].ID, convs[1].ID, convs[2].ID)
	}
}

func TestMessagesRoundTripInCreationOrder(t *testing.T) {
	t.Parallel()

	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	request := &domain.Message{
		ID:             "m1",
		ConversationID: "conv-1",
		Parts: []domain.Part{
			domain.SystemPromptPart{Text: "be brief"},
			domain.TextPart{Text: "hi"},
		},
		IsRequest: true,
		CreatedAt: now,
	}
	response := &domain.Message{
		ID:             "m2",
		ConversationID: "conv-1",
		Parts: []domain.Part{
			domain.ToolCallPart{ToolName: "search", Args: json.RawMessage(`{"q":"hi"}`), ToolCallID: "tc-1"},
			domain.ToolResultPart{ToolName: "search", Content: "hello", ToolCallID: "tc-1"},
		},
		CreatedAt: now, // same second: rowid must break the tie
	}
	if err := repo.AppendMessage(ctx, request); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := repo.AppendMessage(ctx, response); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := repo.ListMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("creation order not preserved: %s, %s", msgs[0].ID, msgs[1].ID)
	}
	if !msgs[0].IsRequest || msgs[1].IsRequest {
		t.Fatal("direction flags lost")
	}

	call, ok := msgs[1].Parts[0].(domain.ToolCallPart)
	if !ok || call.ToolCallID != "tc-1" || string(call.Args) != `{"q":"hi"}` {
		t.Fatalf("tool call part corrupted: %+v", msgs[1].Parts[0])
	}
}
