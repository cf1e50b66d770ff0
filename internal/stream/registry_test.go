package stream

import (
	"context"
	"testing"
)

func TestRegistryGetOrCreateReturnsSameSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry(16, nil)
	a := r.GetOrCreate("conv-1", "user-1")
	b := r.GetOrCreate("conv-1", "user-1")
	if a != b {
		t.Fatal("expected the same session instance per conversation")
	}
	if r.Get("conv-1") != a {
		t.Fatal("Get must return the created session")
	}
	if r.Get("missing") != nil {
		t.Fatal("Get of an unknown conversation must return nil")
	}
}

func TestRegistryRunningFiltersByUser(t *testing.T) {
	t.Parallel()

	r := NewRegistry(16, nil)
	mine := r.GetOrCreate("conv-1", "user-1")
	theirs := r.GetOrCreate("conv-2", "user-2")
	r.GetOrCreate("conv-3", "user-1") // idle

	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	mine.Start(block)
	theirs.Start(block)
	defer mine.Stop()
	defer theirs.Stop()

	running := r.Running("user-1")
	if len(running) != 1 || running[0] != "conv-1" {
		t.Fatalf("expected only user-1's running conversation, got %v", running)
	}

	all := r.Running("")
	if len(all) != 2 {
		t.Fatalf("expected two running conversations, got %v", all)
	}
}
