package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitEvent(t *testing.T, sess *Session) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sess.Next(ctx)
	if err != nil {
		t.Fatalf("timed out waiting for event: %v", err)
	}
	return ev
}

func TestSessionAtMostOneRun(t *testing.T) {
	t.Parallel()

	sess := newSession("conv-1", "user-1", 16, nil)
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	if !sess.Start(block) {
		t.Fatal("first start must succeed")
	}
	if sess.Start(block) {
		t.Fatal("second start must be a no-op while running")
	}
	if !sess.IsRunning() {
		t.Fatal("expected running session")
	}

	if !sess.Stop() {
		t.Fatal("stop of a running session must report true")
	}
	if sess.IsRunning() {
		t.Fatal("session still running after stop")
	}
}

func TestSessionStopEmitsStopped(t *testing.T) {
	t.Parallel()

	sess := newSession("conv-1", "user-1", 16, nil)
	sess.Start(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sess.Stop()

	ev := waitEvent(t, sess)
	if ev.Type != EventStopped {
		t.Fatalf("expected stopped, got %s", ev.Type)
	}
}

func TestSessionRunErrorBecomesErrorEvent(t *testing.T) {
	t.Parallel()

	sess := newSession("conv-1", "user-1", 16, nil)
	sess.Start(func(ctx context.Context) error {
		return errors.New("provider exploded")
	})

	ev := waitEvent(t, sess)
	if ev.Type != EventError {
		t.Fatalf("expected error event, got %s", ev.Type)
	}
	if ev.Data != "provider exploded" {
		t.Fatalf("expected error text, got %v", ev.Data)
	}
}

func TestSessionConcurrentStopsEmitOneStopped(t *testing.T) {
	t.Parallel()

	sess := newSession("conv-1", "user-1", 16, nil)
	sess.Start(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Stop()
		}()
	}
	wg.Wait()

	stopped := 0
	for sess.Buffered() > 0 {
		if ev := waitEvent(t, sess); ev.Type == EventStopped {
			stopped++
		}
	}
	if stopped != 1 {
		t.Fatalf("expected exactly one stopped terminal event, got %d", stopped)
	}
}

func TestSessionStopWhenIdleReportsFalse(t *testing.T) {
	t.Parallel()

	sess := newSession("conv-1", "user-1", 16, nil)
	if sess.Stop() {
		t.Fatal("stop of an idle session must report false")
	}
}

func TestSessionRestartsAfterCompletion(t *testing.T) {
	t.Parallel()

	sess := newSession("conv-1", "user-1", 16, nil)
	done := make(chan struct{})
	sess.Start(func(ctx context.Context) error {
		close(done)
		return nil
	})
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for sess.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("run did not wind down")
		}
		time.Sleep(time.Millisecond)
	}
	if !sess.Start(func(ctx context.Context) error { return nil }) {
		t.Fatal("completed session must accept a new run")
	}
}
