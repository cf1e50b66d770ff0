package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/parleyai/parley/internal/metrics"
)

// Session owns the live stream state of one conversation: the bounded output
// queue subscribers drain, and the handle of the background run, if any.
// A session outlives individual runs so a reconnecting subscriber can pick
// up buffered events.
type Session struct {
	ConversationID string
	UserID         string

	queue   *Queue
	metrics *metrics.Metrics

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	runErr      error
	stopEmitted bool
}

func newSession(conversationID, userID string, queueCap int, m *metrics.Metrics) *Session {
	return &Session{
		ConversationID: conversationID,
		UserID:         userID,
		queue:          NewQueue(queueCap),
		metrics:        m,
	}
}

// Start spawns run as a cancellable background task. It is a no-op returning
// false when a run is already in flight, which guarantees at most one
// concurrent execution per conversation. An error escaping run is converted
// into a terminal error event; it never reaches the caller.
func (s *Session) Start(run func(ctx context.Context) error) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.runErr = nil
	s.stopEmitted = false
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsRunning.Inc()
	}

	go func() {
		started := time.Now()
		err := run(ctx)
		cancel()

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.runErr = err
		s.mu.Unlock()

		status := "done"
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			// Stop owns the stopped event so it can fire after the
			// task has fully wound down.
			status = "stopped"
		default:
			status = "error"
			s.Emit(Event{Type: EventError, Data: err.Error()})
		}

		if s.metrics != nil {
			s.metrics.SessionsRunning.Dec()
			s.metrics.RunsStarted.WithLabelValues(status).Inc()
			s.metrics.RunDuration.Observe(time.Since(started).Seconds())
		}
		close(done)
	}()
	return true
}

// Stop cancels the in-flight run, waits for it to terminate, and emits a
// stopped event. It reports false when nothing was running.
func (s *Session) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	// Concurrent stops all wait out the run; only one may claim the
	// stopped event, or the stream would carry two terminal events.
	s.mu.Lock()
	emit := errors.Is(s.runErr, context.Canceled) && !s.stopEmitted
	if emit {
		s.stopEmitted = true
	}
	s.mu.Unlock()
	if emit {
		s.Emit(Event{Type: EventStopped})
	}
	return true
}

// IsRunning reports whether a run is currently in flight.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Emit publishes an event to the output queue without blocking; when the
// queue is full the oldest unread event is dropped instead.
func (s *Session) Emit(ev Event) {
	dropped := s.queue.Push(ev)
	if s.metrics != nil {
		s.metrics.EventsEmitted.WithLabelValues(ev.Type).Inc()
		if dropped {
			s.metrics.EventsDropped.Inc()
		}
	}
}

// Next blocks until the queue yields an event or ctx is done. Subscribers
// (socket forwarders) drain the session through this.
func (s *Session) Next(ctx context.Context) (Event, error) {
	return s.queue.Pop(ctx)
}

// Buffered returns the number of events waiting in the queue.
func (s *Session) Buffered() int {
	return s.queue.Len()
}
