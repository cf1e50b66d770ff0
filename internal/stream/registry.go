package stream

import (
	"sync"

	"github.com/parleyai/parley/internal/metrics"
)

// Registry holds the live sessions, keyed by conversation id. It is injected
// into the HTTP and socket handlers rather than held as process globals so
// tests can run isolated instances.
type Registry struct {
	queueCap int
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry whose sessions buffer up to queueCap events.
func NewRegistry(queueCap int, m *metrics.Metrics) *Registry {
	return &Registry{
		queueCap: queueCap,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the conversation's session, creating it on first use.
func (r *Registry) GetOrCreate(conversationID, userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[conversationID]; ok {
		return s
	}
	s := newSession(conversationID, userID, r.queueCap, r.metrics)
	r.sessions[conversationID] = s
	return s
}

// Get returns the conversation's session, or nil when none exists.
func (r *Registry) Get(conversationID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[conversationID]
}

// Running returns the conversation ids with a run currently in flight,
// optionally restricted to one user's sessions.
func (r *Registry) Running(userID string) []string {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	ids := []string{}
	for _, s := range sessions {
		if userID != "" && s.UserID != userID {
			continue
		}
		if s.IsRunning() {
			ids = append(ids, s.ConversationID)
		}
	}
	return ids
}
