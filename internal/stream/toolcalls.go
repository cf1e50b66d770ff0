package stream

import (
	"sync"

	"github.com/google/uuid"
)

// convCalls is one conversation's id state. byID maps provider ids to
// canonical ids. anon holds the canonical ids minted for id-less calls in
// call order; results and persisted call parts each pair with them through
// their own cursor, so two anonymous calls in one run never share an id.
type convCalls struct {
	byID     map[string]string
	anon     []string
	nextRes  int
	nextPart int
}

// ToolCalls maps a provider's transient call id to the canonical tool-call
// id shown on the wire and persisted with messages. Some providers surface a
// stable id, some surface none at all; either way the paired tool-result
// must carry the same canonical id as its call.
//
// Entries are scoped per conversation and evicted when that conversation's
// run completes, so the map stays bounded in a long-lived process.
type ToolCalls struct {
	mu     sync.Mutex
	byConv map[string]*convCalls
	newID  func() string
}

// NewToolCalls creates an empty registry.
func NewToolCalls() *ToolCalls {
	return &ToolCalls{
		byConv: make(map[string]*convCalls),
		newID:  uuid.NewString,
	}
}

func (t *ToolCalls) conv(conversationID string) *convCalls {
	c, ok := t.byConv[conversationID]
	if !ok {
		c = &convCalls{byID: make(map[string]string)}
		t.byConv[conversationID] = c
	}
	return c
}

// Canonical returns the canonical id for a tool call. A call with no
// provider id, or one seen for the first time, gets a fresh globally-unique
// id; repeat lookups for the same provider id return the same canonical id.
func (t *ToolCalls) Canonical(conversationID, callID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.conv(conversationID)

	// An empty provider id means the provider numbers nothing; each such
	// call gets a fresh id, queued so later results pair in call order.
	if callID == "" {
		id := t.newID()
		c.anon = append(c.anon, id)
		return id
	}

	if id, ok := c.byID[callID]; ok {
		return id
	}
	id := t.newID()
	c.byID[callID] = id
	return id
}

// Resolve returns the canonical id previously recorded for a provider call
// id, falling back to the provider id itself when no mapping exists (a
// provider that already emits stable ids). An empty id consumes the oldest
// unpaired anonymous call: providers that omit ids run tools sequentially,
// so results arrive in call order.
func (t *ToolCalls) Resolve(conversationID, callID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.byConv[conversationID]
	if !ok {
		return callID
	}
	if callID == "" {
		if c.nextRes < len(c.anon) {
			id := c.anon[c.nextRes]
			c.nextRes++
			return id
		}
		return ""
	}
	if id, ok := c.byID[callID]; ok {
		return id
	}
	return callID
}

// ClaimAnonymous returns the canonical id for the next anonymous call part
// at persistence time. Parts appear in call order, so the cursor walks the
// same queue the calls were minted into. A part with no prior call event
// still gets a fresh id rather than sharing one.
func (t *ToolCalls) ClaimAnonymous(conversationID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.conv(conversationID)
	if c.nextPart < len(c.anon) {
		id := c.anon[c.nextPart]
		c.nextPart++
		return id
	}
	id := t.newID()
	c.anon = append(c.anon, id)
	c.nextPart = len(c.anon)
	return id
}

// EvictConversation clears a conversation's mappings once its run is done.
func (t *ToolCalls) EvictConversation(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byConv, conversationID)
}
