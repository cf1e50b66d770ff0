// Package stream implements the live session streaming engine: the event
// codec, the adaptive content chunker, per-conversation sessions with
// bounded output queues, and the execution driver that walks agent runs.
package stream

// Event type discriminators on the wire.
const (
	EventPartStart    = "part_start"
	EventPartDelta    = "part_delta"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventContentChunk = "content_chunk"
	EventDone         = "done"
	EventStopped      = "stopped"
	EventError        = "error"
	EventAck          = "ack"
)

// Event is the wire shape delivered to subscribers:
// {"type": ..., "data": ...}. ConversationID is injected by the
// multi-conversation socket so one socket can multiplex many streams.
type Event struct {
	Type           string `json:"type"`
	Data           any    `json:"data,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// IsTerminal reports whether the event ends a run's stream.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventDone, EventStopped, EventError:
		return true
	}
	return false
}
