package agent

import (
	"encoding/json"

	"github.com/parleyai/parley/internal/domain"
)

// Event is a sealed interface for the sub-events a node stream yields.
// Transport failures come from the stream's error value, not from events.
type Event interface {
	event()
}

// PartStartEvent announces a new part at the given index of the response.
type PartStartEvent struct {
	Index int
	Part  domain.Part
}

func (PartStartEvent) event() {}

// TextDeltaEvent extends the text part at Index.
type TextDeltaEvent struct {
	Index int
	Delta string
}

func (TextDeltaEvent) event() {}

// ThinkingDeltaEvent extends the reasoning part at Index.
type ThinkingDeltaEvent struct {
	Index int
	Delta string
}

func (ThinkingDeltaEvent) event() {}

// ToolCallEvent announces a tool invocation. CallID is the provider's
// transient identifier and may be empty; the codec assigns a canonical id
// in that case.
type ToolCallEvent struct {
	ToolName string
	Args     json.RawMessage
	CallID   string
}

func (ToolCallEvent) event() {}

// ToolResultEvent reports a finished tool invocation. Content may be any
// serializable value; the codec coerces it to text.
type ToolResultEvent struct {
	ToolName string
	Content  any
	CallID   string
}

func (ToolResultEvent) event() {}

// Interface compliance checks.
var (
	_ Event = PartStartEvent{}
	_ Event = TextDeltaEvent{}
	_ Event = ThinkingDeltaEvent{}
	_ Event = ToolCallEvent{}
	_ Event = ToolResultEvent{}
)
