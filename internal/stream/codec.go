package stream

import (
	"encoding/json"
	"fmt"

	"github.com/parleyai/parley/internal/agent"
	"github.com/parleyai/parley/internal/domain"
)

// Codec turns runner events into wire events. It never mutates the
// runner's values; anything it changes comes back as a new value.
type Codec struct {
	toolCalls *ToolCalls
}

func NewCodec(tc *ToolCalls) *Codec {
	return &Codec{toolCalls: tc}
}

// partStartPayload is the wire shape of a part_start event.
type partStartPayload struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Text  string `json:"text,omitempty"`
}

// partDeltaPayload is the wire shape of a part_delta event.
type partDeltaPayload struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Delta string `json:"delta"`
}

type toolCallPayload struct {
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"tool_call_id"`
}

type toolResultPayload struct {
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id"`
}

const (
	deltaKindText     = "text"
	deltaKindThinking = "thinking"
)

// Encode maps one runner event to its wire form. Text payloads carried by
// PartStartEvent and TextDeltaEvent do not go to the wire directly; the
// driver routes them through the chunker, so Encode reports them with
// ok=false alongside the extracted text.
func (c *Codec) Encode(conversationID string, ev agent.Event) (Event, string, bool) {
	switch e := ev.(type) {
	case agent.PartStartEvent:
		if tp, isText := e.Part.(domain.TextPart); isText {
			return Event{}, tp.Text, false
		}
		return Event{
			Type: EventPartStart,
			Data: partStartPayload{
				Index: e.Index,
				Kind:  partKind(e.Part),
				Text:  partText(e.Part),
			},
		}, "", true

	case agent.TextDeltaEvent:
		return Event{}, e.Delta, false

	case agent.ThinkingDeltaEvent:
		return Event{
			Type: EventPartDelta,
			Data: partDeltaPayload{
				Index: e.Index,
				Kind:  deltaKindThinking,
				Delta: e.Delta,
			},
		}, "", true

	case agent.ToolCallEvent:
		id := c.toolCalls.Canonical(conversationID, e.CallID)
		return Event{
			Type: EventToolCall,
			Data: toolCallPayload{
				ToolName:   e.ToolName,
				Args:       e.Args,
				ToolCallID: id,
			},
		}, "", true

	case agent.ToolResultEvent:
		id := c.toolCalls.Resolve(conversationID, e.CallID)
		return Event{
			Type: EventToolResult,
			Data: toolResultPayload{
				ToolName:   e.ToolName,
				Content:    toolResultText(e.Content),
				ToolCallID: id,
			},
		}, "", true
	}

	return Event{}, "", false
}

func partKind(p domain.Part) string {
	switch p.(type) {
	case domain.TextPart:
		return deltaKindText
	case domain.ThinkingPart:
		return deltaKindThinking
	default:
		return domain.PartTypeOf(p)
	}
}

func partText(p domain.Part) string {
	switch v := p.(type) {
	case domain.TextPart:
		return v.Text
	case domain.ThinkingPart:
		return v.Thinking
	default:
		return ""
	}
}

// toolResultText renders arbitrary tool output as text. A payload the
// JSON encoder rejects falls back to fmt so one odd result cannot kill
// the stream.
func toolResultText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	}
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(b)
}
