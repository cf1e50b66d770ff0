package agent

import (
	"iter"

	"github.com/parleyai/parley/internal/domain"
)

// Node is a sealed interface for the steps of one agent run.
// The unexported marker method prevents external implementations.
type Node interface {
	node()
}

// RequestNode is a model request step. Request holds the message sent to the
// provider; Events streams the provider's incremental response.
type RequestNode struct {
	Request []domain.Part
	Events  iter.Seq2[Event, error]
}

func (RequestNode) node() {}

// ToolsNode is a tool-execution step. Response holds the completed model
// response parts; Events streams tool calls and their results as they run.
type ToolsNode struct {
	Response []domain.Part
	Events   iter.Seq2[Event, error]
}

func (ToolsNode) node() {}

// EndNode terminates a run.
type EndNode struct{}

func (EndNode) node() {}

// Interface compliance checks.
var (
	_ Node = RequestNode{}
	_ Node = ToolsNode{}
	_ Node = EndNode{}
)
