// Package agent defines the interface to the tool-using language-model
// agent. The agent's reasoning and tool-selection logic lives behind the
// Runner interface; this package only fixes the shapes the streaming engine
// consumes.
package agent

import (
	"context"
	"iter"

	"github.com/parleyai/parley/internal/domain"
)

// Message is the agent-library view of one conversation message: an ordered
// part list plus the request/response direction flag.
type Message struct {
	Parts     []domain.Part
	IsRequest bool
}

// RunInput carries everything one run needs.
type RunInput struct {
	ConversationID string
	UserID         string
	Model          string
	SystemPrompt   string
	Prompt         []domain.Part
	History        []Message
}

// Runner drives one full agent run as a sequence of graph nodes.
// Cancellation flows through ctx; the yielded node streams observe the same
// context.
type Runner interface {
	Run(ctx context.Context, input RunInput) iter.Seq2[Node, error]
}
