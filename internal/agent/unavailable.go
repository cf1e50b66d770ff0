package agent

import (
	"context"
	"fmt"
	"iter"
)

// UnavailableRunner is wired when no model provider is configured. Every run
// fails immediately with a descriptive error, which reaches subscribers as a
// terminal error event; the rest of the service keeps working.
type UnavailableRunner struct {
	Reason string
}

// Run yields a single error and ends.
func (r UnavailableRunner) Run(_ context.Context, _ RunInput) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		yield(nil, fmt.Errorf("agent runner unavailable: %s", r.Reason))
	}
}

var _ Runner = UnavailableRunner{}
