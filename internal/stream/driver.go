package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parleyai/parley/internal/agent"
	"github.com/parleyai/parley/internal/domain"
	"github.com/parleyai/parley/internal/metrics"
	"github.com/parleyai/parley/internal/prompt"
	"github.com/parleyai/parley/internal/store"
)

// TranscriptRecorder receives persisted messages for audit logging.
type TranscriptRecorder interface {
	Record(conversationID, userID string, msg *domain.Message)
}

// DriverConfig carries the collaborators one Driver needs.
type DriverConfig struct {
	Store       store.Repository
	Runner      agent.Runner
	Codec       *Codec
	ToolCalls   *ToolCalls
	Prompts     prompt.Provider
	Transcripts TranscriptRecorder
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	ChunkSize      int
	TableChunkSize int
}

// Driver walks one agent run from start to completion or cancellation,
// translating graph nodes into wire events and persisting request and
// response messages along the way.
type Driver struct {
	cfg DriverConfig
}

// NewDriver creates a driver from its collaborators.
func NewDriver(cfg DriverConfig) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Driver{cfg: cfg}
}

// Run executes one full agent run for the conversation. Request messages
// persist before their events stream, so partial histories survive a
// mid-run failure; tool responses persist after their events, so the stored
// part list reflects the completed calls. Cancellation surfaces as ctx.Err;
// the session's Stop observes it and emits the stopped event.
func (d *Driver) Run(ctx context.Context, sess *Session, conv *domain.Conversation, user *domain.User, promptParts []domain.Part) error {
	sysPrompt, err := d.cfg.Prompts.SystemPrompt(ctx, user)
	if err != nil {
		return fmt.Errorf("build system prompt: %w", err)
	}

	history, err := d.loadHistory(ctx, conv.ID, sysPrompt)
	if err != nil {
		return err
	}

	input := agent.RunInput{
		ConversationID: conv.ID,
		UserID:         user.UserID,
		Model:          conv.Model,
		SystemPrompt:   sysPrompt,
		Prompt:         promptParts,
		History:        history,
	}

	chunker := NewChunker(d.cfg.ChunkSize, d.cfg.TableChunkSize)
	emitChunks := func(chunks []string) {
		for _, ch := range chunks {
			if ch == "" {
				continue
			}
			sess.Emit(Event{Type: EventContentChunk, Data: ch})
			if d.cfg.Metrics != nil {
				d.cfg.Metrics.ChunksFlushed.Inc()
			}
		}
	}
	// Residual text flushes on every exit path so cancellation or a
	// provider error never swallows buffered output.
	drain := func() {
		emitChunks([]string{chunker.Flush()})
	}

	for node, err := range d.cfg.Runner.Run(ctx, input) {
		if err != nil {
			drain()
			return err
		}
		if ctx.Err() != nil {
			drain()
			return ctx.Err()
		}

		switch n := node.(type) {
		case agent.RequestNode:
			if err := d.persistMessage(ctx, conv, user, n.Request, true); err != nil {
				return err
			}
			for ev, err := range n.Events {
				if err != nil {
					drain()
					return err
				}
				wev, text, ok := d.cfg.Codec.Encode(conv.ID, ev)
				if ok {
					sess.Emit(wev)
					continue
				}
				if text != "" {
					emitChunks(chunker.Push(text))
				}
			}

		case agent.ToolsNode:
			// Tool payloads go out unbuffered; splitting a tool call or
			// result across chunks would corrupt it.
			var results []domain.Part
			for ev, err := range n.Events {
				if err != nil {
					drain()
					return err
				}
				wev, _, ok := d.cfg.Codec.Encode(conv.ID, ev)
				if !ok {
					continue
				}
				sess.Emit(wev)
				// The persisted result reuses the wire payload, so the id
				// pairing resolved once stays identical on both paths.
				if res, isResult := wev.Data.(toolResultPayload); isResult {
					results = append(results, domain.ToolResultPart{
						ToolName:   res.ToolName,
						Content:    res.Content,
						ToolCallID: res.ToolCallID,
					})
				}
			}
			parts := append(d.canonicalParts(conv.ID, n.Response), results...)
			if err := d.persistMessage(ctx, conv, user, parts, false); err != nil {
				return err
			}

		case agent.EndNode:
			drain()
		}
	}

	drain()

	// Bookkeeping runs detached from the run context; a Stop that lands
	// here must not leave the conversation row stale.
	touchCtx := context.WithoutCancel(ctx)
	if err := d.cfg.Store.TouchConversation(touchCtx, conv.ID, conv.Model, time.Now()); err != nil {
		d.cfg.Logger.Error("touch conversation", "conversation_id", conv.ID, "error", err)
	}
	d.cfg.ToolCalls.EvictConversation(conv.ID)

	sess.Emit(Event{Type: EventDone})
	return nil
}

// loadHistory reads the conversation's prior messages and, when any exist,
// rewrites the first message's system-prompt part with the freshly computed
// text so instructions stay current on resumed conversations.
func (d *Driver) loadHistory(ctx context.Context, conversationID, sysPrompt string) ([]agent.Message, error) {
	msgs, err := d.cfg.Store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	history := make([]agent.Message, 0, len(msgs))
	for i, m := range msgs {
		parts := m.Parts
		if i == 0 {
			parts = refreshSystemPrompt(parts, sysPrompt)
		}
		history = append(history, agent.Message{Parts: parts, IsRequest: m.IsRequest})
	}
	return history, nil
}

// refreshSystemPrompt returns a copy of parts with any system-prompt part
// replaced by the current text. The input slice is left untouched.
func refreshSystemPrompt(parts []domain.Part, sysPrompt string) []domain.Part {
	out := make([]domain.Part, len(parts))
	for i, p := range parts {
		if _, ok := p.(domain.SystemPromptPart); ok {
			out[i] = domain.SystemPromptPart{Text: sysPrompt}
			continue
		}
		out[i] = p
	}
	return out
}

// canonicalParts rewrites tool-call ids in a response part list to their
// canonical values, returning new parts rather than mutating the runner's.
// The ids were assigned while the node's events streamed; anonymous call
// parts claim them in call order, everything else is a lookup.
func (d *Driver) canonicalParts(conversationID string, parts []domain.Part) []domain.Part {
	out := make([]domain.Part, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case domain.ToolCallPart:
			if v.ToolCallID == "" {
				v.ToolCallID = d.cfg.ToolCalls.ClaimAnonymous(conversationID)
			} else {
				v.ToolCallID = d.cfg.ToolCalls.Resolve(conversationID, v.ToolCallID)
			}
			out = append(out, v)
		case domain.ToolResultPart:
			v.ToolCallID = d.cfg.ToolCalls.Resolve(conversationID, v.ToolCallID)
			out = append(out, v)
		default:
			out = append(out, p)
		}
	}
	return out
}

// persistMessage writes one message row. The write is detached from the run
// context: once streaming for a node has begun, a cancellation must not
// leave the stored history half-written.
func (d *Driver) persistMessage(ctx context.Context, conv *domain.Conversation, user *domain.User, parts []domain.Part, isRequest bool) error {
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Parts:          parts,
		IsRequest:      isRequest,
		CreatedAt:      time.Now(),
	}
	if err := d.cfg.Store.AppendMessage(context.WithoutCancel(ctx), msg); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	if d.cfg.Transcripts != nil {
		d.cfg.Transcripts.Record(conv.ID, user.UserID, msg)
	}
	return nil
}
