package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parleyai/parley/internal/agent"
	"github.com/parleyai/parley/internal/domain"
	"github.com/parleyai/parley/internal/identity"
	"github.com/parleyai/parley/internal/prompt"
	"github.com/parleyai/parley/internal/store"
	"github.com/parleyai/parley/internal/stream"
)

const testAnonID = "anon_00000000000000000000000000000000"

// runnerFunc adapts a function to agent.Runner.
type runnerFunc func(ctx context.Context, in agent.RunInput) iter.Seq2[agent.Node, error]

func (f runnerFunc) Run(ctx context.Context, in agent.RunInput) iter.Seq2[agent.Node, error] {
	return f(ctx, in)
}

// echoRunner streams one short text response and ends.
func echoRunner() agent.Runner {
	return runnerFunc(func(ctx context.Context, in agent.RunInput) iter.Seq2[agent.Node, error] {
		return func(yield func(agent.Node, error) bool) {
			node := agent.RequestNode{
				Request: append([]domain.Part{domain.SystemPromptPart{Text: in.SystemPrompt}}, in.Prompt...),
				Events: func(yield func(agent.Event, error) bool) {
					yield(agent.TextDeltaEvent{Delta: "Hello there"}, nil)
				},
			}
			if !yield(node, nil) {
				return
			}
			yield(agent.EndNode{}, nil)
		}
	})
}

// blockedRunner stays in flight until release closes or the run is stopped.
func blockedRunner(release <-chan struct{}) agent.Runner {
	return runnerFunc(func(ctx context.Context, in agent.RunInput) iter.Seq2[agent.Node, error] {
		return func(yield func(agent.Node, error) bool) {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-release:
			}
			yield(agent.EndNode{}, nil)
		}
	})
}

type testEnv struct {
	t      *testing.T
	repo   store.Repository
	server *httptest.Server
}

func newTestEnv(t *testing.T, runner agent.Runner, rateLimit int) *testEnv {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	toolCalls := stream.NewToolCalls()
	registry := stream.NewRegistry(64, nil)
	driver := stream.NewDriver(stream.DriverConfig{
		Store:          repo,
		Runner:         runner,
		Codec:          stream.NewCodec(toolCalls),
		ToolCalls:      toolCalls,
		Prompts:        prompt.NewBuilder(prompt.StoredMemory{}),
		ChunkSize:      500,
		TableChunkSize: 1000,
	})

	limiter := NewRateLimiter(rateLimit, time.Minute)
	t.Cleanup(limiter.Close)

	h := NewHandler(HandlerConfig{
		Repo:        repo,
		Registry:    registry,
		Driver:      driver,
		RateLimiter: limiter,
		IsDev:       true,
	})

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{t: t, repo: repo, server: srv}
}

func (e *testEnv) request(method, path string, body any) *http.Response {
	e.t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, buf)
	if err != nil {
		e.t.Fatalf("build request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testAnonID})
	resp, err := e.server.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func waitForIdle(t *testing.T, env *testEnv, conversationID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := env.request(http.MethodGet, "/chats/running", nil)
		body := decodeBody(t, resp)
		ids, _ := body["conversation_ids"].([]any)
		running := false
		for _, id := range ids {
			if id == conversationID {
				running = true
			}
		}
		if !running {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("conversation %s never went idle", conversationID)
}

func TestHandleChatStartsRunAndPersists(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, echoRunner(), 100)
	resp := env.request(http.MethodPost, "/chats/chat", ChatRequest{Message: "Say hello"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "started" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
	convID, _ := body["conversation_id"].(string)
	if convID == "" {
		t.Fatal("missing conversation_id")
	}

	waitForIdle(t, env, convID)

	resp = env.request(http.MethodGet, "/chats/"+convID+"/messages", nil)
	msgs := decodeBody(t, resp)["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected one persisted request message, got %d", len(msgs))
	}

	resp = env.request(http.MethodGet, "/chats/", nil)
	convs := decodeBody(t, resp)["conversations"].([]any)
	if len(convs) != 1 {
		t.Fatalf("expected one conversation, got %d", len(convs))
	}
	title := convs[0].(map[string]any)["title"]
	if title != "Say hello" {
		t.Fatalf("unexpected title: %v", title)
	}
}

func TestHandleChatRejectsSecondConcurrentRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	env := newTestEnv(t, blockedRunner(release), 100)

	resp := env.request(http.MethodPost, "/chats/chat", ChatRequest{Message: "first"})
	convID := decodeBody(t, resp)["conversation_id"].(string)

	resp = env.request(http.MethodPost, "/chats/chat?conversation_id="+convID, ChatRequest{Message: "second"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for concurrent run, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "already_running" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
}

func TestHandleStopAndRunning(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	env := newTestEnv(t, blockedRunner(release), 100)

	resp := env.request(http.MethodPost, "/chats/chat", ChatRequest{Message: "work"})
	convID := decodeBody(t, resp)["conversation_id"].(string)

	resp = env.request(http.MethodGet, "/chats/running", nil)
	ids := decodeBody(t, resp)["conversation_ids"].([]any)
	if len(ids) != 1 || ids[0] != convID {
		t.Fatalf("expected running conversation %s, got %v", convID, ids)
	}

	resp = env.request(http.MethodPost, "/chats/chat/stop?conversation_id="+convID, nil)
	if body := decodeBody(t, resp); body["status"] != "stopped" {
		t.Fatalf("unexpected stop status: %v", body["status"])
	}

	resp = env.request(http.MethodPost, "/chats/chat/stop?conversation_id="+convID, nil)
	if body := decodeBody(t, resp); body["status"] != "not_running" {
		t.Fatalf("expected not_running, got %v", body["status"])
	}
}

func TestHandleChatRateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, echoRunner(), 1)
	resp := env.request(http.MethodPost, "/chats/chat", ChatRequest{Message: "one"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first request should pass, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = env.request(http.MethodPost, "/chats/chat", ChatRequest{Message: "two"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestHandleChatValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, echoRunner(), 100)

	resp := env.request(http.MethodPost, "/chats/chat", ChatRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty request, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = env.request(http.MethodPost, "/chats/chat?conversation_id=missing", ChatRequest{Message: "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()
}

func TestChatRequestStructuredContent(t *testing.T) {
	t.Parallel()

	req := ChatRequest{Content: []json.RawMessage{
		json.RawMessage(`{"type":"text","text":"look at this"}`),
		json.RawMessage(`{"type":"file_url","kind":"image","url":"https://example.com/x.png"}`),
	}}
	parts, err := req.parts()
	if err != nil {
		t.Fatalf("parts failed: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if _, ok := parts[1].(domain.FileURLPart); !ok {
		t.Fatalf("expected file part, got %T", parts[1])
	}

	bad := ChatRequest{Content: []json.RawMessage{json.RawMessage(`{"type":"nope"}`)}}
	if _, err := bad.parts(); err == nil || !strings.Contains(err.Error(), "content[0]") {
		t.Fatalf("expected indexed decode error, got %v", err)
	}
}
