// Package translog writes conversation transcripts as NDJSON, one file per
// conversation grouped by user, plus an optional global aggregate file.
// Writes are asynchronous: a full queue drops entries rather than slowing
// the live stream.
package translog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parleyai/parley/internal/domain"
)

// Config controls transcript logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Entry is one NDJSON transcript line.
type Entry struct {
	Timestamp      time.Time         `json:"timestamp"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Direction      string            `json:"direction"`
	Parts          []json.RawMessage `json:"parts,omitempty"`
	Text           string            `json:"text,omitempty"`
}

// Logger appends transcript entries in the background.
type Logger struct {
	cfg    Config
	logger *slog.Logger

	queue chan Entry
	done  chan struct{}

	mu     sync.Mutex
	files  map[string]*os.File
	global *os.File
	closed bool
}

// New creates a transcript logger and starts its writer goroutine. A
// disabled config yields a logger whose Record is a no-op.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		cfg:    cfg,
		logger: logger,
		files:  make(map[string]*os.File),
	}
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return l, nil
	}

	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open global transcript: %w", err)
		}
		l.global = f
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}
	l.queue = make(chan Entry, size)
	l.done = make(chan struct{})
	go l.run()
	return l, nil
}

// Record enqueues one persisted message for transcript logging. It never
// blocks; entries are dropped when the queue is full.
func (l *Logger) Record(conversationID, userID string, msg *domain.Message) {
	if l.queue == nil {
		return
	}

	direction := "response"
	if msg.IsRequest {
		direction = "request"
	}
	parts, err := encodeParts(msg.Parts)
	if err != nil {
		l.logger.Warn("encode transcript parts", "error", err)
	}
	entry := Entry{
		Timestamp:      msg.CreatedAt,
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Direction:      direction,
		Parts:          parts,
		Text:           flattenText(msg.Parts),
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}

	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("transcript queue full, dropping entry",
			"conversation_id", conversationID)
	}
}

// Close drains the queue and closes all open files.
func (l *Logger) Close() error {
	if l.queue == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.queue)
	<-l.done

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.global != nil {
		if err := l.global.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) run() {
	defer close(l.done)
	for entry := range l.queue {
		line, err := json.Marshal(entry)
		if err != nil {
			l.logger.Warn("marshal transcript entry", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			if err := l.append(entry.UserID, entry.ConversationID, line); err != nil {
				l.logger.Warn("write transcript", "error", err)
			}
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("write global transcript", "error", err)
			}
		}
	}
}

func (l *Logger) append(userID, conversationID string, line []byte) error {
	key := filepath.Join(userID, conversationID)
	f, ok := l.files[key]
	if !ok {
		dir := filepath.Join(l.cfg.Dir, sanitize(userID))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(dir, sanitize(conversationID)+".ndjson")
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		l.files[key] = f
	}
	_, err := f.Write(line)
	return err
}

// sanitize keeps ids usable as file names.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, s)
}

func encodeParts(parts []domain.Part) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(parts))
	for _, p := range parts {
		raw, err := domain.EncodePart(p)
		if err != nil {
			return out, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// flattenText extracts a human-readable line from a part list.
func flattenText(parts []domain.Part) string {
	var sb strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case domain.TextPart:
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(v.Text)
		case domain.ToolCallPart:
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "[tool:%s]", v.ToolName)
		}
	}
	return sb.String()
}
