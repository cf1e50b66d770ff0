package domain

import (
	"encoding/json"
	"fmt"
)

// Part is a sealed interface for the typed fragments that make up a Message.
// The unexported marker method prevents external implementations, which keeps
// the storage codec exhaustive.
type Part interface {
	part()
}

// TextPart contains plain generated or user-authored text.
type TextPart struct {
	Text string
}

func (TextPart) part() {}

// ThinkingPart contains model reasoning text that is streamed but not
// treated as answer content.
type ThinkingPart struct {
	Thinking string
}

func (ThinkingPart) part() {}

// ToolCallPart records a tool invocation requested by the model.
type ToolCallPart struct {
	ToolName   string
	Args       json.RawMessage
	ToolCallID string
}

func (ToolCallPart) part() {}

// ToolResultPart records the textual outcome of a tool invocation. Content is
// always text; non-textual tool payloads are serialized before they reach
// this type.
type ToolResultPart struct {
	ToolName   string
	Content    string
	ToolCallID string
}

func (ToolResultPart) part() {}

// SystemPromptPart carries the system instructions for a run.
type SystemPromptPart struct {
	Text string
}

func (SystemPromptPart) part() {}

// RetryPromptPart carries an error/retry instruction fed back to the model.
type RetryPromptPart struct {
	Text string
}

func (RetryPromptPart) part() {}

// FileKind distinguishes media reference kinds.
type FileKind string

const (
	FileImage    FileKind = "image"
	FileAudio    FileKind = "audio"
	FileDocument FileKind = "document"
)

// FileURLPart references external media by URL.
type FileURLPart struct {
	Kind FileKind
	URL  string
}

func (FileURLPart) part() {}

// BinaryPart carries inline binary media.
type BinaryPart struct {
	MediaType string
	Data      []byte
}

func (BinaryPart) part() {}

// Interface compliance checks.
var (
	_ Part = TextPart{}
	_ Part = ThinkingPart{}
	_ Part = ToolCallPart{}
	_ Part = ToolResultPart{}
	_ Part = SystemPromptPart{}
	_ Part = RetryPromptPart{}
	_ Part = FileURLPart{}
	_ Part = BinaryPart{}
)

// partEnvelope is the storage/wire JSON shape shared by all part variants.
// The type field discriminates; remaining fields are populated per variant.
type partEnvelope struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Content    string          `json:"content,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	URL        string          `json:"url,omitempty"`
	MediaType  string          `json:"media_type,omitempty"`
	Data       []byte          `json:"data,omitempty"`
}

// Part type discriminators.
const (
	PartTypeText         = "text"
	PartTypeThinking     = "thinking"
	PartTypeToolCall     = "tool_call"
	PartTypeToolResult   = "tool_result"
	PartTypeSystemPrompt = "system_prompt"
	PartTypeRetryPrompt  = "retry_prompt"
	PartTypeFileURL      = "file_url"
	PartTypeBinary       = "binary"
)

// PartTypeOf reports the wire type tag for a part.
func PartTypeOf(p Part) string {
	switch p.(type) {
	case TextPart:
		return PartTypeText
	case ThinkingPart:
		return PartTypeThinking
	case ToolCallPart:
		return PartTypeToolCall
	case ToolResultPart:
		return PartTypeToolResult
	case SystemPromptPart:
		return PartTypeSystemPrompt
	case RetryPromptPart:
		return PartTypeRetryPrompt
	case FileURLPart:
		return PartTypeFileURL
	case BinaryPart:
		return PartTypeBinary
	}
	return ""
}

func envelopeFor(p Part) (partEnvelope, error) {
	switch v := p.(type) {
	case TextPart:
		return partEnvelope{Type: PartTypeText, Text: v.Text}, nil
	case ThinkingPart:
		return partEnvelope{Type: PartTypeThinking, Text: v.Thinking}, nil
	case ToolCallPart:
		return partEnvelope{Type: PartTypeToolCall, ToolName: v.ToolName, Args: v.Args, ToolCallID: v.ToolCallID}, nil
	case ToolResultPart:
		return partEnvelope{Type: PartTypeToolResult, ToolName: v.ToolName, Content: v.Content, ToolCallID: v.ToolCallID}, nil
	case SystemPromptPart:
		return partEnvelope{Type: PartTypeSystemPrompt, Text: v.Text}, nil
	case RetryPromptPart:
		return partEnvelope{Type: PartTypeRetryPrompt, Text: v.Text}, nil
	case FileURLPart:
		return partEnvelope{Type: PartTypeFileURL, Kind: string(v.Kind), URL: v.URL}, nil
	case BinaryPart:
		return partEnvelope{Type: PartTypeBinary, MediaType: v.MediaType, Data: v.Data}, nil
	default:
		return partEnvelope{}, fmt.Errorf("unknown part variant %T", p)
	}
}

func (e partEnvelope) part() (Part, error) {
	switch e.Type {
	case PartTypeText:
		return TextPart{Text: e.Text}, nil
	case PartTypeThinking:
		return ThinkingPart{Thinking: e.Text}, nil
	case PartTypeToolCall:
		return ToolCallPart{ToolName: e.ToolName, Args: e.Args, ToolCallID: e.ToolCallID}, nil
	case PartTypeToolResult:
		return ToolResultPart{ToolName: e.ToolName, Content: e.Content, ToolCallID: e.ToolCallID}, nil
	case PartTypeSystemPrompt:
		return SystemPromptPart{Text: e.Text}, nil
	case PartTypeRetryPrompt:
		return RetryPromptPart{Text: e.Text}, nil
	case PartTypeFileURL:
		return FileURLPart{Kind: FileKind(e.Kind), URL: e.URL}, nil
	case PartTypeBinary:
		return BinaryPart{MediaType: e.MediaType, Data: e.Data}, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", e.Type)
	}
}

// EncodePart serializes one part to its envelope JSON.
func EncodePart(p Part) (json.RawMessage, error) {
	env, err := envelopeFor(p)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal part: %w", err)
	}
	return data, nil
}

// DecodePart is the exact inverse of EncodePart.
func DecodePart(data json.RawMessage) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal part: %w", err)
	}
	return env.part()
}

// EncodeParts serializes an ordered part list for storage.
func EncodeParts(parts []Part) (string, error) {
	envs := make([]partEnvelope, 0, len(parts))
	for _, p := range parts {
		env, err := envelopeFor(p)
		if err != nil {
			return "", err
		}
		envs = append(envs, env)
	}
	data, err := json.Marshal(envs)
	if err != nil {
		return "", fmt.Errorf("marshal parts: %w", err)
	}
	return string(data), nil
}

// DecodeParts restores an ordered part list from storage.
func DecodeParts(data string) ([]Part, error) {
	var envs []partEnvelope
	if err := json.Unmarshal([]byte(data), &envs); err != nil {
		return nil, fmt.Errorf("unmarshal parts: %w", err)
	}
	parts := make([]Part, 0, len(envs))
	for _, env := range envs {
		p, err := env.part()
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}
