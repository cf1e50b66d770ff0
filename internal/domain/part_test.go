package domain

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestPartRoundTripAllVariants(t *testing.T) {
	t.Parallel()

	parts := []Part{
		TextPart{Text: "hello"},
		ThinkingPart{Thinking: "considering options"},
		ToolCallPart{ToolName: "search", Args: json.RawMessage(`{"q":"go"}`), ToolCallID: "tc-1"},
		ToolResultPart{ToolName: "search", Content: "found", ToolCallID: "tc-1"},
		SystemPromptPart{Text: "be brief"},
		RetryPromptPart{Text: "tool failed, try again"},
		FileURLPart{Kind: FileImage, URL: "https://example.com/cat.png"},
		BinaryPart{MediaType: "image/png", Data: []byte{0x89, 0x50}},
	}

	for _, p := range parts {
		data, err := EncodePart(p)
		if err != nil {
			t.Fatalf("encode %T failed: %v", p, err)
		}
		got, err := DecodePart(data)
		if err != nil {
			t.Fatalf("decode %T failed: %v", p, err)
		}
		if !reflect.DeepEqual(got, p) {
			t.Fatalf("round trip changed %T: %+v -> %+v", p, p, got)
		}
	}
}

func TestPartEnvelopeCarriesTypeDiscriminator(t *testing.T) {
	t.Parallel()

	data, err := EncodePart(FileURLPart{Kind: FileAudio, URL: "https://example.com/a.mp3"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if env["type"] != "file_url" {
		t.Fatalf("expected file_url type, got %v", env["type"])
	}
	if env["kind"] != "audio" {
		t.Fatalf("expected audio kind, got %v", env["kind"])
	}
}

func TestDecodePartRejectsUnknownType(t *testing.T) {
	t.Parallel()

	if _, err := DecodePart(json.RawMessage(`{"type":"hologram"}`)); err == nil {
		t.Fatal("expected error for unknown part type")
	}
}

func TestPartsListRoundTripPreservesOrder(t *testing.T) {
	t.Parallel()

	parts := []Part{
		SystemPromptPart{Text: "sys"},
		TextPart{Text: "one"},
		TextPart{Text: "two"},
	}
	stored, err := EncodeParts(parts)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := DecodeParts(stored)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, parts) {
		t.Fatalf("order or content changed: %+v", got)
	}
}

func TestTitleFromParts(t *testing.T) {
	t.Parallel()

	parts := []Part{
		FileURLPart{Kind: FileImage, URL: "https://example.com/x.png"},
		TextPart{Text: "  What is a goroutine?\nSecond line ignored"},
	}
	if got := TitleFromParts(parts); got != "What is a goroutine?" {
		t.Fatalf("unexpected title: %q", got)
	}

	long := strings.Repeat("a", 200)
	if got := TitleFromParts([]Part{TextPart{Text: long}}); len(got) != 80 {
		t.Fatalf("expected truncation to 80, got %d", len(got))
	}

	if got := TitleFromParts(nil); got != "New conversation" {
		t.Fatalf("unexpected fallback title: %q", got)
	}
}
