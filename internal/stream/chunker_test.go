package stream

import (
	"strings"
	"testing"
)

func TestChunkerFlushesOnParagraphBreak(t *testing.T) {
	t.Parallel()

	c := NewChunker(500, 1000)
	if got := c.Push("first paragraph"); len(got) != 0 {
		t.Fatalf("expected no flush before break, got %v", got)
	}
	got := c.Push(" continues\n\nsecond paragraph")
	if len(got) != 1 {
		t.Fatalf("expected one chunk, got %v", got)
	}
	if got[0] != "first paragraph continues\n\n" {
		t.Fatalf("unexpected chunk: %q", got[0])
	}
	if rest := c.Flush(); rest != "second paragraph" {
		t.Fatalf("unexpected residual: %q", rest)
	}
}

func TestChunkerNeverSplitsATable(t *testing.T) {
	t.Parallel()

	c := NewChunker(10, 20) // tiny thresholds to tempt a mid-table split
	table := "| a | b |\n| --- | --- |\n| 1 | 2 |\n| 3 | 4 |\n"

	var chunks []string
	for _, line := range strings.SplitAfter(table, "\n") {
		chunks = append(chunks, c.Push(line)...)
	}
	// Still buffered: the table has not been delimited yet, so nothing may
	// flush mid-row despite the threshold being long exceeded.
	for _, ch := range chunks {
		if strings.Contains(ch, "|") && !strings.HasSuffix(ch, "|\n") {
			t.Fatalf("table row split across chunks: %q", ch)
		}
	}

	chunks = append(chunks, c.Push("done.\n")...)
	joined := strings.Join(chunks, "") + c.Flush()
	if joined != table+"done.\n" {
		t.Fatalf("content lost or reordered: %q", joined)
	}
}

func TestChunkerFlushesCompletedTableBlock(t *testing.T) {
	t.Parallel()

	c := NewChunker(500, 1000)
	table := "| h1 | h2 |\n| --- | --- |\n| x | y |\n"
	if got := c.Push(table); len(got) != 0 {
		t.Fatalf("table must stay buffered until delimited, got %v", got)
	}
	got := c.Push("after the table\n")
	if len(got) != 1 {
		t.Fatalf("expected one chunk after delimiter, got %v", got)
	}
	if !strings.HasPrefix(got[0], "| h1 |") || !strings.HasSuffix(got[0], "| x | y |\n") {
		t.Fatalf("flush should end exactly at the table block: %q", got[0])
	}
}

func TestChunkerNeverSplitsACodeFence(t *testing.T) {
	t.Parallel()

	c := NewChunker(10, 20)
	if got := c.Push("```go\nfunc main() {\n\n}\n"); len(got) != 0 {
		t.Fatalf("open fence must not flush, got %v", got)
	}
	got := c.Push("```\n")
	if len(got) != 1 {
		t.Fatalf("expected flush on fence close, got %v", got)
	}
	if !strings.HasSuffix(got[0], "```\n") {
		t.Fatalf("flush should include the closing fence: %q", got[0])
	}
}

func TestChunkerBlankLineInsideFenceIsNotABreak(t *testing.T) {
	t.Parallel()

	c := NewChunker(500, 1000)
	if got := c.Push("```\nline one\n\nline two\n"); len(got) != 0 {
		t.Fatalf("blank line inside fence flushed: %v", got)
	}
}

func TestChunkerTableModeRaisesThreshold(t *testing.T) {
	t.Parallel()

	c := NewChunker(20, 100)
	c.Push("| a | b |\n| - | - |\n| 1 | 2 |\nend\n")

	if !c.tableMode {
		t.Fatal("expected sticky table mode after a table")
	}
	filler := strings.Repeat("x", 50)
	if got := c.Push(filler); len(got) != 0 {
		t.Fatalf("expected table threshold (100) to hold at 50 chars, got %v", got)
	}
	if got := c.Push(strings.Repeat("x", 60)); len(got) == 0 {
		t.Fatal("expected flush past the table threshold")
	}
}

func TestChunkerThresholdCutRespectsRuneBoundaries(t *testing.T) {
	t.Parallel()

	c := NewChunker(5, 10)
	chunks := c.Push("ééééé") // 10 bytes, threshold falls mid-rune
	var all strings.Builder
	for _, ch := range chunks {
		if !strings.HasPrefix(ch, "é") && ch != "" {
			t.Fatalf("chunk starts mid-rune: %q", ch)
		}
		all.WriteString(ch)
	}
	all.WriteString(c.Flush())
	if all.String() != "ééééé" {
		t.Fatalf("content corrupted: %q", all.String())
	}
}

func TestChunkerFlushDrainsResidual(t *testing.T) {
	t.Parallel()

	c := NewChunker(500, 1000)
	c.Push("partial tail")
	if got := c.Flush(); got != "partial tail" {
		t.Fatalf("unexpected residual: %q", got)
	}
	if c.Buffered() != 0 {
		t.Fatalf("buffer not drained: %d", c.Buffered())
	}
}
