package stream

import (
	"strings"
	"unicode/utf8"
)

// Chunker re-batches raw text deltas into boundary-safe chunks: markdown
// table row blocks and fenced code blocks are never split across flushes.
// One Chunker serves one session run; it is not safe for concurrent use.
type Chunker struct {
	buffer    string
	chunkSize int
	tableSize int

	// tableMode sticks once a table has been observed in the current run;
	// table-heavy output flushes in fewer, larger chunks.
	tableMode bool
}

// NewChunker creates a chunker with the given flush thresholds.
func NewChunker(chunkSize, tableChunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if tableChunkSize < chunkSize {
		tableChunkSize = chunkSize * 2
	}
	return &Chunker{chunkSize: chunkSize, tableSize: tableChunkSize}
}

// Push appends a delta and returns any chunks that became safe to flush.
func (c *Chunker) Push(delta string) []string {
	c.buffer += delta

	var out []string
	for {
		cut, ok := c.cut()
		if !ok {
			break
		}
		out = append(out, c.buffer[:cut])
		c.buffer = c.buffer[cut:]
	}
	return out
}

// Flush unconditionally drains the residual buffer. Called at end of run or
// on cancellation so no text is ever dropped.
func (c *Chunker) Flush() string {
	rest := c.buffer
	c.buffer = ""
	return rest
}

// Buffered returns the residual buffer length.
func (c *Chunker) Buffered() int {
	return len(c.buffer)
}

// cut decides one flush boundary, in priority order: completed table block,
// closed code fence, paragraph break, size threshold.
func (c *Chunker) cut() (int, bool) {
	s := scanBuffer(c.buffer)
	if s.tableSeen {
		c.tableMode = true
	}

	if s.tableEnd > 0 {
		return s.tableEnd, true
	}
	if s.fenceEnd > 0 {
		return s.fenceEnd, true
	}
	if s.paraEnd > 0 {
		return s.paraEnd, true
	}

	threshold := c.chunkSize
	if c.tableMode {
		threshold = c.tableSize
	}
	if len(c.buffer) >= threshold {
		cut := threshold
		// An open fence or table run must not be split; the cut stops
		// where the open construct begins.
		if cut > s.safeLimit {
			cut = s.safeLimit
		}
		if cut >= len(c.buffer) {
			return len(c.buffer), true
		}
		// Back off to a rune boundary so a split never produces an
		// invalid UTF-8 frame.
		for cut > 0 && !utf8.RuneStart(c.buffer[cut]) {
			cut--
		}
		if cut > 0 {
			return cut, true
		}
	}
	return 0, false
}

// scanResult carries the flush boundaries found in one pass over the buffer.
// Offsets are 0 when the corresponding construct was not found.
type scanResult struct {
	tableEnd  int // end of a completed table row block
	fenceEnd  int // end of the first closed ``` fence
	paraEnd   int // end of the first blank-line paragraph break outside fences
	safeLimit int // last offset a threshold cut may reach without splitting an open construct
	tableSeen bool
}

// scanBuffer walks the buffer line by line, tracking fence state so that
// pipe-delimited lines and blank lines inside a code fence are never
// mistaken for table rows or paragraph breaks.
func scanBuffer(buf string) scanResult {
	var res scanResult

	inFence := false
	fenceStart := 0
	tableRun := 0
	tableRunStart := 0
	tableRunEnd := 0
	trailingGuard := -1

	offset := 0
	for offset < len(buf) {
		nl := strings.IndexByte(buf[offset:], '\n')
		complete := nl >= 0
		end := len(buf)
		if complete {
			end = offset + nl + 1
		}
		line := buf[offset:end]
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "```"):
			// A fence marker is a complete non-table line: it delimits any
			// buffered table block before fence state flips.
			if tableRun >= 3 && res.tableEnd == 0 {
				res.tableEnd = tableRunEnd
			}
			tableRun = 0
			if inFence {
				inFence = false
				if res.fenceEnd == 0 {
					res.fenceEnd = end
				}
			} else {
				inFence = true
				fenceStart = offset
			}

		case inFence:
			// Fence content is opaque.

		case complete && isTableLine(trimmed):
			if tableRun == 0 {
				tableRunStart = offset
			}
			tableRun++
			tableRunEnd = end
			if tableRun >= 3 {
				res.tableSeen = true
			}

		case complete:
			// A complete non-table line delimits a table block; three or
			// more buffered rows are now safe to flush.
			if tableRun >= 3 && res.tableEnd == 0 {
				res.tableEnd = tableRunEnd
			}
			tableRun = 0
			if trimmed == "" && res.paraEnd == 0 && offset > 0 {
				res.paraEnd = end
			}

		default:
			// Incomplete trailing line: leave any table run open until more
			// data arrives. A line that may still become a table row or a
			// fence marker is shielded from threshold cuts.
			if strings.HasPrefix(trimmed, "|") || strings.HasPrefix(trimmed, "`") {
				trailingGuard = offset
			}
		}

		offset = end
	}

	switch {
	case inFence:
		res.safeLimit = fenceStart
	case tableRun > 0:
		res.safeLimit = tableRunStart
	case trailingGuard >= 0:
		res.safeLimit = trailingGuard
	default:
		res.safeLimit = len(buf)
	}
	return res
}

// isTableLine reports whether a trimmed, complete line looks like a
// markdown table row: non-empty and bounded by pipes.
func isTableLine(trimmed string) bool {
	return len(trimmed) >= 2 && trimmed[0] == '|' && trimmed[len(trimmed)-1] == '|'
}
