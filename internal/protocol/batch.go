package protocol

import "strings"

// ResponseBatch is the ordered sequence of decoded lines collected for one
// command invocation. Insertion order is arrival order. A batch is immutable
// once built: accessors hand out copies, never the backing slice.
type ResponseBatch struct {
	lines []string
}

// NewBatch builds a batch from decoded lines, copying the input.
func NewBatch(lines ...string) ResponseBatch {
	if len(lines) == 0 {
		return ResponseBatch{}
	}
	own := make([]string, len(lines))
	copy(own, lines)
	return ResponseBatch{lines: own}
}

func (b ResponseBatch) Len() int {
	return len(b.lines)
}

func (b ResponseBatch) Empty() bool {
	return len(b.lines) == 0
}

// Line returns the i-th decoded line in arrival order.
func (b ResponseBatch) Line(i int) string {
	return b.lines[i]
}

// Lines returns a defensive copy of the collected lines.
func (b ResponseBatch) Lines() []string {
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// Text joins the lines with the protocol line delimiter.
func (b ResponseBatch) Text() string {
	return strings.Join(b.lines, LineDelimiter)
}
