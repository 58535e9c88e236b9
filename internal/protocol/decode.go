package protocol

import (
	"fmt"
	"unicode/utf8"
)

// LineDelimiter terminates every command and response line on the wire.
const LineDelimiter = "\n"

// DecodeLine validates one raw line as UTF-8 text. There is no
// replacement-character or truncation fallback; invalid bytes fail the whole
// line. A valid line round-trips byte-identically through string conversion.
func DecodeLine(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: line is not valid UTF-8 (%d bytes)", ErrCorruptedData, len(raw))
	}
	return string(raw), nil
}
