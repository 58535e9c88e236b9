// Package transport owns the byte-stream boundary under the IPX protocol
// engine: a duplex line-oriented stream with a per-read silence timeout.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrReadTimeout reports that no complete line arrived within the
	// caller's timeout. The protocol layer decides whether that means
	// end-of-response or failure.
	ErrReadTimeout = errors.New("transport: read timed out")
	// ErrLineTooLong reports a line exceeding the configured limit before a
	// delimiter was seen.
	ErrLineTooLong = errors.New("transport: line exceeds length limit")
	// ErrClosed reports use of a closed transport.
	ErrClosed = errors.New("transport: closed")
)

// Transport is the minimal stream contract the protocol engine drives. The
// concrete implementation is a serial port; tests substitute fakes.
//
// One invocation owns the transport for its whole duration: Transport
// implementations are not safe for concurrent use and callers serialize
// access themselves.
type Transport interface {
	// Write sends raw bytes down the stream.
	Write(p []byte) (int, error)

	// ReadLine blocks until one full line (delimited by '\n', delimiter
	// excluded) is available or the stream has been silent for timeout.
	// Silence is measured from the last received byte, so a slow multi-line
	// response keeps the read alive as long as data keeps trickling in.
	ReadLine(timeout time.Duration) ([]byte, error)

	// Drain discards any buffered input so the next read only sees the
	// response to the next command.
	Drain() error

	Close() error
}

// Limits bounds transport memory use.
type Limits struct {
	MaxLineBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxLineBytes: 64 * 1024}
}
