package transport

import (
	"bytes"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// ioPort is the slice of go.bug.st/serial.Port the line reader needs.
// Narrowed for testability.
type ioPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// PortConfig describes how to open the serial port shared by the sensor bus.
type PortConfig struct {
	Name     string
	BaudRate int
	Limits   Limits
}

// SerialPort implements Transport over one OS serial handle. It carries
// unconsumed bytes between ReadLine calls so partial lines are never lost.
type SerialPort struct {
	port   ioPort
	limits Limits
	buf    []byte
	closed bool
}

// OpenPort opens the named serial port at 8N1 with the given baud rate.
func OpenPort(cfg PortConfig) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Name, err)
	}
	log.Info().Str("port", cfg.Name).Int("baud", cfg.BaudRate).Msg("serial port opened")
	return newSerialPort(port, cfg.Limits), nil
}

func newSerialPort(port ioPort, limits Limits) *SerialPort {
	if limits.MaxLineBytes <= 0 {
		limits = DefaultLimits()
	}
	return &SerialPort{port: port, limits: limits}
}

func (s *SerialPort) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	return s.port.Write(p)
}

// ReadLine returns the next full line. The silence clock restarts whenever
// any bytes arrive, even if they do not yet complete a line.
func (s *SerialPort) ReadLine(timeout time.Duration) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if line, ok := s.takeLine(); ok {
		return line, nil
	}

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrReadTimeout
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		n, err := s.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			// go.bug.st/serial reports an expired read deadline as a
			// zero-byte read with nil error.
			return nil, ErrReadTimeout
		}
		s.buf = append(s.buf, chunk[:n]...)
		deadline = time.Now().Add(timeout)
		if line, ok := s.takeLine(); ok {
			return line, nil
		}
		if len(s.buf) > s.limits.MaxLineBytes {
			s.buf = nil
			return nil, ErrLineTooLong
		}
	}
}

// takeLine splits one complete line off the carry buffer. CRLF endings are
// treated as line endings: a single trailing '\r' belongs to the delimiter,
// not the line.
func (s *SerialPort) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(s.buf, '\n')
	if i < 0 {
		return nil, false
	}
	end := i
	if end > 0 && s.buf[end-1] == '\r' {
		end--
	}
	line := make([]byte, end)
	copy(line, s.buf[:end])
	s.buf = s.buf[i+1:]
	return line, true
}

func (s *SerialPort) Drain() error {
	if s.closed {
		return ErrClosed
	}
	s.buf = nil
	return s.port.ResetInputBuffer()
}

func (s *SerialPort) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf = nil
	return s.port.Close()
}
