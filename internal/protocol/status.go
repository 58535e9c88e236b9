package protocol

import (
	"fmt"
	"strings"
)

// StatusTextKey holds the first, free-form line of a status response
// ("Device is active" and the like).
const StatusTextKey = "status text"

// statusSeparator splits a status line into field name and value. Only the
// first separator counts; values may themselves contain colons.
const statusSeparator = ":"

// StatusMap is the parsed key/value view of a status-shaped response.
// Keys are unique and iteration order is the order fields were first
// reported by the device; a duplicate key updates the value in place.
type StatusMap struct {
	keys   []string
	values map[string]string
}

// ParseStatus extracts a StatusMap from a response batch. The first
// non-key/value line is stored under StatusTextKey; every subsequent
// "key: value" line becomes an ordinary entry. Lines matching neither
// pattern are ignored. A non-empty batch that yields zero entries fails
// with ErrMalformedStatus.
func ParseStatus(batch ResponseBatch) (*StatusMap, error) {
	m := &StatusMap{values: make(map[string]string)}
	for i := 0; i < batch.Len(); i++ {
		line := batch.Line(i)
		if key, value, ok := splitStatusLine(line); ok {
			m.set(key, value)
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" && !m.has(StatusTextKey) {
			m.set(StatusTextKey, trimmed)
		}
	}
	if m.Len() == 0 {
		if batch.Empty() {
			return m, nil
		}
		return nil, fmt.Errorf("%w: no usable entries in %d lines", ErrMalformedStatus, batch.Len())
	}
	return m, nil
}

func splitStatusLine(line string) (key, value string, ok bool) {
	k, v, found := strings.Cut(line, statusSeparator)
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(k)
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(v), true
}

func (m *StatusMap) set(key, value string) {
	if !m.has(key) {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *StatusMap) has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Get returns the value reported for key.
func (m *StatusMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the field names in device-report order.
func (m *StatusMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *StatusMap) Len() int {
	return len(m.keys)
}

// Text renders the map as a "key: value" block in report order.
func (m *StatusMap) Text() string {
	var sb strings.Builder
	for i, key := range m.keys {
		if i > 0 {
			sb.WriteString(LineDelimiter)
		}
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(m.values[key])
	}
	return sb.String()
}
