package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// OutputFormat selects how a ResponseBatch or StatusMap is rendered back to
// the caller. The set is closed: conversion switches exhaustively over it so
// an unsupported combination is rejected, never silently coerced.
type OutputFormat int

const (
	// FormatText joins decoded lines with the line delimiter.
	FormatText OutputFormat = iota
	// FormatBytes re-encodes the decoded lines back to their wire bytes.
	FormatBytes
	// FormatList parses every line as an integer, preserving order.
	FormatList
	// FormatArray is FormatList materialized as a fixed-size array value.
	FormatArray
)

func (f OutputFormat) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatBytes:
		return "bytes"
	case FormatList:
		return "list"
	case FormatArray:
		return "array"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat maps a caller-supplied format name to its OutputFormat.
func ParseFormat(name string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "text", "string":
		return FormatText, nil
	case "bytes":
		return FormatBytes, nil
	case "list":
		return FormatList, nil
	case "array":
		return FormatArray, nil
	default:
		return FormatText, fmt.Errorf("%w: unknown output format %q", ErrFormatConversion, name)
	}
}

// IntArray is an immutable fixed-size numeric array. Once built its length
// and contents never change; accessors copy.
type IntArray struct {
	values []int64
}

func NewIntArray(values []int64) IntArray {
	own := make([]int64, len(values))
	copy(own, values)
	return IntArray{values: own}
}

func (a IntArray) Len() int {
	return len(a.values)
}

func (a IntArray) At(i int) int64 {
	return a.values[i]
}

func (a IntArray) Values() []int64 {
	out := make([]int64, len(a.values))
	copy(out, a.values)
	return out
}

// Output is one converted response. Exactly the field matching Format is
// populated.
type Output struct {
	Format OutputFormat
	Text   string
	Bytes  []byte
	List   []int64
	Array  IntArray
}

// ConvertBatch renders a response batch in the requested format. Numeric
// formats require every line to parse as an integer; a single bad line fails
// the whole conversion rather than dropping it.
func ConvertBatch(batch ResponseBatch, format OutputFormat) (Output, error) {
	switch format {
	case FormatText:
		return Output{Format: FormatText, Text: batch.Text()}, nil
	case FormatBytes:
		return Output{Format: FormatBytes, Bytes: []byte(batch.Text())}, nil
	case FormatList:
		values, err := batchInts(batch)
		if err != nil {
			return Output{}, err
		}
		return Output{Format: FormatList, List: values}, nil
	case FormatArray:
		values, err := batchInts(batch)
		if err != nil {
			return Output{}, err
		}
		return Output{Format: FormatArray, Array: NewIntArray(values)}, nil
	default:
		return Output{}, fmt.Errorf("%w: unsupported format %s", ErrFormatConversion, format)
	}
}

// ConvertStatus renders a status map. Status data is inherently textual;
// numeric formats are a type mismatch and fail.
func ConvertStatus(status *StatusMap, format OutputFormat) (Output, error) {
	switch format {
	case FormatText:
		return Output{Format: FormatText, Text: status.Text()}, nil
	case FormatBytes:
		return Output{Format: FormatBytes, Bytes: []byte(status.Text())}, nil
	case FormatList, FormatArray:
		return Output{}, fmt.Errorf("%w: status map does not support %s output", ErrFormatConversion, format)
	default:
		return Output{}, fmt.Errorf("%w: unsupported format %s", ErrFormatConversion, format)
	}
}

func batchInts(batch ResponseBatch) ([]int64, error) {
	values := make([]int64, 0, batch.Len())
	for i := 0; i < batch.Len(); i++ {
		line := strings.TrimSpace(batch.Line(i))
		v, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d is not numeric: %q", ErrFormatConversion, i, batch.Line(i))
		}
		values = append(values, v)
	}
	return values, nil
}
