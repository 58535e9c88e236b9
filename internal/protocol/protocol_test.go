package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/geosense/ipxctl/internal/testutil/testlog"
)

func TestDecodeLineRoundTrip(t *testing.T) {
	testlog.Start(t)
	raw := []byte("Sensor number 3 mean = -12, standard dev = 4 axis 1")
	line, err := DecodeLine(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal([]byte(line), raw) {
		t.Fatalf("round trip mismatch: %q", line)
	}
}

func TestDecodeLineCorruptBytes(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeLine([]byte{0x75, 0x69, 0x64, 0xFF, 0xFE})
	if !errors.Is(err, ErrCorruptedData) {
		t.Fatalf("expected ErrCorruptedData, got %v", err)
	}
	if !errors.Is(err, ErrComm) {
		t.Fatalf("corruption should belong to the comm error family, got %v", err)
	}
}

func TestBatchIsImmutable(t *testing.T) {
	testlog.Start(t)
	src := []string{"a", "b"}
	batch := NewBatch(src...)
	src[0] = "mutated"
	if batch.Line(0) != "a" {
		t.Fatalf("batch shares caller slice")
	}
	out := batch.Lines()
	out[1] = "mutated"
	if batch.Line(1) != "b" {
		t.Fatalf("accessor leaks backing slice")
	}
}

func TestParseStatusShape(t *testing.T) {
	testlog.Start(t)
	batch := NewBatch("Device is active", "Axis: 1", "Gain: 3")
	status, err := ParseStatus(batch)
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if got, _ := status.Get(StatusTextKey); got != "Device is active" {
		t.Fatalf("status text: %q", got)
	}
	if got, _ := status.Get("Axis"); got != "1" {
		t.Fatalf("axis: %q", got)
	}
	if got, _ := status.Get("Gain"); got != "3" {
		t.Fatalf("gain: %q", got)
	}
	want := []string{StatusTextKey, "Axis", "Gain"}
	keys := status.Keys()
	if len(keys) != len(want) {
		t.Fatalf("keys: %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("key order: %v", keys)
		}
	}
}

func TestParseStatusDuplicateKeyLastWins(t *testing.T) {
	testlog.Start(t)
	batch := NewBatch("ok", "Gain: 3", "Axis: 1", "Gain: 7")
	status, err := ParseStatus(batch)
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if got, _ := status.Get("Gain"); got != "7" {
		t.Fatalf("expected last occurrence to win, got %q", got)
	}
	count := 0
	for _, k := range status.Keys() {
		if k == "Gain" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("duplicate key appears %d times", count)
	}
}

func TestParseStatusZeroEntriesFails(t *testing.T) {
	testlog.Start(t)
	_, err := ParseStatus(NewBatch("   ", ""))
	if !errors.Is(err, ErrMalformedStatus) {
		t.Fatalf("expected ErrMalformedStatus, got %v", err)
	}
}

func TestParseStatusEmptyBatchIsLegal(t *testing.T) {
	testlog.Start(t)
	status, err := ParseStatus(NewBatch())
	if err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if status.Len() != 0 {
		t.Fatalf("expected empty map, got %v", status.Keys())
	}
}

func TestConvertBatchNumeric(t *testing.T) {
	testlog.Start(t)
	out, err := ConvertBatch(NewBatch("1", "2", "3"), FormatList)
	if err != nil {
		t.Fatalf("convert list: %v", err)
	}
	if len(out.List) != 3 || out.List[0] != 1 || out.List[1] != 2 || out.List[2] != 3 {
		t.Fatalf("list: %v", out.List)
	}

	out, err = ConvertBatch(NewBatch("1", "2", "3"), FormatArray)
	if err != nil {
		t.Fatalf("convert array: %v", err)
	}
	if out.Array.Len() != 3 || out.Array.At(2) != 3 {
		t.Fatalf("array: %v", out.Array.Values())
	}
}

func TestConvertBatchNonNumericFails(t *testing.T) {
	testlog.Start(t)
	_, err := ConvertBatch(NewBatch("1", "x", "3"), FormatList)
	if !errors.Is(err, ErrFormatConversion) {
		t.Fatalf("expected ErrFormatConversion, got %v", err)
	}
}

func TestConvertBatchTextAndBytes(t *testing.T) {
	testlog.Start(t)
	batch := NewBatch("uid:1001", "uid:1002")
	out, err := ConvertBatch(batch, FormatText)
	if err != nil {
		t.Fatalf("convert text: %v", err)
	}
	if out.Text != "uid:1001\nuid:1002" {
		t.Fatalf("text: %q", out.Text)
	}
	out, err = ConvertBatch(batch, FormatBytes)
	if err != nil {
		t.Fatalf("convert bytes: %v", err)
	}
	if string(out.Bytes) != "uid:1001\nuid:1002" {
		t.Fatalf("bytes: %q", out.Bytes)
	}
}

func TestConvertStatusRejectsNumericFormats(t *testing.T) {
	testlog.Start(t)
	status, err := ParseStatus(NewBatch("ok", "Axis: 1"))
	if err != nil {
		t.Fatalf("parse status: %v", err)
	}
	if _, err := ConvertStatus(status, FormatArray); !errors.Is(err, ErrFormatConversion) {
		t.Fatalf("expected ErrFormatConversion, got %v", err)
	}
	if _, err := ConvertStatus(status, FormatList); !errors.Is(err, ErrFormatConversion) {
		t.Fatalf("expected ErrFormatConversion, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	testlog.Start(t)
	f, err := ParseFormat("Array")
	if err != nil || f != FormatArray {
		t.Fatalf("parse array: %v %v", f, err)
	}
	if _, err := ParseFormat("csv"); !errors.Is(err, ErrFormatConversion) {
		t.Fatalf("expected ErrFormatConversion for unknown name, got %v", err)
	}
}
