package ipx

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/geosense/ipxctl/internal/protocol"
	"github.com/geosense/ipxctl/internal/testutil/testlog"
	"github.com/geosense/ipxctl/internal/transport"
)

// step scripts one ReadLine outcome on the fake transport.
type step struct {
	raw     []byte
	timeout bool
}

func line(s string) step     { return step{raw: []byte(s)} }
func silence() step          { return step{timeout: true} }
func corrupt(b ...byte) step { return step{raw: b} }

type fakeTransport struct {
	script  []step
	written []string
	drains  int
	closed  bool
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.written = append(f.written, string(p))
	return len(p), nil
}

func (f *fakeTransport) ReadLine(time.Duration) ([]byte, error) {
	if len(f.script) == 0 {
		return nil, transport.ErrReadTimeout
	}
	next := f.script[0]
	f.script = f.script[1:]
	if next.timeout {
		return nil, transport.ErrReadTimeout
	}
	return next.raw, nil
}

func (f *fakeTransport) Drain() error {
	f.drains++
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newTestClient(tr transport.Transport) *Client {
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 50 * time.Millisecond
	return NewClient(tr, cfg)
}

func TestCollectNoResponseFails(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{silence()}}
	_, err := Collect(tr, CollectOptions{Timeout: time.Millisecond})
	if !errors.Is(err, protocol.ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if !errors.Is(err, protocol.ErrComm) {
		t.Fatalf("ErrNoResponse should belong to the comm family, got %v", err)
	}
}

func TestCollectTimeoutAfterDataIsTerminator(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("a"), line("b"), silence()}}
	batch, err := Collect(tr, CollectOptions{Timeout: time.Millisecond})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if batch.Len() != 2 || batch.Line(0) != "a" || batch.Line(1) != "b" {
		t.Fatalf("batch: %v", batch.Lines())
	}
}

func TestCollectCorruptLineFails(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("ok"), corrupt(0xC3, 0x28)}}
	_, err := Collect(tr, CollectOptions{Timeout: time.Millisecond})
	if !errors.Is(err, protocol.ErrCorruptedData) {
		t.Fatalf("expected ErrCorruptedData, got %v", err)
	}
}

func TestCollectStopOnEndsEarly(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{
		line("progress 1"),
		line("done: complete"),
		line("should never be read"),
	}}
	batch, err := Collect(tr, CollectOptions{Timeout: time.Millisecond, StopOn: "done:"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if batch.Len() != 2 {
		t.Fatalf("expected stop after marker, got %v", batch.Lines())
	}
	if len(tr.script) != 1 {
		t.Fatalf("collector read past the terminal marker")
	}
}

func TestCollectObserverSeesLinesInOrder(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("one"), line("two"), silence()}}
	var seen []string
	obs := LineObserverFunc(func(l string) { seen = append(seen, l) })
	batch, err := Collect(tr, CollectOptions{Timeout: time.Millisecond, Observer: obs})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(seen) != 2 || seen[0] != "one" || seen[1] != "two" {
		t.Fatalf("observer stream: %v", seen)
	}
	if batch.Len() != 2 {
		t.Fatalf("batch: %v", batch.Lines())
	}
}

func TestCollectObserverPanicDoesNotAbort(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("one"), line("two"), silence()}}
	obs := LineObserverFunc(func(string) { panic("observer bug") })
	batch, err := Collect(tr, CollectOptions{Timeout: time.Millisecond, Observer: obs})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if batch.Len() != 2 {
		t.Fatalf("collection aborted by observer: %v", batch.Lines())
	}
}

func TestInvokeUnknownCommand(t *testing.T) {
	testlog.Start(t)
	c := newTestClient(&fakeTransport{})
	_, err := c.Invoke("self_destruct", nil)
	if !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestInvokeWritesTerminatedCommandAfterDrain(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("Device is active"), silence()}}
	c := newTestClient(tr)
	if _, err := c.Invoke(CmdGetStatus, map[string]string{"uid": "123456"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if tr.drains != 1 {
		t.Fatalf("input buffer not drained before write: %d", tr.drains)
	}
	if len(tr.written) != 1 || tr.written[0] != "op ipx 123456 get_status\n" {
		t.Fatalf("wire command: %q", tr.written)
	}
}

func TestGetStatusScenario(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{
		line("Device is active"),
		line("Axis: 1"),
		line("Gain: 3"),
		silence(),
	}}
	c := newTestClient(tr)
	status, err := c.GetStatus(123456)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got, _ := status.Get(protocol.StatusTextKey); got != "Device is active" {
		t.Fatalf("status text: %q", got)
	}
	if got, _ := status.Get("Axis"); got != "1" {
		t.Fatalf("axis: %q", got)
	}
	if got, _ := status.Get("Gain"); got != "3" {
		t.Fatalf("gain: %q", got)
	}
}

func TestGetStatusRejectsBroadcast(t *testing.T) {
	testlog.Start(t)
	c := newTestClient(&fakeTransport{})
	_, err := c.GetStatus(BroadcastUID)
	if !errors.Is(err, protocol.ErrBroadcastUID) {
		t.Fatalf("expected ErrBroadcastUID, got %v", err)
	}
}

func TestGetRawParsesSampleLine(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("12, -4, 700"), silence()}}
	c := newTestClient(tr)
	out, err := c.GetRaw(1001, protocol.FormatList)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if len(out.List) != 3 || out.List[0] != 12 || out.List[1] != -4 || out.List[2] != 700 {
		t.Fatalf("samples: %v", out.List)
	}
}

func TestGetRawArrayFormat(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("5,6"), silence()}}
	c := newTestClient(tr)
	out, err := c.GetRaw(1001, protocol.FormatArray)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if out.Array.Len() != 2 || out.Array.At(0) != 5 || out.Array.At(1) != 6 {
		t.Fatalf("array: %v", out.Array.Values())
	}
}

func TestGetRawRejectsBroadcast(t *testing.T) {
	testlog.Start(t)
	c := newTestClient(&fakeTransport{})
	_, err := c.GetRaw(BroadcastUID, protocol.FormatText)
	if !errors.Is(err, protocol.ErrBroadcastUID) {
		t.Fatalf("expected ErrBroadcastUID, got %v", err)
	}
}

func TestListUIDsExtractsIDs(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{
		line("devices on bus:"),
		line("uid:1001"),
		line("uid: 1002"),
		silence(),
	}}
	c := newTestClient(tr)
	uids, err := c.DeviceUIDs()
	if err != nil {
		t.Fatalf("device uids: %v", err)
	}
	if len(uids) != 2 || uids[0] != 1001 || uids[1] != 1002 {
		t.Fatalf("uids: %v", uids)
	}
	if got := tr.written[0]; got != "op ipx 0 list_uids\n" {
		t.Fatalf("wire command: %q", got)
	}
}

func TestListUIDsTextKeepsRawReply(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("uid:7"), silence()}}
	c := newTestClient(tr)
	out, err := c.ListUIDs(protocol.FormatText)
	if err != nil {
		t.Fatalf("list uids: %v", err)
	}
	if out.Text != "uid:7" {
		t.Fatalf("text: %q", out.Text)
	}
}

func TestCalibrateCollectsStreamUntilSilence(t *testing.T) {
	testlog.Start(t)
	// Five progress lines then a gap longer than the calibration timeout:
	// the batch is exactly those five lines and no error.
	tr := &fakeTransport{script: []step{
		line("CMD_EXEC_Calibrate: starting"),
		line("Sensor number 1 mean = 10, standard dev = 2 axis 1"),
		line("Sensor number 1 mean = 11, standard dev = 2 axis 2"),
		line("Sensor number 2 mean = -4, standard dev = 1 axis 1"),
		line("Sensor number 2 mean = 0, standard dev = 3 axis 2"),
		silence(),
	}}
	c := newTestClient(tr)
	batch, err := c.Calibrate(1001)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if batch.Len() != 5 {
		t.Fatalf("expected 5 lines, got %d: %v", batch.Len(), batch.Lines())
	}
}

func TestCalibrateStopsOnCompletionMarker(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{
		line("Sensor number 1 mean = 10, standard dev = 2 axis 1"),
		line(CalibrationComplete),
		line("unreachable"),
	}}
	c := newTestClient(tr)
	batch, err := c.Calibrate(1001)
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if batch.Len() != 2 {
		t.Fatalf("expected stop on completion marker, got %v", batch.Lines())
	}
}

func TestSetCommandReturnsAck(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("CMD_EXEC_Set_Gain: Gain set to 3"), silence()}}
	c := newTestClient(tr)
	ack, err := c.SetGain(1001, 3)
	if err != nil {
		t.Fatalf("set gain: %v", err)
	}
	if ack != "CMD_EXEC_Set_Gain: Gain set to 3" {
		t.Fatalf("ack: %q", ack)
	}
	if tr.written[0] != "op ipx 1001 set_gain 3\n" {
		t.Fatalf("wire command: %q", tr.written[0])
	}
}

func TestSetCommandVerifyMismatch(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("ERR: unsupported"), silence()}}
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 50 * time.Millisecond
	cfg.Verify = true
	c := NewClient(tr, cfg)
	_, err := c.SetBaud(1001, 9600)
	if !errors.Is(err, protocol.ErrVerification) {
		t.Fatalf("expected ErrVerification, got %v", err)
	}
}

func TestSetCommandVerifyAcceptsExpectedPrefix(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("CMD_EXEC_Set_Baud: Baudrate set to 9600"), silence()}}
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 50 * time.Millisecond
	cfg.Verify = true
	c := NewClient(tr, cfg)
	if _, err := c.SetBaud(1001, 9600); err != nil {
		t.Fatalf("set baud: %v", err)
	}
}

func TestSetUIDTemplateCarriesUnlockCode(t *testing.T) {
	testlog.Start(t)
	tr := &fakeTransport{script: []step{line("CMD_EXEC_Set_UID: UID set to 2002"), silence()}}
	c := newTestClient(tr)
	if _, err := c.SetUID(1001, 2002); err != nil {
		t.Fatalf("set uid: %v", err)
	}
	if !strings.Contains(tr.written[0], "op ipx 1001 set_uid 567892 2002") {
		t.Fatalf("wire command: %q", tr.written[0])
	}
}

func TestCommandSpecFormatUnresolvedPlaceholder(t *testing.T) {
	testlog.Start(t)
	spec := CommandSpec{Name: "set_gain", Template: "op ipx {uid} set_gain {gain}"}
	if _, err := spec.Format(map[string]string{"uid": "1"}); err == nil {
		t.Fatalf("expected unresolved placeholder error")
	}
}

func TestDefaultRegistryTimeouts(t *testing.T) {
	testlog.Start(t)
	reg := DefaultRegistry()
	cal, err := reg.Lookup(CmdCalibrate)
	if err != nil || cal.Timeout != 20*time.Second {
		t.Fatalf("calibrate timeout: %v %v", cal.Timeout, err)
	}
	axis, _ := reg.Lookup(CmdSetAxis)
	if axis.Timeout != 5*time.Second {
		t.Fatalf("set_axis timeout: %v", axis.Timeout)
	}
	baud, _ := reg.Lookup(CmdSetBaud)
	if baud.Timeout != time.Second {
		t.Fatalf("set_baud timeout: %v", baud.Timeout)
	}
	gain, _ := reg.Lookup(CmdSetGain)
	if gain.Timeout != 500*time.Millisecond {
		t.Fatalf("set_gain timeout: %v", gain.Timeout)
	}
	status, _ := reg.Lookup(CmdGetStatus)
	if status.Timeout != 0 {
		t.Fatalf("get_status should fall back to the client default, got %v", status.Timeout)
	}
}

func TestParseCalibrationRecords(t *testing.T) {
	testlog.Start(t)
	batch := protocol.NewBatch(
		"CMD_EXEC_Calibrate: starting",
		"Sensor number 1 mean = 10, standard dev = 2 axis 1",
		"Sensor number 2 mean = -14, standard dev = 0 axis 2",
	)
	records := ParseCalibrationRecords(batch)
	if len(records) != 2 {
		t.Fatalf("records: %v", records)
	}
	if records[0] != (CalibrationRecord{SensorNum: 1, Mean: 10, StdDev: 2, Axis: 1}) {
		t.Fatalf("first record: %+v", records[0])
	}
	if records[1] != (CalibrationRecord{SensorNum: 2, Mean: -14, StdDev: 0, Axis: 2}) {
		t.Fatalf("second record: %+v", records[1])
	}
}

func TestParseCalibrationRecordsEmptyStream(t *testing.T) {
	testlog.Start(t)
	records := ParseCalibrationRecords(protocol.NewBatch("no results here"))
	if len(records) != 0 {
		t.Fatalf("expected no records, got %v", records)
	}
}
