package datalogger

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/geosense/ipxctl/internal/ipx"
	"github.com/geosense/ipxctl/internal/testutil/testlog"
)

// fakeBus answers register reads from a fixed map and records writes.
type fakeBus struct {
	regs    map[uint16][]byte
	writes  []uint16
	written []uint16
	readErr error
}

func (b *fakeBus) ReadHoldingRegisters(_ context.Context, address, quantity uint16) ([]byte, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	reply, ok := b.regs[address]
	if !ok {
		return nil, errors.New("no such register")
	}
	if int(quantity)*2 < len(reply) {
		reply = reply[:quantity*2]
	}
	return reply, nil
}

func (b *fakeBus) WriteSingleRegister(_ context.Context, address, value uint16) ([]byte, error) {
	b.writes = append(b.writes, address)
	b.written = append(b.written, value)
	reply := make([]byte, 2)
	binary.BigEndian.PutUint16(reply, value)
	return reply, nil
}

func floatRegs(f float32) []byte {
	bits := math.Float32bits(f)
	return []byte{byte(bits >> 24), byte(bits >> 16), byte(bits >> 8), byte(bits)}
}

func newTestVerifier(bus *fakeBus) *Verifier {
	cfg := DefaultConfig()
	cfg.MeasureDelay = -1
	return &Verifier{
		bus:      bus,
		setSlave: func(byte) {},
		cfg:      cfg,
		log:      zerolog.Nop(),
	}
}

func healthyBus() *fakeBus {
	return &fakeBus{regs: map[uint16][]byte{
		regStatus:      {0x00, 0x01},
		regDistance:    floatRegs(-99),
		regTemperature: floatRegs(23.5),
		regVoltage:     floatRegs(12.25),
	}}
}

func TestMeasureSequence(t *testing.T) {
	testlog.Start(t)
	bus := healthyBus()
	v := newTestVerifier(bus)

	m, err := v.Measure(context.Background(), 1001, 2)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if len(bus.writes) != 1 || bus.writes[0] != regTrigger || bus.written[0] != triggerValue {
		t.Fatalf("trigger write: regs=%v values=%v", bus.writes, bus.written)
	}
	if m.Status != 1 {
		t.Fatalf("status: %d", m.Status)
	}
	if m.DistanceMM != -99 {
		t.Fatalf("distance: %v", m.DistanceMM)
	}
	if m.TemperatureC != 23.5 {
		t.Fatalf("temperature: %v", m.TemperatureC)
	}
	if m.VoltageV != 12.25 {
		t.Fatalf("voltage: %v", m.VoltageV)
	}
}

func TestMeasureReadFailure(t *testing.T) {
	testlog.Start(t)
	bus := healthyBus()
	bus.readErr = errors.New("timeout")
	v := newTestVerifier(bus)

	_, err := v.Measure(context.Background(), 1001, 2)
	if !errors.Is(err, ErrModbusRead) {
		t.Fatalf("expected ErrModbusRead, got %v", err)
	}
}

func TestVerifyHealthySensorPasses(t *testing.T) {
	testlog.Start(t)
	v := newTestVerifier(healthyBus())

	res, err := v.Verify(context.Background(), 1001, 2)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Checks.Pass() {
		t.Fatalf("expected pass, failures: %v", res.Checks.Failures)
	}
}

func TestLimitsCheckFlagsEachMetric(t *testing.T) {
	testlog.Start(t)
	l := DefaultLimits()
	m := Measurement{Status: 0, DistanceMM: -50, TemperatureC: 55, VoltageV: 10}
	c := l.Check(m)
	if c.Pass() {
		t.Fatalf("all-bad measurement passed")
	}
	if c.Status || c.Distance || c.Temperature || c.Voltage {
		t.Fatalf("per-metric verdicts: %+v", c)
	}
	if len(c.Failures) != 4 {
		t.Fatalf("failure messages: %v", c.Failures)
	}
}

func TestLimitsCheckRangeEdges(t *testing.T) {
	testlog.Start(t)
	l := DefaultLimits()
	m := Measurement{Status: 1, DistanceMM: -99, TemperatureC: 10, VoltageV: 12.8}
	if c := l.Check(m); !c.Pass() {
		t.Fatalf("boundary values should pass, failures: %v", c.Failures)
	}
}

func TestRegsToFloat(t *testing.T) {
	testlog.Start(t)
	for _, want := range []float32{-99, 0, 23.5, 12.25, 1.5e6} {
		bits := math.Float32bits(want)
		got := regsToFloat(uint16(bits>>16), uint16(bits))
		if got != float64(want) {
			t.Fatalf("regsToFloat(%v): got %v", want, got)
		}
	}
}

func TestVerifyAllCollectsResults(t *testing.T) {
	testlog.Start(t)
	bus := healthyBus()
	v := newTestVerifier(bus)

	sensors := map[int]ipx.DeviceUID{1: 1001, 2: 1002}
	results := v.VerifyAll(context.Background(), sensors, []int{1, 2})
	if len(results) != 2 {
		t.Fatalf("results: %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil || !r.Checks.Pass() {
			t.Fatalf("result: %+v", r)
		}
	}
}

func TestSleepCtxHonorsCancellation(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
