// Package datalogger verifies configured sensors over Modbus RTU, running
// the same measurement sequence a production datalogger would: trigger a
// measurement, read the status register, then read the distance, temperature
// and supply-voltage float registers.
package datalogger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/grid-x/modbus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/geosense/ipxctl/internal/ipx"
)

// Holding-register map of the IPX Modbus slave. The float quantities occupy
// two registers each, most significant word first.
const (
	regTrigger     = 0x0063
	regStatus      = 0x0135
	regDistance    = 0x0136
	regTemperature = 0x0139
	regVoltage     = 0x013C

	// triggerValue written to regTrigger starts a measurement cycle.
	triggerValue = 0xFFFF
)

var (
	// ErrModbusWrite: a register write was rejected or never answered.
	ErrModbusWrite = errors.New("datalogger: modbus write failed")
	// ErrModbusRead: a register read was rejected, never answered, or came
	// back short.
	ErrModbusRead = errors.New("datalogger: modbus read failed")
)

// registerBus is the slice of the Modbus client the verifier needs.
type registerBus interface {
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]byte, error)
	WriteSingleRegister(ctx context.Context, address, value uint16) ([]byte, error)
}

// Limits bound a passing measurement. Distance is checked against the fixed
// bench target, temperature and voltage against closed ranges.
type Limits struct {
	ExpectedStatus     uint16
	ExpectedDistanceMM float64
	TempMinC           float64
	TempMaxC           float64
	VoltMinV           float64
	VoltMaxV           float64
}

func DefaultLimits() Limits {
	return Limits{
		ExpectedStatus:     1,
		ExpectedDistanceMM: -99,
		TempMinC:           10,
		TempMaxC:           40,
		VoltMinV:           11.2,
		VoltMaxV:           12.8,
	}
}

// Config describes the RTU link and the pass criteria.
type Config struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
	// MeasureDelay is how long a sensor needs between the trigger write and
	// the results becoming readable.
	MeasureDelay time.Duration
	Limits       Limits
}

func DefaultConfig() Config {
	return Config{
		BaudRate:     9600,
		Timeout:      time.Second,
		MeasureDelay: time.Second,
		Limits:       DefaultLimits(),
	}
}

// Measurement is one sensor's datalogger-equivalent reading.
type Measurement struct {
	UID          ipx.DeviceUID
	Alias        int
	Status       uint16
	DistanceMM   float64
	TemperatureC float64
	VoltageV     float64
}

// Checks is the per-metric verdict for one measurement.
type Checks struct {
	Status      bool
	Distance    bool
	Temperature bool
	Voltage     bool
	Failures    []string
}

// Pass reports whether every metric passed.
func (c Checks) Pass() bool {
	return c.Status && c.Distance && c.Temperature && c.Voltage
}

// Result pairs a sensor's measurement with its verdict. Err is set when the
// measurement itself could not be taken; the checks are meaningless then.
type Result struct {
	Measurement Measurement
	Checks      Checks
	Err         error
}

// Verifier drives the measurement sequence over one RTU bus. Sensors are
// addressed by their Modbus alias.
type Verifier struct {
	bus      registerBus
	setSlave func(byte)
	closeFn  func() error
	cfg      Config
	log      zerolog.Logger
}

// Open connects to the RTU bus described by cfg.
func Open(cfg Config) (*Verifier, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultConfig().BaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MeasureDelay == 0 {
		cfg.MeasureDelay = DefaultConfig().MeasureDelay
	}
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = cfg.Timeout
	if err := handler.Connect(context.Background()); err != nil {
		return nil, fmt.Errorf("datalogger: connect %s: %w", cfg.Port, err)
	}
	return &Verifier{
		bus:      modbus.NewClient(handler),
		setSlave: func(a byte) { handler.SlaveID = a },
		closeFn:  handler.Close,
		cfg:      cfg,
		log:      log.With().Str("component", "datalogger.verifier").Logger(),
	}, nil
}

func (v *Verifier) Close() error {
	if v.closeFn == nil {
		return nil
	}
	return v.closeFn()
}

// Measure runs the full sequence against one sensor: trigger, settle, read
// status and the three float quantities.
func (v *Verifier) Measure(ctx context.Context, uid ipx.DeviceUID, alias int) (Measurement, error) {
	v.setSlave(byte(alias))
	m := Measurement{UID: uid, Alias: alias}

	v.log.Debug().Stringer("uid", uid).Int("alias", alias).Msg("triggering measurement")
	if _, err := v.bus.WriteSingleRegister(ctx, regTrigger, triggerValue); err != nil {
		return m, fmt.Errorf("%w: trigger alias %d: %v", ErrModbusWrite, alias, err)
	}
	if err := sleepCtx(ctx, v.cfg.MeasureDelay); err != nil {
		return m, err
	}

	status, err := v.readRegister(ctx, regStatus)
	if err != nil {
		return m, fmt.Errorf("status alias %d: %w", alias, err)
	}
	m.Status = status

	if m.DistanceMM, err = v.readFloat(ctx, regDistance); err != nil {
		return m, fmt.Errorf("distance alias %d: %w", alias, err)
	}
	if m.TemperatureC, err = v.readFloat(ctx, regTemperature); err != nil {
		return m, fmt.Errorf("temperature alias %d: %w", alias, err)
	}
	if m.VoltageV, err = v.readFloat(ctx, regVoltage); err != nil {
		return m, fmt.Errorf("voltage alias %d: %w", alias, err)
	}
	v.log.Debug().
		Stringer("uid", uid).
		Uint16("status", m.Status).
		Float64("distance_mm", m.DistanceMM).
		Float64("temperature_c", m.TemperatureC).
		Float64("voltage_v", m.VoltageV).
		Msg("measurement complete")
	return m, nil
}

// Verify runs Measure and checks the result against the configured limits.
func (v *Verifier) Verify(ctx context.Context, uid ipx.DeviceUID, alias int) (Result, error) {
	m, err := v.Measure(ctx, uid, alias)
	if err != nil {
		return Result{Measurement: m, Err: err}, err
	}
	checks := v.cfg.Limits.Check(m)
	if checks.Pass() {
		v.log.Info().Stringer("uid", uid).Int("alias", alias).Msg("datalogger checks passed")
	} else {
		v.log.Warn().Stringer("uid", uid).Strs("failures", checks.Failures).Msg("datalogger checks failed")
	}
	return Result{Measurement: m, Checks: checks}, nil
}

// VerifyAll verifies every sensor in turn. Per-sensor failures, including
// bus errors, are recorded in the results rather than aborting the run.
func (v *Verifier) VerifyAll(ctx context.Context, sensors map[int]ipx.DeviceUID, aliases []int) []Result {
	results := make([]Result, 0, len(aliases))
	for _, alias := range aliases {
		res, err := v.Verify(ctx, sensors[alias], alias)
		if err != nil {
			v.log.Error().Int("alias", alias).Err(err).Msg("measurement failed")
		}
		results = append(results, res)
	}
	return results
}

// Check evaluates one measurement against the limits.
func (l Limits) Check(m Measurement) Checks {
	c := Checks{
		Status:      m.Status == l.ExpectedStatus,
		Distance:    m.DistanceMM == l.ExpectedDistanceMM,
		Temperature: m.TemperatureC >= l.TempMinC && m.TemperatureC <= l.TempMaxC,
		Voltage:     m.VoltageV >= l.VoltMinV && m.VoltageV <= l.VoltMaxV,
	}
	if !c.Status {
		c.Failures = append(c.Failures, fmt.Sprintf("status %d (expected %d)", m.Status, l.ExpectedStatus))
	}
	if !c.Distance {
		c.Failures = append(c.Failures, fmt.Sprintf("distance %.1f mm (expected %.1f mm)", m.DistanceMM, l.ExpectedDistanceMM))
	}
	if !c.Temperature {
		c.Failures = append(c.Failures, fmt.Sprintf("temperature %.1f C (expected %.1f-%.1f C)", m.TemperatureC, l.TempMinC, l.TempMaxC))
	}
	if !c.Voltage {
		c.Failures = append(c.Failures, fmt.Sprintf("voltage %.2f V (expected %.2f-%.2f V)", m.VoltageV, l.VoltMinV, l.VoltMaxV))
	}
	return c
}

// readRegister reads one holding register.
func (v *Verifier) readRegister(ctx context.Context, address uint16) (uint16, error) {
	b, err := v.bus.ReadHoldingRegisters(ctx, address, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: register 0x%04x: %v", ErrModbusRead, address, err)
	}
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: register 0x%04x: short reply (%d bytes)", ErrModbusRead, address, len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

// readFloat reads a two-register float32 quantity, MSW first.
func (v *Verifier) readFloat(ctx context.Context, address uint16) (float64, error) {
	b, err := v.bus.ReadHoldingRegisters(ctx, address, 2)
	if err != nil {
		return 0, fmt.Errorf("%w: register 0x%04x: %v", ErrModbusRead, address, err)
	}
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: register 0x%04x: short reply (%d bytes)", ErrModbusRead, address, len(b))
	}
	msw := binary.BigEndian.Uint16(b[0:2])
	lsw := binary.BigEndian.Uint16(b[2:4])
	return regsToFloat(msw, lsw), nil
}

// regsToFloat reassembles a big-endian float32 from its MSW/LSW register
// pair.
func regsToFloat(msw, lsw uint16) float64 {
	bits := uint32(msw)<<16 | uint32(lsw)
	return float64(math.Float32frombits(bits))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
