// Package workflow owns the multi-step sensor configuration sequences built
// on top of the ipx client: detection, default parameters, calibration with
// validation, and raw-data sanity checks.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/geosense/ipxctl/internal/ipx"
)

var (
	// ErrSensorCountMismatch: the expected number of sensors never appeared
	// on the bus within the retry budget.
	ErrSensorCountMismatch = errors.New("workflow: sensor count mismatch")
	// ErrCalibrationInvalid: calibration produced zero-mean or zero-stddev
	// results for at least one sensor.
	ErrCalibrationInvalid = errors.New("workflow: calibration validation failed")
	// ErrNoVariation: raw readings show no variation at all, so outlier
	// statistics are meaningless (almost certainly a wiring fault).
	ErrNoVariation = errors.New("workflow: raw data shows no variation")
)

// DeviceDefaults are the parameters applied to every sensor during
// configuration.
type DeviceDefaults struct {
	Gain              int
	CentroidThreshold int
	CentroidRes       int
	NStds             int
	Termination       int
	Axis              int
}

func DefaultDeviceDefaults() DeviceDefaults {
	return DeviceDefaults{
		Gain:              3,
		CentroidThreshold: 800,
		CentroidRes:       10,
		NStds:             10,
		Termination:       0,
		Axis:              1,
	}
}

// Config tunes one configuration run.
type Config struct {
	// ExpectedSensors is how many production sensors must answer the
	// broadcast, the check sensor excluded.
	ExpectedSensors int
	// CheckSensorUID marks the permanently attached check sensor, filtered
	// out of production counts.
	CheckSensorUID ipx.DeviceUID
	MaxRetries     int
	RetryDelay     time.Duration
	// WorkBaud is the bus rate during configuration, TargetBaud the rate
	// sensors are left at when the run finishes.
	WorkBaud   int
	TargetBaud int
	// SetAliases assigns descending numeric aliases (bus position order)
	// when true; GXM-style inserts keep their factory addressing.
	SetAliases bool
	Defaults   DeviceDefaults
	// ReadingInterval spaces consecutive raw readings in RawDataCheck.
	ReadingInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		CheckSensorUID:  1111111111,
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		WorkBaud:        115200,
		TargetBaud:      9600,
		SetAliases:      true,
		Defaults:        DefaultDeviceDefaults(),
		ReadingInterval: 500 * time.Millisecond,
	}
}

// AliasAssignment records which alias a sensor received. Aliases double as
// Modbus addresses during datalogger verification.
type AliasAssignment struct {
	Alias int
	UID   ipx.DeviceUID
}

// SensorCalibration is the outcome of calibrating one sensor.
type SensorCalibration struct {
	UID     ipx.DeviceUID
	Records []ipx.CalibrationRecord
}

// Configurator runs the configuration sequence against one bus.
type Configurator struct {
	client *ipx.Client
	cfg    Config
	log    zerolog.Logger
}

func NewConfigurator(client *ipx.Client, cfg Config) *Configurator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.CheckSensorUID == 0 {
		cfg.CheckSensorUID = DefaultConfig().CheckSensorUID
	}
	return &Configurator{
		client: client,
		cfg:    cfg,
		log:    log.With().Str("component", "workflow.configurator").Logger(),
	}
}

// DetectSensors lists bus devices until the expected production count is
// seen, retrying on mismatch. Returns the production UIDs and whether the
// check sensor answered.
func (c *Configurator) DetectSensors() ([]ipx.DeviceUID, bool, error) {
	var lastCount int
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		all, err := c.client.DeviceUIDs()
		if err != nil {
			return nil, false, fmt.Errorf("detect sensors: %w", err)
		}
		valid := make([]ipx.DeviceUID, 0, len(all))
		checkFound := false
		for _, uid := range all {
			if uid == c.cfg.CheckSensorUID {
				checkFound = true
				continue
			}
			valid = append(valid, uid)
		}
		lastCount = len(valid)
		if lastCount == c.cfg.ExpectedSensors {
			c.log.Info().Int("sensors", lastCount).Bool("check_sensor", checkFound).Msg("expected sensors detected")
			return valid, checkFound, nil
		}
		c.log.Warn().
			Int("attempt", attempt).
			Int("detected", lastCount).
			Int("expected", c.cfg.ExpectedSensors).
			Msg("sensor count mismatch, retrying")
		if attempt < c.cfg.MaxRetries {
			time.Sleep(c.cfg.RetryDelay)
		}
	}
	return nil, false, fmt.Errorf("%w: detected %d, expected %d after %d attempts",
		ErrSensorCountMismatch, lastCount, c.cfg.ExpectedSensors, c.cfg.MaxRetries)
}

// ApplyDefaults sets the working baud rate and default parameters on every
// sensor. With SetAliases enabled, aliases count down from the sensor
// furthest along the bus so alias 1 is the last sensor in the chain.
func (c *Configurator) ApplyDefaults(uids []ipx.DeviceUID) ([]AliasAssignment, error) {
	assignments := make([]AliasAssignment, len(uids))
	for i, uid := range uids {
		assignments[i] = AliasAssignment{Alias: len(uids) - i, UID: uid}
	}
	for _, as := range assignments {
		c.log.Info().Stringer("uid", as.UID).Msg("applying default parameters")
		if _, err := c.client.SetBaud(as.UID, c.cfg.WorkBaud); err != nil {
			return nil, fmt.Errorf("uid %s set_baud: %w", as.UID, err)
		}
		if c.cfg.SetAliases {
			if _, err := c.client.SetAlias(as.UID, fmt.Sprintf("%d", as.Alias)); err != nil {
				return nil, fmt.Errorf("uid %s set_alias: %w", as.UID, err)
			}
		}
		d := c.cfg.Defaults
		steps := []struct {
			name string
			run  func() (string, error)
		}{
			{"set_gain", func() (string, error) { return c.client.SetGain(as.UID, d.Gain) }},
			{"set_centroid_threshold", func() (string, error) { return c.client.SetCentroidThreshold(as.UID, d.CentroidThreshold) }},
			{"set_n_stds", func() (string, error) { return c.client.SetNStds(as.UID, d.NStds) }},
			{"set_centroid_res", func() (string, error) { return c.client.SetCentroidRes(as.UID, d.CentroidRes) }},
			{"set_term", func() (string, error) { return c.client.SetTerm(as.UID, d.Termination) }},
		}
		for _, s := range steps {
			if _, err := s.run(); err != nil {
				return nil, fmt.Errorf("uid %s %s: %w", as.UID, s.name, err)
			}
		}
		c.log.Info().Stringer("uid", as.UID).Int("alias", as.Alias).Msg("defaults applied")
	}
	return assignments, nil
}

// CalibrateAll calibrates each sensor in turn and validates the results.
// The first sensor failing validation fails the run.
func (c *Configurator) CalibrateAll(uids []ipx.DeviceUID) ([]SensorCalibration, error) {
	results := make([]SensorCalibration, 0, len(uids))
	for _, uid := range uids {
		batch, err := c.client.Calibrate(uid)
		if err != nil {
			return nil, fmt.Errorf("uid %s calibrate: %w", uid, err)
		}
		records := ipx.ParseCalibrationRecords(batch)
		if failed := ValidateCalibration(records); len(failed) > 0 {
			return nil, fmt.Errorf("%w: uid %s sensors %v", ErrCalibrationInvalid, uid, failed)
		}
		results = append(results, SensorCalibration{UID: uid, Records: records})
		c.log.Info().Stringer("uid", uid).Int("records", len(records)).Msg("calibration validated")
	}
	return results, nil
}

// ValidateCalibration returns the sensor numbers whose calibration reported
// a zero mean or zero standard deviation on any axis. An empty record set is
// itself a failure, reported as sensor number -1.
func ValidateCalibration(records []ipx.CalibrationRecord) []int {
	if len(records) == 0 {
		return []int{-1}
	}
	seen := make(map[int]bool)
	var failed []int
	for _, r := range records {
		if r.Mean != 0 && r.StdDev != 0 {
			continue
		}
		if !seen[r.SensorNum] {
			seen[r.SensorNum] = true
			failed = append(failed, r.SensorNum)
		}
	}
	return failed
}

// SwitchAllToTargetBaud moves every sensor to the final bus rate.
func (c *Configurator) SwitchAllToTargetBaud(uids []ipx.DeviceUID) error {
	for _, uid := range uids {
		if _, err := c.client.SetBaud(uid, c.cfg.TargetBaud); err != nil {
			return fmt.Errorf("uid %s set_baud %d: %w", uid, c.cfg.TargetBaud, err)
		}
	}
	return nil
}
