package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/geosense/ipxctl/internal/datalogger"
	"github.com/geosense/ipxctl/internal/ipx"
	"github.com/geosense/ipxctl/internal/workflow"
)

type appConfig struct {
	Port           string
	Baud           int
	DefaultTimeout time.Duration
	Verify         bool
	Workflow       workflow.Config
	Datalogger     datalogger.Config
}

func defaultAppConfig() appConfig {
	return appConfig{
		Baud:           115200,
		DefaultTimeout: 5 * time.Second,
		Verify:         true,
		Workflow:       workflow.DefaultConfig(),
		Datalogger:     datalogger.DefaultConfig(),
	}
}

type fileConfig struct {
	Port           string             `toml:"port"`
	Baud           int                `toml:"baud"`
	DefaultTimeout string             `toml:"default_timeout"`
	Verify         bool               `toml:"verify"`
	Workflow       fileWorkflowConfig `toml:"workflow"`
	Datalogger     fileModbusConfig   `toml:"datalogger"`
}

type fileWorkflowConfig struct {
	ExpectedSensors int                `toml:"expected_sensors"`
	CheckSensorUID  uint64             `toml:"check_sensor_uid"`
	MaxRetries      int                `toml:"max_retries"`
	RetryDelay      string             `toml:"retry_delay"`
	WorkBaud        int                `toml:"work_baud"`
	TargetBaud      int                `toml:"target_baud"`
	SetAliases      bool               `toml:"set_aliases"`
	ReadingInterval string             `toml:"reading_interval"`
	Defaults        fileDefaultsConfig `toml:"defaults"`
}

type fileDefaultsConfig struct {
	Gain              int `toml:"gain"`
	CentroidThreshold int `toml:"centroid_threshold"`
	CentroidRes       int `toml:"centroid_res"`
	NStds             int `toml:"n_stds"`
	Termination       int `toml:"termination"`
	Axis              int `toml:"axis"`
}

type fileModbusConfig struct {
	Port         string `toml:"port"`
	Baud         int    `toml:"baud"`
	Timeout      string `toml:"timeout"`
	MeasureDelay string `toml:"measure_delay"`
}

func loadAppConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("default_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DefaultTimeout))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse default_timeout: %w", err)
		}
		cfg.DefaultTimeout = d
	}
	if meta.IsDefined("verify") {
		cfg.Verify = raw.Verify
	}

	if meta.IsDefined("workflow", "expected_sensors") {
		cfg.Workflow.ExpectedSensors = raw.Workflow.ExpectedSensors
	}
	if meta.IsDefined("workflow", "check_sensor_uid") {
		cfg.Workflow.CheckSensorUID = ipx.DeviceUID(raw.Workflow.CheckSensorUID)
	}
	if meta.IsDefined("workflow", "max_retries") {
		cfg.Workflow.MaxRetries = raw.Workflow.MaxRetries
	}
	if meta.IsDefined("workflow", "retry_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Workflow.RetryDelay))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse workflow.retry_delay: %w", err)
		}
		cfg.Workflow.RetryDelay = d
	}
	if meta.IsDefined("workflow", "work_baud") {
		cfg.Workflow.WorkBaud = raw.Workflow.WorkBaud
	}
	if meta.IsDefined("workflow", "target_baud") {
		cfg.Workflow.TargetBaud = raw.Workflow.TargetBaud
	}
	if meta.IsDefined("workflow", "set_aliases") {
		cfg.Workflow.SetAliases = raw.Workflow.SetAliases
	}
	if meta.IsDefined("workflow", "reading_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Workflow.ReadingInterval))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse workflow.reading_interval: %w", err)
		}
		cfg.Workflow.ReadingInterval = d
	}
	if meta.IsDefined("workflow", "defaults", "gain") {
		cfg.Workflow.Defaults.Gain = raw.Workflow.Defaults.Gain
	}
	if meta.IsDefined("workflow", "defaults", "centroid_threshold") {
		cfg.Workflow.Defaults.CentroidThreshold = raw.Workflow.Defaults.CentroidThreshold
	}
	if meta.IsDefined("workflow", "defaults", "centroid_res") {
		cfg.Workflow.Defaults.CentroidRes = raw.Workflow.Defaults.CentroidRes
	}
	if meta.IsDefined("workflow", "defaults", "n_stds") {
		cfg.Workflow.Defaults.NStds = raw.Workflow.Defaults.NStds
	}
	if meta.IsDefined("workflow", "defaults", "termination") {
		cfg.Workflow.Defaults.Termination = raw.Workflow.Defaults.Termination
	}
	if meta.IsDefined("workflow", "defaults", "axis") {
		cfg.Workflow.Defaults.Axis = raw.Workflow.Defaults.Axis
	}

	if meta.IsDefined("datalogger", "port") {
		cfg.Datalogger.Port = strings.TrimSpace(raw.Datalogger.Port)
	}
	if meta.IsDefined("datalogger", "baud") {
		cfg.Datalogger.BaudRate = raw.Datalogger.Baud
	}
	if meta.IsDefined("datalogger", "timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Datalogger.Timeout))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse datalogger.timeout: %w", err)
		}
		cfg.Datalogger.Timeout = d
	}
	if meta.IsDefined("datalogger", "measure_delay") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Datalogger.MeasureDelay))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse datalogger.measure_delay: %w", err)
		}
		cfg.Datalogger.MeasureDelay = d
	}

	return cfg, nil
}
