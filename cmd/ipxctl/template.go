package main

import (
	"fmt"
	"os"
)

const configTemplate = `# ipxctl configuration

# Serial port the sensor bus is attached to.
port = "/dev/ttyUSB0"
baud = 115200

# Fallback inter-line silence timeout for commands without their own.
default_timeout = "5s"

# Check set_* acknowledgements against the expected reply prefix.
verify = true

[workflow]
expected_sensors = 8
check_sensor_uid = 1111111111
max_retries = 3
retry_delay = "2s"
work_baud = 115200
target_baud = 9600
set_aliases = true
reading_interval = "500ms"

[workflow.defaults]
gain = 3
centroid_threshold = 800
centroid_res = 10
n_stds = 10
termination = 0
axis = 1

[datalogger]
port = "/dev/ttyUSB1"
baud = 9600
timeout = "1s"
measure_delay = "1s"
`

func writeConfigTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}
