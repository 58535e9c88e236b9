package ipx

import (
	"regexp"
	"strconv"

	"github.com/geosense/ipxctl/internal/protocol"
)

// calibrationLine matches one per-sensor result row of a calibration stream,
// e.g. "Sensor number 2 mean = -14, standard dev = 3 axis 1".
var calibrationLine = regexp.MustCompile(`Sensor number (\d+) mean = (-?\d+), standard dev = (\d+) axis (\d+)`)

// CalibrationRecord is one sensor/axis calibration result.
type CalibrationRecord struct {
	SensorNum int
	Mean      int
	StdDev    int
	Axis      int
}

// ParseCalibrationRecords extracts the typed result rows from a calibration
// stream. Progress chatter that does not match the result pattern is
// skipped; a stream with no result rows yields an empty slice, which callers
// treat as a failed calibration during validation.
func ParseCalibrationRecords(batch protocol.ResponseBatch) []CalibrationRecord {
	var records []CalibrationRecord
	for _, line := range batch.Lines() {
		for _, m := range calibrationLine.FindAllStringSubmatch(line, -1) {
			records = append(records, CalibrationRecord{
				SensorNum: mustAtoi(m[1]),
				Mean:      mustAtoi(m[2]),
				StdDev:    mustAtoi(m[3]),
				Axis:      mustAtoi(m[4]),
			})
		}
	}
	return records
}

// mustAtoi converts regexp-validated digits; the pattern guarantees parse
// success.
func mustAtoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
