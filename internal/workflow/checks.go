package workflow

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/geosense/ipxctl/internal/ipx"
)

// madThreshold is the modified z-score above which a raw value counts as an
// abnormally high magnitude.
const madThreshold = 3.5

// stuckChangesAllowed is how many unchanged elements between consecutive
// readings a healthy sensor may show before it is declared stuck.
const stuckChangesAllowed = 3

// RawDataCheck takes numReadings raw snapshots from one sensor and runs the
// magnitude and stuck-value checks. It returns the first snapshot for
// reporting alongside the verdict.
func (c *Configurator) RawDataCheck(uid ipx.DeviceUID, numReadings int) (bool, []int64, error) {
	if numReadings < 2 {
		numReadings = 2
	}
	readings := make([][]int64, 0, numReadings)
	for i := 0; i < numReadings; i++ {
		samples, err := c.client.RawSamples(uid)
		if err != nil {
			return false, nil, fmt.Errorf("uid %s get_raw: %w", uid, err)
		}
		readings = append(readings, samples)
		if i < numReadings-1 && c.cfg.ReadingInterval > 0 {
			time.Sleep(c.cfg.ReadingInterval)
		}
	}
	first := readings[0]

	ok, err := MagnitudeCheck(first, madThreshold, true)
	if err != nil {
		return false, first, fmt.Errorf("uid %s magnitude check: %w", uid, err)
	}
	if !ok {
		c.log.Warn().Stringer("uid", uid).Msg("abnormally high raw values detected")
		return false, first, nil
	}

	if stuck := StuckCheck(readings, stuckChangesAllowed); stuck {
		c.log.Warn().Stringer("uid", uid).Msg("raw values not changing between readings")
		return false, first, nil
	}
	return true, first, nil
}

// MagnitudeCheck flags abnormally high magnitude raw values using the median
// absolute deviation (MAD) modified z-score. Wide-range data is log-scaled
// first. Zero values are skipped so dark pixels do not trip the test. A zero
// MAD means every value is identical and is reported as ErrNoVariation.
func MagnitudeCheck(values []int64, threshold float64, logScale bool) (bool, error) {
	if len(values) == 0 {
		return false, ErrNoVariation
	}
	y := make([]float64, len(values))
	for i, v := range values {
		f := math.Abs(float64(v))
		if logScale {
			f = math.Log1p(f)
		}
		y[i] = f
	}
	sort.Float64s(y)

	med := median(y)
	dev := make([]float64, len(y))
	for i, v := range y {
		dev[i] = math.Abs(v - med)
	}
	sort.Float64s(dev)
	mad := median(dev)
	if mad == 0 {
		return false, ErrNoVariation
	}

	for _, v := range y {
		if v == 0 {
			continue
		}
		z := 0.6745 * (v - med) / mad
		if math.Abs(z) > threshold {
			return false, nil
		}
	}
	return true, nil
}

// StuckCheck compares consecutive readings element by element and reports
// true when any pair repeats more than changesAllowed elements.
func StuckCheck(readings [][]int64, changesAllowed int) bool {
	for i := 0; i+1 < len(readings); i++ {
		a, b := readings[i], readings[i+1]
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		unchanged := 0
		for j := 0; j < n; j++ {
			if a[j] == b[j] {
				unchanged++
			}
		}
		if unchanged > changesAllowed {
			return true
		}
	}
	return false
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
