package ipx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geosense/ipxctl/internal/protocol"
	"github.com/geosense/ipxctl/internal/transport"
)

// CollectOptions configures one collection pass.
type CollectOptions struct {
	// Timeout bounds inter-line silence, not total duration: it restarts
	// after every received line, so a calibration stream spanning many
	// seconds stays alive as long as no single gap exceeds it.
	Timeout time.Duration
	// StopOn, when non-empty, ends collection once a line contains it.
	StopOn string
	// Observer, when non-nil, sees each decoded line as it arrives.
	Observer LineObserver
}

// Collect reads response lines until the terminal marker or silence.
//
// Silence with zero lines collected is a failure (ErrNoResponse). Silence
// after at least one line is the end of the response: variable-length
// streams have no explicit terminator, so the gap is the terminator.
func Collect(tr transport.Transport, opts CollectOptions) (protocol.ResponseBatch, error) {
	var lines []string
	for {
		raw, err := tr.ReadLine(opts.Timeout)
		if errors.Is(err, transport.ErrReadTimeout) {
			if len(lines) == 0 {
				return protocol.ResponseBatch{}, fmt.Errorf("%w after %s", protocol.ErrNoResponse, opts.Timeout)
			}
			return protocol.NewBatch(lines...), nil
		}
		if err != nil {
			return protocol.ResponseBatch{}, err
		}

		line, err := protocol.DecodeLine(raw)
		if err != nil {
			return protocol.ResponseBatch{}, err
		}
		notifyObserver(opts.Observer, line)
		lines = append(lines, line)

		if opts.StopOn != "" && strings.Contains(line, opts.StopOn) {
			return protocol.NewBatch(lines...), nil
		}
	}
}
