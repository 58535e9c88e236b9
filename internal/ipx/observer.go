package ipx

import "github.com/rs/zerolog/log"

// LineObserver receives each decoded response line the moment it arrives,
// before it is appended to the batch. Used for real-time progress reporting
// during long streams such as calibration.
type LineObserver interface {
	ObserveLine(line string)
}

// LineObserverFunc adapts a plain function to LineObserver.
type LineObserverFunc func(line string)

func (f LineObserverFunc) ObserveLine(line string) {
	f(line)
}

// notifyObserver forwards one line. A misbehaving observer must not abort
// collection, so panics are contained here.
func notifyObserver(obs LineObserver, line string) {
	if obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("line observer panicked")
		}
	}()
	obs.ObserveLine(line)
}
