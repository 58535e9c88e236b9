package protocol

import (
	"errors"
	"fmt"
)

// ErrComm is the root of the IPX communication error family. Every failure
// the protocol engine can surface wraps it, so callers may match the whole
// family with errors.Is(err, ErrComm) or a specific kind below.
var ErrComm = errors.New("protocol: communication error")

var (
	// ErrNoResponse: zero lines arrived within the configured timeout.
	ErrNoResponse = fmt.Errorf("%w: no response within timeout", ErrComm)
	// ErrCorruptedData: a raw line failed UTF-8 validation.
	ErrCorruptedData = fmt.Errorf("%w: corrupted data", ErrComm)
	// ErrMalformedStatus: a status-shaped batch produced zero usable entries.
	ErrMalformedStatus = fmt.Errorf("%w: malformed status response", ErrComm)
	// ErrFormatConversion: requested output format does not fit the data.
	ErrFormatConversion = fmt.Errorf("%w: format conversion failed", ErrComm)
	// ErrVerification: an acknowledgement did not match the expected prefix.
	ErrVerification = fmt.Errorf("%w: response verification failed", ErrComm)
	// ErrUnknownCommand: command name absent from the registry. This is a
	// programming error on the caller's side, not a device fault.
	ErrUnknownCommand = fmt.Errorf("%w: unknown command", ErrComm)
	// ErrBroadcastUID: uid 0 is reserved for broadcast and is rejected on
	// single-target query operations.
	ErrBroadcastUID = fmt.Errorf("%w: uid 0 is reserved for broadcast", ErrComm)
)
