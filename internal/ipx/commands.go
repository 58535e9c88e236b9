package ipx

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/geosense/ipxctl/internal/protocol"
)

// DeviceUID identifies one sensor on the bus.
type DeviceUID uint64

// BroadcastUID addresses every device at once. It is never a valid target
// for a single-answer query.
const BroadcastUID DeviceUID = 0

func (u DeviceUID) String() string {
	return strconv.FormatUint(uint64(u), 10)
}

// Command names exposed by IPX firmware.
const (
	CmdListUIDs             = "list_uids"
	CmdGetStatus            = "get_status"
	CmdGetRaw               = "get_raw"
	CmdCalibrate            = "calibrate"
	CmdSetBaud              = "set_baud"
	CmdSetUID               = "set_uid"
	CmdSetAxis              = "set_axis"
	CmdSetGain              = "set_gain"
	CmdSetCentroidThreshold = "set_centroid_threshold"
	CmdSetCentroidRes       = "set_centroid_res"
	CmdSetNStds             = "set_n_stds"
	CmdSetTerm              = "set_term"
	CmdSetAlias             = "set_alias"
)

// CalibrationComplete is the terminal marker of a calibration stream.
const CalibrationComplete = "CMD_EXEC_Calibrate: Calibration on all sensors complete, saving to memory."

// CommandSpec is one immutable command template plus its timeout policy.
// Timeout bounds inter-line silence for the invocation; zero means "use the
// client default". StopOn, when set, ends collection as soon as a line
// containing it arrives. ExpectPrefix, when set, is the acknowledgement
// prefix checked in verify mode.
type CommandSpec struct {
	Name         string
	Template     string
	Timeout      time.Duration
	StopOn       string
	ExpectPrefix string
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Format substitutes the {name} placeholders in the command template. Every
// placeholder must be covered by params; leftovers indicate a registry or
// caller bug.
func (s CommandSpec) Format(params map[string]string) (string, error) {
	cmd := placeholderPattern.ReplaceAllStringFunc(s.Template, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := params[name]; ok {
			return v
		}
		return tok
	})
	if left := placeholderPattern.FindString(cmd); left != "" {
		return "", fmt.Errorf("command %s: unresolved placeholder %s", s.Name, left)
	}
	return cmd, nil
}

// Registry is the fixed command table, built once at startup and read-only
// thereafter so timeout and template policy stay centrally auditable.
type Registry struct {
	specs map[string]CommandSpec
}

func NewRegistry(specs ...CommandSpec) Registry {
	m := make(map[string]CommandSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return Registry{specs: m}
}

// Lookup resolves a command name, failing with ErrUnknownCommand for names
// absent from the table.
func (r Registry) Lookup(name string) (CommandSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return CommandSpec{}, fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, name)
	}
	return spec, nil
}

// Names returns the registered command names, sorted.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r.specs))
	for name := range r.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r Registry) Len() int {
	return len(r.specs)
}

// DefaultRegistry returns the IPX firmware command set. set_uid carries the
// firmware unlock code in its template; list_uids always broadcasts.
func DefaultRegistry() Registry {
	return NewRegistry(
		CommandSpec{
			Name:     CmdListUIDs,
			Template: "op ipx 0 list_uids",
		},
		CommandSpec{
			Name:     CmdGetStatus,
			Template: "op ipx {uid} get_status",
		},
		CommandSpec{
			Name:     CmdGetRaw,
			Template: "op ipx {uid} get_raw",
		},
		CommandSpec{
			Name:     CmdCalibrate,
			Template: "op ipx {uid} calibrate",
			Timeout:  20 * time.Second,
			StopOn:   CalibrationComplete,
		},
		CommandSpec{
			Name:         CmdSetBaud,
			Template:     "op ipx {uid} set_baud {baud}",
			Timeout:      time.Second,
			ExpectPrefix: "CMD_EXEC_Set_Baud: Baudrate set to",
		},
		CommandSpec{
			Name:         CmdSetUID,
			Template:     "op ipx {current_uid} set_uid 567892 {new_uid}",
			Timeout:      time.Second,
			ExpectPrefix: "CMD_EXEC_Set_UID: UID set to",
		},
		CommandSpec{
			Name:         CmdSetAxis,
			Template:     "op ipx {uid} set_axis {axis}",
			Timeout:      5 * time.Second,
			ExpectPrefix: "CMD_EXEC_Set_Axis: Axis set to",
		},
		CommandSpec{
			Name:         CmdSetGain,
			Template:     "op ipx {uid} set_gain {gain}",
			Timeout:      500 * time.Millisecond,
			ExpectPrefix: "CMD_EXEC_Set_Gain: Gain set to",
		},
		CommandSpec{
			Name:         CmdSetCentroidThreshold,
			Template:     "op ipx {uid} set_centroid_threshold {threshold}",
			Timeout:      500 * time.Millisecond,
			ExpectPrefix: "CMD_EXEC_Set_Centroid_Threshold: Centroiding threshold is set to",
		},
		CommandSpec{
			Name:         CmdSetCentroidRes,
			Template:     "op ipx {uid} set_centroid_res {resolution}",
			Timeout:      500 * time.Millisecond,
			ExpectPrefix: "CMD_EXEC_Set_Centroid_Res: Centroiding resolution set to",
		},
		CommandSpec{
			Name:         CmdSetNStds,
			Template:     "op ipx {uid} set_n_stds {n_stds}",
			Timeout:      500 * time.Millisecond,
			ExpectPrefix: "CMD_EXEC_Set_N_STDDevs: Number of standard deviations set to",
		},
		CommandSpec{
			Name:         CmdSetTerm,
			Template:     "op ipx {uid} set_term {termination}",
			Timeout:      500 * time.Millisecond,
			ExpectPrefix: "CMD_EXEC_Enable_120R: 120ohm termination",
		},
		CommandSpec{
			Name:         CmdSetAlias,
			Template:     "op ipx {uid} set_alias {alias}",
			Timeout:      500 * time.Millisecond,
			ExpectPrefix: "CMD_EXEC_Set_Alias: Alias set to",
		},
	)
}

// params is shorthand for building template substitutions.
func params(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}
