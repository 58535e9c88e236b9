package ipx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/geosense/ipxctl/internal/protocol"
	"github.com/geosense/ipxctl/internal/transport"
)

// uidLinePrefix marks the lines of a list_uids reply that carry a device id.
const uidLinePrefix = "uid:"

// Config tunes one Client.
type Config struct {
	// DefaultTimeout applies to commands whose spec carries no timeout.
	DefaultTimeout time.Duration
	// Verify enables acknowledgement-prefix checking on set_* commands.
	Verify bool
	// Registry is the command table; DefaultRegistry when zero.
	Registry Registry
	// Observer, when non-nil, streams every received line in real time.
	Observer LineObserver
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 5 * time.Second,
		Registry:       DefaultRegistry(),
	}
}

// Client dispatches commands to IPX devices over one transport. The caller
// owns the transport lifecycle (open before, close after) and serializes
// invocations: one invocation fully owns the bus for its duration.
type Client struct {
	tr  transport.Transport
	cfg Config
	log zerolog.Logger
}

func NewClient(tr transport.Transport, cfg Config) *Client {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.Registry.Len() == 0 {
		cfg.Registry = DefaultRegistry()
	}
	return &Client{
		tr:  tr,
		cfg: cfg,
		log: log.With().Str("component", "ipx.client").Logger(),
	}
}

// Invoke runs one command invocation end to end: registry lookup, template
// formatting, transmit, collect. The outgoing command is logged before it is
// written, for audit.
func (c *Client) Invoke(name string, p map[string]string) (protocol.ResponseBatch, error) {
	spec, err := c.cfg.Registry.Lookup(name)
	if err != nil {
		return protocol.ResponseBatch{}, err
	}
	cmd, err := spec.Format(p)
	if err != nil {
		return protocol.ResponseBatch{}, err
	}

	// Stale bytes from a previous exchange must not be read back as this
	// command's response.
	if err := c.tr.Drain(); err != nil {
		return protocol.ResponseBatch{}, fmt.Errorf("drain before %s: %w", name, err)
	}

	c.log.Debug().Str("command", cmd).Msg("sending command")
	if _, err := c.tr.Write([]byte(cmd + protocol.LineDelimiter)); err != nil {
		return protocol.ResponseBatch{}, fmt.Errorf("write %s: %w", name, err)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = c.cfg.DefaultTimeout
	}
	batch, err := Collect(c.tr, CollectOptions{
		Timeout:  timeout,
		StopOn:   spec.StopOn,
		Observer: c.cfg.Observer,
	})
	if err != nil {
		return protocol.ResponseBatch{}, fmt.Errorf("%s: %w", name, err)
	}
	c.log.Debug().Str("command", name).Int("lines", batch.Len()).Msg("response collected")
	return batch, nil
}

// ListUIDs broadcasts list_uids and renders the reply. Text and bytes
// formats return the raw reply; list and array formats extract the device
// ids from the "uid:" lines.
func (c *Client) ListUIDs(format protocol.OutputFormat) (protocol.Output, error) {
	batch, err := c.Invoke(CmdListUIDs, nil)
	if err != nil {
		return protocol.Output{}, err
	}
	switch format {
	case protocol.FormatText, protocol.FormatBytes:
		return protocol.ConvertBatch(batch, format)
	case protocol.FormatList, protocol.FormatArray:
		return protocol.ConvertBatch(uidBatch(batch), format)
	default:
		return protocol.Output{}, fmt.Errorf("%w: unsupported format %s", protocol.ErrFormatConversion, format)
	}
}

// DeviceUIDs returns the ids of every device answering the broadcast.
func (c *Client) DeviceUIDs() ([]DeviceUID, error) {
	out, err := c.ListUIDs(protocol.FormatList)
	if err != nil {
		return nil, err
	}
	uids := make([]DeviceUID, len(out.List))
	for i, v := range out.List {
		uids[i] = DeviceUID(v)
	}
	return uids, nil
}

// uidBatch reduces a list_uids reply to the id values it reports.
func uidBatch(batch protocol.ResponseBatch) protocol.ResponseBatch {
	var ids []string
	for _, line := range batch.Lines() {
		if _, after, ok := strings.Cut(line, uidLinePrefix); ok {
			ids = append(ids, strings.TrimSpace(after))
		}
	}
	return protocol.NewBatch(ids...)
}

// GetStatus queries one device and parses its status report. Broadcast is
// rejected: a single-answer query to every device at once has no defined
// merge semantics.
func (c *Client) GetStatus(uid DeviceUID) (*protocol.StatusMap, error) {
	if uid == BroadcastUID {
		return nil, fmt.Errorf("%w: get_status needs a single target", protocol.ErrBroadcastUID)
	}
	batch, err := c.Invoke(CmdGetStatus, params("uid", uid.String()))
	if err != nil {
		return nil, err
	}
	return protocol.ParseStatus(batch)
}

// GetRaw reads one device's raw sample block. The device answers with
// comma-separated integers; numeric formats convert the individual samples,
// text and bytes return the reply as received.
func (c *Client) GetRaw(uid DeviceUID, format protocol.OutputFormat) (protocol.Output, error) {
	if uid == BroadcastUID {
		return protocol.Output{}, fmt.Errorf("%w: get_raw needs a single target", protocol.ErrBroadcastUID)
	}
	batch, err := c.Invoke(CmdGetRaw, params("uid", uid.String()))
	if err != nil {
		return protocol.Output{}, err
	}
	switch format {
	case protocol.FormatText, protocol.FormatBytes:
		return protocol.ConvertBatch(batch, format)
	case protocol.FormatList, protocol.FormatArray:
		return protocol.ConvertBatch(sampleBatch(batch), format)
	default:
		return protocol.Output{}, fmt.Errorf("%w: unsupported format %s", protocol.ErrFormatConversion, format)
	}
}

// RawSamples returns one device's raw samples as integers.
func (c *Client) RawSamples(uid DeviceUID) ([]int64, error) {
	out, err := c.GetRaw(uid, protocol.FormatList)
	if err != nil {
		return nil, err
	}
	return out.List, nil
}

// sampleBatch splits comma-separated sample lines into one element per line.
func sampleBatch(batch protocol.ResponseBatch) protocol.ResponseBatch {
	var elems []string
	for _, line := range batch.Lines() {
		for _, field := range strings.Split(line, ",") {
			if v := strings.TrimSpace(field); v != "" {
				elems = append(elems, v)
			}
		}
	}
	return protocol.NewBatch(elems...)
}

// Calibrate starts a device calibration and collects the progress stream
// until the completion marker or the calibration timeout.
func (c *Client) Calibrate(uid DeviceUID) (protocol.ResponseBatch, error) {
	return c.Invoke(CmdCalibrate, params("uid", uid.String()))
}

// SetBaud reconfigures a device's bus baud rate.
func (c *Client) SetBaud(uid DeviceUID, baud int) (string, error) {
	return c.setCommand(CmdSetBaud, params("uid", uid.String(), "baud", strconv.Itoa(baud)))
}

// SetUID reassigns a device id.
func (c *Client) SetUID(current, next DeviceUID) (string, error) {
	return c.setCommand(CmdSetUID, params("current_uid", current.String(), "new_uid", next.String()))
}

// SetAxis selects the measurement axis.
func (c *Client) SetAxis(uid DeviceUID, axis int) (string, error) {
	return c.setCommand(CmdSetAxis, params("uid", uid.String(), "axis", strconv.Itoa(axis)))
}

// SetGain sets the sensor gain.
func (c *Client) SetGain(uid DeviceUID, gain int) (string, error) {
	return c.setCommand(CmdSetGain, params("uid", uid.String(), "gain", strconv.Itoa(gain)))
}

// SetCentroidThreshold sets the centroiding threshold.
func (c *Client) SetCentroidThreshold(uid DeviceUID, threshold int) (string, error) {
	return c.setCommand(CmdSetCentroidThreshold, params("uid", uid.String(), "threshold", strconv.Itoa(threshold)))
}

// SetCentroidRes sets the centroiding resolution.
func (c *Client) SetCentroidRes(uid DeviceUID, resolution int) (string, error) {
	return c.setCommand(CmdSetCentroidRes, params("uid", uid.String(), "resolution", strconv.Itoa(resolution)))
}

// SetNStds sets the number of standard deviations used for peak detection.
func (c *Client) SetNStds(uid DeviceUID, n int) (string, error) {
	return c.setCommand(CmdSetNStds, params("uid", uid.String(), "n_stds", strconv.Itoa(n)))
}

// SetTerm enables or disables the 120 ohm bus termination (1 or 0).
func (c *Client) SetTerm(uid DeviceUID, termination int) (string, error) {
	return c.setCommand(CmdSetTerm, params("uid", uid.String(), "termination", strconv.Itoa(termination)))
}

// SetAlias assigns a short alias used as the device's Modbus address.
func (c *Client) SetAlias(uid DeviceUID, alias string) (string, error) {
	return c.setCommand(CmdSetAlias, params("uid", uid.String(), "alias", alias))
}

// setCommand runs a configuration command and returns the text
// acknowledgement. set_* replies are always textual; in verify mode the ack
// must start with the command's expected prefix.
func (c *Client) setCommand(name string, p map[string]string) (string, error) {
	spec, err := c.cfg.Registry.Lookup(name)
	if err != nil {
		return "", err
	}
	batch, err := c.Invoke(name, p)
	if err != nil {
		return "", err
	}
	out, err := protocol.ConvertBatch(batch, protocol.FormatText)
	if err != nil {
		return "", err
	}
	ack := strings.TrimSpace(out.Text)
	if c.cfg.Verify && spec.ExpectPrefix != "" {
		if !strings.HasPrefix(strings.ToLower(ack), strings.ToLower(spec.ExpectPrefix)) {
			return "", fmt.Errorf("%w: %s expected ack starting %q, got %q",
				protocol.ErrVerification, name, spec.ExpectPrefix, ack)
		}
		c.log.Debug().Str("command", name).Msg("acknowledgement verified")
	}
	return ack, nil
}
