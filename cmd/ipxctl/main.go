package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/geosense/ipxctl/internal/datalogger"
	"github.com/geosense/ipxctl/internal/ipx"
	"github.com/geosense/ipxctl/internal/logging"
	"github.com/geosense/ipxctl/internal/protocol"
	"github.com/geosense/ipxctl/internal/transport"
	"github.com/geosense/ipxctl/internal/workflow"
)

type listCmd struct {
	Format string `arg:"-f,--format" default:"text" help:"text, bytes, list, or array"`
}

type statusCmd struct {
	UID uint64 `arg:"positional,required" help:"device uid"`
}

type rawCmd struct {
	UID    uint64 `arg:"positional,required" help:"device uid"`
	Format string `arg:"-f,--format" default:"list" help:"text, bytes, list, or array"`
}

type calibrateCmd struct {
	UID   uint64 `arg:"positional,required" help:"device uid"`
	Quiet bool   `arg:"-q,--quiet" help:"suppress live progress lines"`
}

type setBaudCmd struct {
	UID  uint64 `arg:"positional,required"`
	Baud int    `arg:"positional,required"`
}

type setUIDCmd struct {
	UID    uint64 `arg:"positional,required" help:"current uid"`
	NewUID uint64 `arg:"positional,required" help:"replacement uid"`
}

type setAxisCmd struct {
	UID  uint64 `arg:"positional,required"`
	Axis int    `arg:"positional,required"`
}

type setGainCmd struct {
	UID  uint64 `arg:"positional,required"`
	Gain int    `arg:"positional,required"`
}

type setCentroidThresholdCmd struct {
	UID       uint64 `arg:"positional,required"`
	Threshold int    `arg:"positional,required"`
}

type setCentroidResCmd struct {
	UID        uint64 `arg:"positional,required"`
	Resolution int    `arg:"positional,required"`
}

type setNStdsCmd struct {
	UID uint64 `arg:"positional,required"`
	N   int    `arg:"positional,required"`
}

type setTermCmd struct {
	UID         uint64 `arg:"positional,required"`
	Termination int    `arg:"positional,required" help:"1 enables the 120 ohm termination, 0 disables"`
}

type setAliasCmd struct {
	UID   uint64 `arg:"positional,required"`
	Alias string `arg:"positional,required"`
}

type configureCmd struct {
	Sensors      int  `arg:"-n,--sensors" help:"expected production sensor count (overrides config)"`
	SkipRawCheck bool `arg:"--skip-raw-check" help:"skip the per-sensor raw data sanity check"`
}

type verifyCmd struct {
	Sensors []string `arg:"positional,required" help:"alias=uid pairs, e.g. 1=2415917467"`
}

type templateCmd struct {
	Path      string `arg:"positional" default:"ipxctl.toml" help:"where to write the template"`
	Overwrite bool   `arg:"--overwrite" help:"replace an existing file"`
}

type cliArgs struct {
	Config string `arg:"-c,--config" help:"TOML config file"`
	Port   string `arg:"-p,--port" help:"serial port (overrides config)"`
	Baud   int    `arg:"-b,--baud" help:"baud rate (overrides config)"`

	List             *listCmd                 `arg:"subcommand:list" help:"list device uids on the bus"`
	Status           *statusCmd               `arg:"subcommand:status" help:"read one device's status block"`
	Raw              *rawCmd                  `arg:"subcommand:raw" help:"read one device's raw samples"`
	Calibrate        *calibrateCmd            `arg:"subcommand:calibrate" help:"calibrate one device"`
	SetBaud          *setBaudCmd              `arg:"subcommand:set-baud"`
	SetUID           *setUIDCmd               `arg:"subcommand:set-uid"`
	SetAxis          *setAxisCmd              `arg:"subcommand:set-axis"`
	SetGain          *setGainCmd              `arg:"subcommand:set-gain"`
	SetCentroidThr   *setCentroidThresholdCmd `arg:"subcommand:set-centroid-threshold"`
	SetCentroidRes   *setCentroidResCmd       `arg:"subcommand:set-centroid-res"`
	SetNStds         *setNStdsCmd             `arg:"subcommand:set-n-stds"`
	SetTerm          *setTermCmd              `arg:"subcommand:set-term"`
	SetAlias         *setAliasCmd             `arg:"subcommand:set-alias"`
	Configure        *configureCmd            `arg:"subcommand:configure" help:"run the full bus configuration sequence"`
	VerifyDatalogger *verifyCmd               `arg:"subcommand:verify-datalogger" help:"verify sensors over Modbus RTU"`
	ConfigTemplate   *templateCmd             `arg:"subcommand:config-template" help:"write a starter config file"`
}

func (cliArgs) Description() string {
	return "ipxctl drives IPX sensors over a serial bus: discovery, status, raw data, calibration, parameter setup, and datalogger verification."
}

func main() {
	logging.ConfigureRuntime()

	var a cliArgs
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("a subcommand is required")
	}

	if err := run(a); err != nil {
		fmt.Fprintf(os.Stderr, "ipxctl: %v\n", err)
		os.Exit(1)
	}
}

func run(a cliArgs) error {
	if a.ConfigTemplate != nil {
		if err := writeConfigTemplate(a.ConfigTemplate.Path, a.ConfigTemplate.Overwrite); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", a.ConfigTemplate.Path)
		return nil
	}

	cfg := defaultAppConfig()
	if a.Config != "" {
		loaded, err := loadAppConfig(a.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.Port != "" {
		cfg.Port = a.Port
	}
	if a.Baud != 0 {
		cfg.Baud = a.Baud
	}

	if a.VerifyDatalogger != nil {
		return runVerifyDatalogger(cfg, a.VerifyDatalogger)
	}

	if cfg.Port == "" {
		return fmt.Errorf("no serial port configured (use --port or a config file)")
	}
	port, err := transport.OpenPort(transport.PortConfig{
		Name:     cfg.Port,
		BaudRate: cfg.Baud,
		Limits:   transport.DefaultLimits(),
	})
	if err != nil {
		return err
	}
	defer port.Close()

	client := ipx.NewClient(port, ipx.Config{
		DefaultTimeout: cfg.DefaultTimeout,
		Verify:         cfg.Verify,
	})

	switch {
	case a.List != nil:
		return runList(client, a.List)
	case a.Status != nil:
		return runStatus(client, a.Status)
	case a.Raw != nil:
		return runRaw(client, a.Raw)
	case a.Calibrate != nil:
		return runCalibrate(port, cfg, a.Calibrate)
	case a.SetBaud != nil:
		return printAck(client.SetBaud(ipx.DeviceUID(a.SetBaud.UID), a.SetBaud.Baud))
	case a.SetUID != nil:
		return printAck(client.SetUID(ipx.DeviceUID(a.SetUID.UID), ipx.DeviceUID(a.SetUID.NewUID)))
	case a.SetAxis != nil:
		return printAck(client.SetAxis(ipx.DeviceUID(a.SetAxis.UID), a.SetAxis.Axis))
	case a.SetGain != nil:
		return printAck(client.SetGain(ipx.DeviceUID(a.SetGain.UID), a.SetGain.Gain))
	case a.SetCentroidThr != nil:
		return printAck(client.SetCentroidThreshold(ipx.DeviceUID(a.SetCentroidThr.UID), a.SetCentroidThr.Threshold))
	case a.SetCentroidRes != nil:
		return printAck(client.SetCentroidRes(ipx.DeviceUID(a.SetCentroidRes.UID), a.SetCentroidRes.Resolution))
	case a.SetNStds != nil:
		return printAck(client.SetNStds(ipx.DeviceUID(a.SetNStds.UID), a.SetNStds.N))
	case a.SetTerm != nil:
		return printAck(client.SetTerm(ipx.DeviceUID(a.SetTerm.UID), a.SetTerm.Termination))
	case a.SetAlias != nil:
		return printAck(client.SetAlias(ipx.DeviceUID(a.SetAlias.UID), a.SetAlias.Alias))
	case a.Configure != nil:
		return runConfigure(client, cfg, a.Configure)
	default:
		return fmt.Errorf("unknown subcommand")
	}
}

func runList(client *ipx.Client, cmd *listCmd) error {
	format, err := protocol.ParseFormat(cmd.Format)
	if err != nil {
		return err
	}
	out, err := client.ListUIDs(format)
	if err != nil {
		return err
	}
	printOutput(out)
	return nil
}

func runStatus(client *ipx.Client, cmd *statusCmd) error {
	status, err := client.GetStatus(ipx.DeviceUID(cmd.UID))
	if err != nil {
		return err
	}
	for _, key := range status.Keys() {
		value, _ := status.Get(key)
		fmt.Printf("%s: %s\n", key, value)
	}
	return nil
}

func runRaw(client *ipx.Client, cmd *rawCmd) error {
	format, err := protocol.ParseFormat(cmd.Format)
	if err != nil {
		return err
	}
	out, err := client.GetRaw(ipx.DeviceUID(cmd.UID), format)
	if err != nil {
		return err
	}
	printOutput(out)
	return nil
}

func runCalibrate(port *transport.SerialPort, cfg appConfig, cmd *calibrateCmd) error {
	clientCfg := ipx.Config{
		DefaultTimeout: cfg.DefaultTimeout,
		Verify:         cfg.Verify,
	}
	if !cmd.Quiet {
		clientCfg.Observer = ipx.LineObserverFunc(func(line string) {
			fmt.Println(line)
		})
	}
	client := ipx.NewClient(port, clientCfg)

	batch, err := client.Calibrate(ipx.DeviceUID(cmd.UID))
	if err != nil {
		return err
	}
	records := ipx.ParseCalibrationRecords(batch)
	if failed := workflow.ValidateCalibration(records); len(failed) > 0 {
		return fmt.Errorf("calibration failed for sensors %v", failed)
	}
	fmt.Printf("calibration ok: %d sensor records\n", len(records))
	return nil
}

func runConfigure(client *ipx.Client, cfg appConfig, cmd *configureCmd) error {
	wcfg := cfg.Workflow
	if cmd.Sensors > 0 {
		wcfg.ExpectedSensors = cmd.Sensors
	}
	if wcfg.ExpectedSensors <= 0 {
		return fmt.Errorf("expected sensor count not set (use --sensors or workflow.expected_sensors)")
	}
	c := workflow.NewConfigurator(client, wcfg)

	uids, checkFound, err := c.DetectSensors()
	if err != nil {
		return err
	}
	fmt.Printf("detected %d sensors (check sensor present: %v)\n", len(uids), checkFound)

	assignments, err := c.ApplyDefaults(uids)
	if err != nil {
		return err
	}
	for _, as := range assignments {
		fmt.Printf("alias %d -> uid %s\n", as.Alias, as.UID)
	}

	if !cmd.SkipRawCheck {
		for _, uid := range uids {
			ok, _, err := c.RawDataCheck(uid, 3)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("raw data check failed for uid %s", uid)
			}
		}
		fmt.Println("raw data checks passed")
	}

	results, err := c.CalibrateAll(uids)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("uid %s calibrated: %d records\n", r.UID, len(r.Records))
	}

	if err := c.SwitchAllToTargetBaud(uids); err != nil {
		return err
	}
	fmt.Printf("all sensors switched to %d baud\n", wcfg.TargetBaud)
	return nil
}

func runVerifyDatalogger(cfg appConfig, cmd *verifyCmd) error {
	sensors, aliases, err := parseSensorPairs(cmd.Sensors)
	if err != nil {
		return err
	}
	if cfg.Datalogger.Port == "" {
		cfg.Datalogger.Port = cfg.Port
	}
	if cfg.Datalogger.Port == "" {
		return fmt.Errorf("no datalogger port configured")
	}

	v, err := datalogger.Open(cfg.Datalogger)
	if err != nil {
		return err
	}
	defer v.Close()

	results := v.VerifyAll(context.Background(), sensors, aliases)
	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("alias %d uid %s: ERROR %v\n", r.Measurement.Alias, r.Measurement.UID, r.Err)
		case r.Checks.Pass():
			fmt.Printf("alias %d uid %s: PASS status=%d distance=%.1fmm temp=%.1fC volt=%.2fV\n",
				r.Measurement.Alias, r.Measurement.UID, r.Measurement.Status,
				r.Measurement.DistanceMM, r.Measurement.TemperatureC, r.Measurement.VoltageV)
		default:
			failed++
			fmt.Printf("alias %d uid %s: FAIL %s\n",
				r.Measurement.Alias, r.Measurement.UID, strings.Join(r.Checks.Failures, "; "))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sensors failed verification", failed, len(results))
	}
	fmt.Printf("all %d sensors passed verification\n", len(results))
	return nil
}

// parseSensorPairs turns alias=uid arguments into the verifier's inputs,
// preserving command-line order.
func parseSensorPairs(pairs []string) (map[int]ipx.DeviceUID, []int, error) {
	sensors := make(map[int]ipx.DeviceUID, len(pairs))
	aliases := make([]int, 0, len(pairs))
	for _, pair := range pairs {
		aliasPart, uidPart, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, nil, fmt.Errorf("invalid sensor pair %q (want alias=uid)", pair)
		}
		alias, err := strconv.Atoi(strings.TrimSpace(aliasPart))
		if err != nil || alias <= 0 || alias > 255 {
			return nil, nil, fmt.Errorf("invalid alias in %q", pair)
		}
		uid, err := strconv.ParseUint(strings.TrimSpace(uidPart), 10, 64)
		if err != nil || uid == 0 {
			return nil, nil, fmt.Errorf("invalid uid in %q", pair)
		}
		if _, dup := sensors[alias]; dup {
			return nil, nil, fmt.Errorf("duplicate alias %d", alias)
		}
		sensors[alias] = ipx.DeviceUID(uid)
		aliases = append(aliases, alias)
	}
	return sensors, aliases, nil
}

func printAck(ack string, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(ack)
	return nil
}

func printOutput(out protocol.Output) {
	switch out.Format {
	case protocol.FormatBytes:
		os.Stdout.Write(out.Bytes)
		fmt.Println()
	case protocol.FormatList:
		for _, v := range out.List {
			fmt.Println(v)
		}
	case protocol.FormatArray:
		fmt.Println(out.Array.Values())
	default:
		fmt.Println(out.Text)
	}
}
