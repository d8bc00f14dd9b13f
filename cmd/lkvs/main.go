package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"lkvs/internal/config"
	"lkvs/internal/device"
	"lkvs/internal/logging"
	"lkvs/internal/monitoring"
	"lkvs/pkg/lkvs"
)

const version = "1.0.0"

// maxMultiSize bounds the value size of multiput and multiget, which build
// each value in memory.
const maxMultiSize = 1 << 30

type cli struct {
	out        io.Writer
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *monitoring.DeviceMetrics
	verbose    bool
	jsonOutput bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("lkvs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	devPath := fs.String("dev", "", "Device or file path (overrides config)")
	verbose := fs.Bool("v", false, "Verbose output")
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	showMetrics := fs.Bool("metrics", false, "Print device metrics in Prometheus text format after the command")
	env := fs.String("env", "", "Logging preset: development, production or test")
	fs.Usage = func() { printUsage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(out)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *devPath != "" {
		cfg.Device.Path = *devPath
	}
	if *env != "" {
		if err := logging.SetupEnvironmentLogging(cfg, *env); err != nil {
			return err
		}
	}
	if *verbose {
		cfg.Logging.Level = "debug"
		cfg.Logging.EnableDeviceLogging = true
	}

	c := &cli{
		out:        out,
		cfg:        cfg,
		logger:     logging.NewLogger(&cfg.Logging),
		metrics:    monitoring.NewDeviceMetrics(),
		verbose:    *verbose,
		jsonOutput: *jsonOutput,
	}

	if err := c.dispatch(rest[0], rest[1:]); err != nil {
		return err
	}
	if *showMetrics || cfg.Metrics.Enabled {
		exporter := monitoring.NewPrometheusExporter(c.metrics.GetRegistry(), map[string]string{"device": cfg.Device.Path})
		if _, err := exporter.WriteTo(out); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) dispatch(command string, cmdArgs []string) error {
	switch command {
	case "create":
		return c.handleCreate(cmdArgs)
	case "format":
		return c.handleFormat()
	case "info":
		return c.handleInfo()
	case "put":
		return c.handlePut(cmdArgs)
	case "get":
		return c.handleGet(cmdArgs)
	case "multiput":
		return c.handleMultiPut(cmdArgs)
	case "multiget":
		return c.handleMultiGet(cmdArgs)
	case "fileput":
		return c.handleFilePut(cmdArgs)
	case "example":
		return c.handleExample()
	case "health":
		return c.handleHealth()
	default:
		printUsage(c.out)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (c *cli) open(mode int) (*lkvs.Dev, error) {
	return lkvs.OpenDev(c.cfg.Device.Path, mode, lkvs.WithConfig(c.cfg), lkvs.WithLogger(c.logger), lkvs.WithMetrics(c.metrics))
}

func (c *cli) writeMode() int {
	if c.cfg.Device.Format {
		return lkvs.ModeFormat
	}
	return lkvs.ModeReadWrite
}

func (c *cli) handleCreate(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: create <path> <size>")
	}
	size, err := humanize.ParseBytes(args[1])
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", args[1], err)
	}
	if err := device.Create(args[0], int64(size)); err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{"path": args[0], "capacity": size})
	}
	fmt.Fprintf(c.out, "Created %s (%s)\n", args[0], humanize.IBytes(size))
	return nil
}

func (c *cli) handleFormat() error {
	dev, err := c.open(lkvs.ModeFormat)
	if err != nil {
		return err
	}
	info := dev.Info()
	if err := dev.Close(); err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(info)
	}
	fmt.Fprintf(c.out, "Formatted %s: id %s, %s\n", info.Path, info.DeviceID, humanize.IBytes(uint64(info.Capacity)))
	return nil
}

func (c *cli) handleInfo() error {
	dev, err := c.open(lkvs.ModeReadOnly)
	if err != nil {
		return err
	}
	defer dev.Close()

	if c.jsonOutput {
		if c.verbose {
			return c.outputJSON(dev.Stats())
		}
		return c.outputJSON(dev.Info())
	}

	info := dev.Info()
	fmt.Fprintf(c.out, "Device:     %s\n", info.Path)
	fmt.Fprintf(c.out, "ID:         %s\n", info.DeviceID)
	fmt.Fprintf(c.out, "Formatted:  %s (%s)\n", info.FormattedAt.Format(time.RFC3339), humanize.Time(info.FormattedAt))
	fmt.Fprintf(c.out, "Capacity:   %s\n", humanize.IBytes(uint64(info.Capacity)))
	fmt.Fprintf(c.out, "Used:       %s\n", humanize.IBytes(uint64(info.Used)))
	fmt.Fprintf(c.out, "Free:       %s\n", humanize.IBytes(uint64(info.Free)))
	fmt.Fprintf(c.out, "Keys:       %s\n", humanize.Comma(int64(info.Keys)))
	fmt.Fprintf(c.out, "Sequence:   %d\n", info.LastSeq)
	if c.verbose {
		fmt.Fprintf(c.out, "Recovered:  %d records (checkpoint: %v)\n", info.Recovered, info.FromCheckpoint)
	}
	return nil
}

// handlePut accepts the value inline or, prefixed with @, from a file.
func (c *cli) handlePut(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: put <key> <value|@file>")
	}
	value := []byte(args[1])
	if strings.HasPrefix(args[1], "@") {
		data, err := os.ReadFile(args[1][1:])
		if err != nil {
			return err
		}
		value = data
	}
	return c.put(args[0], value)
}

func (c *cli) handleFilePut(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: fileput <key> <file>")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	return c.put(args[0], data)
}

func (c *cli) put(key string, value []byte) error {
	dev, err := c.open(c.writeMode())
	if err != nil {
		return err
	}
	defer dev.Close()

	start := time.Now()
	err = dev.PutBytes([]byte(key), value)
	duration := time.Since(start)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"success":     true,
			"key":         key,
			"size":        len(value),
			"duration_ms": duration.Milliseconds(),
		})
	}
	if c.verbose {
		fmt.Fprintf(c.out, "OK (%s, took %v)\n", humanize.IBytes(uint64(len(value))), duration)
	} else {
		fmt.Fprintln(c.out, "OK")
	}
	return nil
}

func (c *cli) handleGet(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: get <key> [length]")
	}
	length := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid length: %w", err)
		}
		length = n
	}

	dev, err := c.open(lkvs.ModeReadOnly)
	if err != nil {
		return err
	}
	defer dev.Close()

	start := time.Now()
	value, err := dev.GetBytes([]byte(args[0]), length)
	duration := time.Since(start)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"key":         args[0],
			"value":       string(value),
			"size":        len(value),
			"duration_ms": duration.Milliseconds(),
		})
	}
	c.out.Write(value)
	if c.verbose {
		fmt.Fprintf(c.out, " (%s, took %v)", humanize.IBytes(uint64(len(value))), duration)
	}
	fmt.Fprintln(c.out)
	return nil
}

func parseCountAndSize(args []string, usage string) (int, uint64, error) {
	if len(args) < 2 {
		return 0, 0, errors.New(usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid count %q", args[0])
	}
	size, err := humanize.ParseBytes(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q: %w", args[1], err)
	}
	if size > maxMultiSize {
		return 0, 0, fmt.Errorf("size %s exceeds the %s limit", humanize.IBytes(size), humanize.IBytes(maxMultiSize))
	}
	return n, size, nil
}

func multiKey(i int) []byte {
	return []byte(fmt.Sprintf("key-%d", i))
}

func multiValue(i int, size uint64) []byte {
	return bytes.Repeat([]byte{byte(i)}, int(size))
}

// handleMultiPut writes n values of size bytes; value i is filled with byte(i).
func (c *cli) handleMultiPut(args []string) error {
	n, size, err := parseCountAndSize(args, "usage: multiput <n> <size>")
	if err != nil {
		return err
	}
	dev, err := c.open(c.writeMode())
	if err != nil {
		return err
	}
	defer dev.Close()

	start := time.Now()
	for i := 0; i < n; i++ {
		if err := dev.PutBytes(multiKey(i), multiValue(i, size)); err != nil {
			return err
		}
	}
	return c.reportThroughput("put", n, size, time.Since(start))
}

// handleMultiGet reads back what multiput wrote and verifies every byte.
func (c *cli) handleMultiGet(args []string) error {
	n, size, err := parseCountAndSize(args, "usage: multiget <n> <size>")
	if err != nil {
		return err
	}
	dev, err := c.open(lkvs.ModeReadOnly)
	if err != nil {
		return err
	}
	defer dev.Close()

	start := time.Now()
	for i := 0; i < n; i++ {
		value, err := dev.GetBytes(multiKey(i), int(size))
		if err != nil {
			return err
		}
		if !bytes.Equal(value, multiValue(i, size)) {
			return fmt.Errorf("value for %s does not match what multiput writes", multiKey(i))
		}
	}
	return c.reportThroughput("get", n, size, time.Since(start))
}

func (c *cli) reportThroughput(op string, n int, size uint64, duration time.Duration) error {
	total := uint64(n) * size
	opsPerSec := float64(n) / duration.Seconds()
	bytesPerSec := float64(total) / duration.Seconds()
	c.logger.Performance(context.Background(), op+"_throughput", opsPerSec, "ops/sec",
		map[string]string{"count": strconv.Itoa(n), "size": strconv.FormatUint(size, 10)})

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"operation":     op,
			"count":         n,
			"bytes":         total,
			"duration_ms":   duration.Milliseconds(),
			"ops_per_sec":   opsPerSec,
			"bytes_per_sec": bytesPerSec,
		})
	}
	fmt.Fprintf(c.out, "%s: %d ops, %s in %v (%.0f ops/sec, %s/s)\n",
		strings.ToUpper(op), n, humanize.IBytes(total), duration, opsPerSec, humanize.IBytes(uint64(bytesPerSec)))
	return nil
}

func (c *cli) handleExample() error {
	dev, err := c.open(lkvs.ModeReadWrite)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.Put("test", "Hello World"); err != nil {
		return err
	}
	value, err := dev.Get("test", 11)
	if err != nil {
		return err
	}

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{"key": "test", "value": value})
	}
	fmt.Fprintf(c.out, "test = %s\n", value)
	return nil
}

// handleHealth fails when the device is unhealthy, so scripts can test the
// exit status.
func (c *cli) handleHealth() error {
	dev, err := c.open(lkvs.ModeReadOnly)
	if err != nil {
		return err
	}
	defer dev.Close()

	hm := monitoring.NewHealthManager(version)
	hm.RegisterChecker(monitoring.NewDeviceHealthChecker(dev))
	hm.RegisterChecker(monitoring.NewMemoryHealthChecker(0))
	result := hm.CheckHealth(context.Background())

	if c.jsonOutput {
		if err := c.outputJSON(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(c.out, "Status: %s\n", result.Status)
		for _, name := range []string{"device", "memory"} {
			check := result.Checks[name]
			fmt.Fprintf(c.out, "  %-8s %-10s %s\n", name, check.Status, check.Message)
		}
	}

	if result.Status == monitoring.HealthStatusUnhealthy {
		return fmt.Errorf("device %s is unhealthy", dev.Info().Path)
	}
	return nil
}

func (c *cli) outputJSON(data interface{}) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting JSON: %w", err)
	}
	fmt.Fprintln(c.out, string(output))
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `lkvs - linear key-value store on a raw device

Usage:
  lkvs [options] <command> [args...]

Options:
  -config string
        Path to configuration file (YAML)
  -dev string
        Device or file path (overrides config)
  -v    Verbose output
  -json Output in JSON format
  -metrics
        Print device metrics in Prometheus text format after the command
        (also enabled by metrics.enabled in the configuration)
  -env string
        Logging preset: development, production or test

Commands:
  create <path> <size>
        Create a preallocated file usable as a device (e.g. 64MiB)

  format
        Write a fresh superblock, discarding all stored values

  info
        Show device identity and usage

  put <key> <value|@file>
        Store a value, inline or read from a file

  get <key> [length]
        Print the value stored under key (opens the device read-only)

  fileput <key> <file>
        Store the contents of a file

  multiput <n> <size>
        Store n values of size bytes (key-i holds byte i)

  multiget <n> <size>
        Read back and verify what multiput stored

  example
        Store "Hello World" under "test" and read it back

  health
        Report device fullness and error counts; fails when unhealthy

Environment:
  LKVS_DEVICE_PATH, LKVS_DEVICE_MODE, LKVS_LOG_LEVEL and others override the
  configuration file.
`)
}
