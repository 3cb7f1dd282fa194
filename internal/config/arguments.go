package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tkjaer/twampd/internal/probe"
	"github.com/tkjaer/twampd/internal/shm"
	"github.com/tkjaer/twampd/internal/version"
)

const (
	minCycle   = 10
	maxPackets = 100
	maxDSCP    = 63
)

// DaemonArgs holds the settings of the measurement daemon.
type DaemonArgs struct {
	// Measurement
	Cycle        int // seconds between measurement cycles
	Packets      int // probes per next-hop
	Port         uint
	Timeout      time.Duration
	Interval     time.Duration // between probes of one burst
	NextHopDelay time.Duration // between next-hops of one cycle
	DSCP         uint
	RouteCheck   bool
	Resolve      bool

	// Shared table
	ShmPath string

	// Output
	JsonFile    string // JSON lines measurement log, "-" for stdout
	MetricsAddr string // Prometheus listen address, empty disables metrics

	ConfigFile string

	// Logging
	Log      string // log file path, empty means stderr only
	LogLevel string // log level: debug, info, warn, error
}

// CycleInterval returns the pause between cycles.
func (a DaemonArgs) CycleInterval() time.Duration {
	return time.Duration(a.Cycle) * time.Second
}

// ProbeConfig returns the prober settings derived from the arguments.
func (a DaemonArgs) ProbeConfig() probe.Config {
	return probe.Config{
		Port:     uint16(a.Port),
		Count:    uint(a.Packets),
		Timeout:  a.Timeout,
		Interval: a.Interval,
		DSCP:     uint8(a.DSCP),
	}
}

func (a DaemonArgs) LogOptions() LogOptions {
	return LogOptions{Path: a.Log, Level: a.LogLevel}
}

func ParseDaemonArgs() (DaemonArgs, error) {
	var args DaemonArgs
	var showVersion bool

	flag.Usage = func() {
		println("twampd - next-hop latency measurement daemon")
		println()
		println("Measures round-trip time to every active next-hop in the shared table")
		println("written by the routing daemon and writes the results back in place.")
		println()
		println("Usage:")
		println("  twampd [OPTIONS]")
		println()
		println("Examples:")
		println("  twampd                               # 3 probes per next-hop every 30s")
		println("  twampd -c 60 -p 10                   # 10 probes per next-hop every 60s")
		println("  twampd --metrics-addr :9862          # Also export Prometheus metrics")
		println()
		println("Options:")
		flag.PrintDefaults()
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.IntVarP(&args.Cycle, "cycle", "c", 30, "Seconds between measurement cycles (minimum 10)")
	flag.IntVarP(&args.Packets, "packets", "p", 3, "Probe packets per next-hop (1-100)")
	flag.StringVar(&args.ShmPath, "shm", shm.DefaultPath, "Path of the shared next-hop table")
	flag.UintVar(&args.Port, "port", probe.DefaultPort, "Reflector UDP port")
	flag.DurationVarP(&args.Timeout, "timeout", "t", time.Second, "Per-packet reply timeout")
	flag.DurationVarP(&args.Interval, "interval", "i", 10*time.Millisecond, "Delay between probe packets")
	flag.DurationVar(&args.NextHopDelay, "nexthop-delay", time.Second, "Delay between next-hops within a cycle")
	flag.UintVar(&args.DSCP, "dscp", 0, "DSCP code point for probe packets (0-63)")
	flag.BoolVar(&args.RouteCheck, "route-check", false, "Skip next-hops without a usable route")
	flag.BoolVarP(&args.Resolve, "resolve", "n", false, "Resolve next-hop PTR names for logs and output")
	flag.StringVarP(&args.JsonFile, "json-file", "j", "", "Append JSON measurement lines to file (\"-\" for stdout)")
	flag.StringVar(&args.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty = disabled)")
	flag.StringVar(&args.ConfigFile, "config", "", "YAML config file, flags given on the command line win")
	flag.StringVarP(&args.Log, "log", "l", "", "Also write logs to this file")
	flag.StringVar(&args.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return args, err
	}

	if showVersion {
		fmt.Println(version.FullVersion("twampd"))
		os.Exit(0)
	}

	if args.ConfigFile != "" {
		if err := applyConfigFile(args.ConfigFile, &args, flag.CommandLine); err != nil {
			return args, err
		}
	}

	return args, args.validate()
}

func (a DaemonArgs) validate() error {
	switch {
	case a.Cycle < minCycle:
		return errors.New("probe cycle must be >= 10 seconds")
	case a.Packets < 1 || a.Packets > maxPackets:
		return errors.New("packets per next-hop must be between 1 and 100")
	case a.Port == 0 || a.Port > 65535:
		return errors.New("port must be between 1 and 65535")
	case a.DSCP > maxDSCP:
		return errors.New("DSCP must be between 0 and 63")
	case a.Timeout <= 0:
		return errors.New("timeout must be positive")
	case a.Interval < 0 || a.NextHopDelay < 0:
		return errors.New("delays must not be negative")
	case a.ShmPath == "":
		return errors.New("shared memory path is required")
	case !validLogLevel(a.LogLevel):
		return errors.New("log level must be one of debug, info, warn, error")
	}
	return nil
}

// ReflectorArgs holds the settings of the reflector.
type ReflectorArgs struct {
	Listen      string
	Port        uint
	ReadTimeout time.Duration
	SessionTTL  time.Duration
	MetricsAddr string

	Log      string
	LogLevel string
}

func (a ReflectorArgs) LogOptions() LogOptions {
	return LogOptions{Path: a.Log, Level: a.LogLevel}
}

func ParseReflectorArgs() (ReflectorArgs, error) {
	var args ReflectorArgs
	var showVersion bool

	flag.Usage = func() {
		println("twamp-reflector - TWAMP-Light probe reflector")
		println()
		println("Echoes every probe packet back to its sender unchanged.")
		println()
		println("Usage:")
		println("  twamp-reflector [OPTIONS]")
		println()
		println("Options:")
		flag.PrintDefaults()
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.StringVar(&args.Listen, "listen", "0.0.0.0", "Listen address")
	flag.UintVar(&args.Port, "port", probe.DefaultPort, "Listen UDP port")
	flag.DurationVar(&args.ReadTimeout, "read-timeout", time.Second, "Socket read timeout")
	flag.DurationVar(&args.SessionTTL, "session-ttl", time.Minute, "Idle time before a sender's session is closed")
	flag.StringVar(&args.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty = disabled)")
	flag.StringVarP(&args.Log, "log", "l", "", "Also write logs to this file")
	flag.StringVar(&args.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return args, err
	}

	if showVersion {
		fmt.Println(version.FullVersion("twamp-reflector"))
		os.Exit(0)
	}

	switch {
	case args.Listen == "":
		return args, errors.New("listen address is required")
	case args.Port == 0 || args.Port > 65535:
		return args, errors.New("port must be between 1 and 65535")
	case args.ReadTimeout <= 0:
		return args, errors.New("read timeout must be positive")
	case args.SessionTTL <= 0:
		return args, errors.New("session TTL must be positive")
	case !validLogLevel(args.LogLevel):
		return args, errors.New("log level must be one of debug, info, warn, error")
	}
	return args, nil
}
