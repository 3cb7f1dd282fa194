package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	flag "github.com/spf13/pflag"
)

// fileConfig mirrors the daemon flags. Durations are written as Go duration
// strings, e.g. "250ms".
type fileConfig struct {
	Cycle        *int    `yaml:"cycle"`
	Packets      *int    `yaml:"packets"`
	Shm          *string `yaml:"shm"`
	Port         *uint   `yaml:"port"`
	Timeout      *string `yaml:"timeout"`
	Interval     *string `yaml:"interval"`
	NextHopDelay *string `yaml:"nexthop-delay"`
	DSCP         *uint   `yaml:"dscp"`
	RouteCheck   *bool   `yaml:"route-check"`
	Resolve      *bool   `yaml:"resolve"`
	JsonFile     *string `yaml:"json-file"`
	MetricsAddr  *string `yaml:"metrics-addr"`
	Log          *string `yaml:"log"`
	LogLevel     *string `yaml:"log-level"`
}

// applyConfigFile loads path and copies every setting it holds into args,
// except for flags that were given explicitly on the command line.
func applyConfigFile(path string, args *DaemonArgs, fs *flag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.UnmarshalWithOptions(data, &fc, yaml.Strict()); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set := func(name string) bool { return !fs.Changed(name) }

	if fc.Cycle != nil && set("cycle") {
		args.Cycle = *fc.Cycle
	}
	if fc.Packets != nil && set("packets") {
		args.Packets = *fc.Packets
	}
	if fc.Shm != nil && set("shm") {
		args.ShmPath = *fc.Shm
	}
	if fc.Port != nil && set("port") {
		args.Port = *fc.Port
	}
	if fc.DSCP != nil && set("dscp") {
		args.DSCP = *fc.DSCP
	}
	if fc.RouteCheck != nil && set("route-check") {
		args.RouteCheck = *fc.RouteCheck
	}
	if fc.Resolve != nil && set("resolve") {
		args.Resolve = *fc.Resolve
	}
	if fc.JsonFile != nil && set("json-file") {
		args.JsonFile = *fc.JsonFile
	}
	if fc.MetricsAddr != nil && set("metrics-addr") {
		args.MetricsAddr = *fc.MetricsAddr
	}
	if fc.Log != nil && set("log") {
		args.Log = *fc.Log
	}
	if fc.LogLevel != nil && set("log-level") {
		args.LogLevel = *fc.LogLevel
	}

	durations := []struct {
		name  string
		value *string
		dst   *time.Duration
	}{
		{"timeout", fc.Timeout, &args.Timeout},
		{"interval", fc.Interval, &args.Interval},
		{"nexthop-delay", fc.NextHopDelay, &args.NextHopDelay},
	}
	for _, d := range durations {
		if d.value == nil || !set(d.name) {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.name, err)
		}
		*d.dst = v
	}
	return nil
}
