package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkjaer/twampd/internal/config"
	"github.com/tkjaer/twampd/internal/measure"
	"github.com/tkjaer/twampd/internal/output"
	"github.com/tkjaer/twampd/internal/probe"
	"github.com/tkjaer/twampd/internal/shm"
)

func main() {
	os.Exit(run())
}

func run() int {
	args, err := config.ParseDaemonArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logFile, err := config.SetupLogging(args.LogOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}

	region, err := shm.OpenRegion(args.ShmPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, shm.ErrRegionNotFound) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", shm.RemediationHint)
		}
		return 1
	}
	defer region.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outputs := &output.OutputManager{}
	defer func() {
		if err := outputs.Close(); err != nil {
			slog.Warn("Failed to close outputs", "error", err)
		}
	}()

	if args.JsonFile != "" {
		name := args.JsonFile
		if name == "-" {
			name = ""
		}
		jo, err := output.NewJSONOutput(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open JSON output: %v\n", err)
			return 1
		}
		outputs.Register(jo)
	}

	metricsDone := make(chan error, 1)
	if args.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		outputs.Register(output.NewMetricsOutput(reg))
		srv, err := output.ListenMetrics(args.MetricsAddr, reg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start metrics server: %v\n", err)
			return 1
		}
		go func() { metricsDone <- srv.Serve(ctx) }()
	} else {
		metricsDone <- nil
	}

	slog.Info("Starting twampd",
		"shm", region.Path(),
		"cycle", args.CycleInterval(),
		"packets", args.Packets,
		"port", args.Port,
		"entries", region.Count())

	prober := probe.NewProber(args.ProbeConfig())
	ctrl := measure.NewController(measure.Config{
		Interval:     args.CycleInterval(),
		NextHopDelay: args.NextHopDelay,
		RouteCheck:   args.RouteCheck,
		Resolve:      args.Resolve,
	}, region, prober, outputs)

	code := 0
	if err := ctrl.Run(ctx); err != nil {
		slog.Error("Measurement loop failed", "error", err)
		code = 1
	}
	stop()
	if err := <-metricsDone; err != nil {
		slog.Error("Metrics server failed", "error", err)
	}

	slog.Info("twampd stopped")
	return code
}
