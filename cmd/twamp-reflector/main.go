package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkjaer/twampd/internal/config"
	"github.com/tkjaer/twampd/internal/output"
	"github.com/tkjaer/twampd/internal/reflector"
)

func main() {
	os.Exit(run())
}

func run() int {
	args, err := config.ParseReflectorArgs()
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := reflector.Config{
		Addr:        net.JoinHostPort(args.Listen, strconv.FormatUint(uint64(args.Port), 10)),
		ReadTimeout: args.ReadTimeout,
		SessionTTL:  args.SessionTTL,
	}

	var reg *prometheus.Registry
	if args.MetricsAddr != "" {
		reg = prometheus.NewRegistry()
		cfg.Registerer = reg
	}

	r, err := reflector.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := r.Listen(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	metricsDone := make(chan error, 1)
	if reg != nil {
		srv, err := output.ListenMetrics(args.MetricsAddr, reg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start metrics server: %v\n", err)
			return 1
		}
		go func() { metricsDone <- srv.Serve(ctx) }()
	} else {
		metricsDone <- nil
	}

	code := 0
	if err := r.Serve(ctx); err != nil {
		slog.Error("Reflector failed", "error", err)
		code = 1
	}
	stop()
	if err := <-metricsDone; err != nil {
		slog.Error("Metrics server failed", "error", err)
	}
	return code
}
