package measure

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/tkjaer/twampd/internal/probe"
	"github.com/tkjaer/twampd/internal/shared"
	"github.com/tkjaer/twampd/internal/shm"
	"github.com/tkjaer/twampd/pkg/ptr"
	"github.com/tkjaer/twampd/pkg/route"
)

const (
	MinInterval         = 10 * time.Second
	DefaultInterval     = 30 * time.Second
	DefaultNextHopDelay = time.Second
)

// Table is the view of the shared next-hop table the controller works on.
type Table interface {
	Count() uint32
	Sequence() uint32
	ReadEntry(index int) (shm.Entry, error)
	WriteLatency(index int, latencyMs uint32) error
	MarkFailed(index int) error
}

// Prober measures the round-trip time to one next-hop.
type Prober interface {
	MeasureRoundTrip(ctx context.Context, target netip.Addr) (probe.Result, error)
}

// RouteChecker reports whether a next-hop is reachable at all.
type RouteChecker interface {
	Lookup(ip netip.Addr) (route.Route, error)
}

// Resolver returns a display name for a next-hop.
type Resolver interface {
	Name(ctx context.Context, addr netip.Addr) string
}

// Reporter receives per next-hop results and cycle summaries.
type Reporter interface {
	Measurement(m shared.Measurement)
	CycleComplete(s shared.CycleSummary)
}

type Config struct {
	Interval     time.Duration // pause between cycles
	NextHopDelay time.Duration // pause between two probed next-hops
	RouteCheck   bool          // skip next-hops without a usable route
	Resolve      bool          // look up PTR names for reporting
}

// Controller runs measurement cycles over the shared table.
type Controller struct {
	config   Config
	table    Table
	prober   Prober
	reporter Reporter
	routes   RouteChecker
	names    Resolver
	cycles   uint64
	now      func() time.Time
}

func NewController(cfg Config, table Table, prober Prober, reporter Reporter) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.NextHopDelay < 0 {
		cfg.NextHopDelay = 0
	}
	c := &Controller{
		config:   cfg,
		table:    table,
		prober:   prober,
		reporter: reporter,
		now:      time.Now,
	}
	if cfg.RouteCheck {
		c.routes = route.Checker{}
	}
	if cfg.Resolve {
		c.names = ptr.NewResolver(ptr.DefaultTTL)
	}
	return c
}

// Run measures the table every Interval until ctx is done. It returns nil
// when stopped by ctx.
func (c *Controller) Run(ctx context.Context) error {
	slog.Info("Measurement loop started", "interval", c.config.Interval)
	for {
		if _, err := c.RunCycle(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		if !wait(ctx, c.config.Interval) {
			slog.Info("Measurement loop stopped", "cycles", c.cycles)
			return nil
		}
	}
}

// RunCycle probes every active entry of the table once and writes the result
// back to its slot. Inactive entries are neither probed nor written.
//
// A failure on one next-hop marks that entry failed and the cycle moves on.
// When ctx is cancelled the cycle stops at once and the entry being probed is
// left as it was.
func (c *Controller) RunCycle(ctx context.Context) (shared.CycleSummary, error) {
	c.cycles++
	summary := shared.CycleSummary{
		Cycle:    c.cycles,
		Sequence: c.table.Sequence(),
		Total:    int(c.table.Count()),
		Started:  c.now(),
	}

	if summary.Total == 0 {
		slog.Debug("Next-hop table is empty", "cycle", summary.Cycle)
		return summary, nil
	}
	slog.Debug("Cycle started", "cycle", summary.Cycle, "entries", summary.Total, "sequence", summary.Sequence)

	for i := range summary.Total {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		entry, err := c.table.ReadEntry(i)
		if err != nil {
			slog.Warn("Failed to read entry", "index", i, "error", err)
			continue
		}
		if !entry.Active {
			continue
		}

		if summary.Attempted > 0 && !wait(ctx, c.config.NextHopDelay) {
			return summary, ctx.Err()
		}
		summary.Attempted++

		m, err := c.measure(ctx, i, entry.Address)
		if err != nil {
			return summary, err
		}
		if m.Status == shared.StatusMeasured {
			summary.Measured++
		} else {
			summary.Failed++
		}
		if c.reporter != nil {
			c.reporter.Measurement(m)
		}
	}

	summary.Duration = c.now().Sub(summary.Started)
	slog.Info("Cycle complete",
		"cycle", summary.Cycle,
		"attempted", summary.Attempted,
		"measured", summary.Measured,
		"failed", summary.Failed,
		"duration", summary.Duration.Round(time.Millisecond))
	if c.reporter != nil {
		c.reporter.CycleComplete(summary)
	}
	return summary, nil
}

// measure probes one next-hop and records the outcome in slot i. It only
// returns an error when ctx was cancelled during the burst, in which case the
// slot is not written.
func (c *Controller) measure(ctx context.Context, i int, addr netip.Addr) (shared.Measurement, error) {
	m := shared.Measurement{
		Index:     i,
		Address:   addr.String(),
		LatencyMs: shm.LatencyUnmeasured,
		Timestamp: c.now(),
	}
	if c.names != nil {
		m.PTR = c.names.Name(ctx, addr)
	}
	log := slog.With("nexthop", addr, "index", i)

	if c.routes != nil {
		if _, err := c.routes.Lookup(addr); err != nil {
			log.Warn("No route to next-hop", "error", err)
			m.Status = shared.StatusUnroutable
			m.Error = err.Error()
			c.markFailed(log, i)
			return m, nil
		}
	}

	res, err := c.prober.MeasureRoundTrip(ctx, addr)
	m.Sent, m.Received = res.Sent, res.Received
	m.LossPct = res.Loss * 100
	m.Min, m.Max = res.Min.Microseconds(), res.Max.Microseconds()
	m.Avg, m.StdDev = res.Avg.Microseconds(), res.StdDev.Microseconds()

	if err != nil {
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
		log.Warn("Measurement failed", "error", err)
		m.Status = shared.StatusFailed
		m.Error = err.Error()
		c.markFailed(log, i)
		return m, nil
	}

	if ctx.Err() != nil {
		return m, ctx.Err()
	}

	latency := res.RoundedMillis()
	if err := c.table.WriteLatency(i, latency); err != nil {
		log.Error("Failed to write latency", "error", err)
		m.Status = shared.StatusFailed
		m.Error = fmt.Sprintf("write latency: %v", err)
		return m, nil
	}
	m.Status = shared.StatusMeasured
	m.LatencyMs = latency
	log.Info("Next-hop measured",
		"ptr", m.PTR,
		"latency_ms", latency,
		"avg", res.Avg,
		"loss_pct", m.LossPct)
	return m, nil
}

func (c *Controller) markFailed(log *slog.Logger, i int) {
	if err := c.table.MarkFailed(i); err != nil {
		log.Error("Failed to mark entry failed", "error", err)
	}
}

// wait sleeps for d and reports whether it completed before ctx was done.
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
