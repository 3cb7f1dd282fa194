package output

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tkjaer/twampd/internal/shared"
)

// MetricsOutput exports measurements as Prometheus metrics
type MetricsOutput struct {
	latency       *prometheus.GaugeVec
	loss          *prometheus.GaugeVec
	up            *prometheus.GaugeVec
	probesSent    *prometheus.CounterVec
	probesLost    *prometheus.CounterVec
	cycles        prometheus.Counter
	cycleDuration prometheus.Gauge
	nexthops      *prometheus.GaugeVec
	lastCycle     prometheus.Gauge
}

func NewMetricsOutput(reg prometheus.Registerer) *MetricsOutput {
	m := &MetricsOutput{
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "twampd_nexthop_latency_ms",
				Help: "Average round-trip time to the next-hop in milliseconds, as written to the shared table",
			},
			[]string{"nexthop", "ptr"},
		),
		loss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "twampd_nexthop_loss_ratio",
				Help: "Fraction of probes lost in the last burst (0-1)",
			},
			[]string{"nexthop", "ptr"},
		),
		up: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "twampd_nexthop_up",
				Help: "Whether the last measurement succeeded (1 = measured, 0 = failed)",
			},
			[]string{"nexthop", "ptr"},
		),
		probesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twampd_probes_sent_total",
				Help: "Total number of probe packets sent",
			},
			[]string{"nexthop"},
		),
		probesLost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twampd_probes_lost_total",
				Help: "Total number of probe packets without a reply",
			},
			[]string{"nexthop"},
		),
		cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "twampd_cycles_total",
				Help: "Total number of completed measurement cycles",
			},
		),
		cycleDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "twampd_cycle_duration_seconds",
				Help: "Duration of the last measurement cycle",
			},
		),
		nexthops: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "twampd_nexthops",
				Help: "Next-hops in the last cycle by state",
			},
			[]string{"state"},
		),
		lastCycle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "twampd_last_cycle_timestamp",
				Help: "Unix timestamp of the last completed cycle",
			},
		),
	}

	reg.MustRegister(
		m.latency,
		m.loss,
		m.up,
		m.probesSent,
		m.probesLost,
		m.cycles,
		m.cycleDuration,
		m.nexthops,
		m.lastCycle,
	)

	return m
}

func (m *MetricsOutput) Measurement(ms shared.Measurement) {
	m.probesSent.WithLabelValues(ms.Address).Add(float64(ms.Sent))
	m.probesLost.WithLabelValues(ms.Address).Add(float64(ms.Sent - ms.Received))

	if ms.Status == shared.StatusMeasured {
		m.latency.WithLabelValues(ms.Address, ms.PTR).Set(float64(ms.LatencyMs))
		m.loss.WithLabelValues(ms.Address, ms.PTR).Set(ms.LossPct / 100)
		m.up.WithLabelValues(ms.Address, ms.PTR).Set(1)
		return
	}
	// A failed next-hop has no latency; drop the stale series instead of
	// exporting the sentinel.
	m.latency.DeleteLabelValues(ms.Address, ms.PTR)
	m.loss.WithLabelValues(ms.Address, ms.PTR).Set(1)
	m.up.WithLabelValues(ms.Address, ms.PTR).Set(0)
}

func (m *MetricsOutput) CycleComplete(s shared.CycleSummary) {
	m.cycles.Inc()
	m.cycleDuration.Set(s.Duration.Seconds())
	m.nexthops.WithLabelValues("total").Set(float64(s.Total))
	m.nexthops.WithLabelValues("active").Set(float64(s.Attempted))
	m.nexthops.WithLabelValues("measured").Set(float64(s.Measured))
	m.nexthops.WithLabelValues("failed").Set(float64(s.Failed))
	m.lastCycle.Set(float64(s.Started.Add(s.Duration).Unix()))
}

func (m *MetricsOutput) Close() error {
	return nil
}
