package reflector

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	reflected prometheus.Counter
	discarded prometheus.Counter
	errors    prometheus.Counter
	sessions  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		reflected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twamp_reflector_reflected_total",
			Help: "Probe packets echoed back to their sender",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twamp_reflector_discarded_total",
			Help: "Datagrams dropped for being shorter than a probe packet",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twamp_reflector_errors_total",
			Help: "Socket read or write errors",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "twamp_reflector_active_sessions",
			Help: "Senders seen within the session TTL",
		}),
	}

	for _, c := range []prometheus.Collector{m.reflected, m.discarded, m.errors, m.sessions} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register reflector metrics: %w", err)
		}
	}
	return m, nil
}
