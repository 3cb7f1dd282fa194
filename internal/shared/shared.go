package shared

import (
	"time"
)

// Status of a single next-hop measurement
type Status string

const (
	StatusMeasured   Status = "measured"   // probe answered, latency written
	StatusFailed     Status = "failed"     // all probes lost or socket error, marked failed
	StatusUnroutable Status = "unroutable" // no route to the next-hop, not probed
)

// Measurement is the outcome of probing one next-hop in a cycle
type Measurement struct {
	Index     int       `json:"index"`      // Slot in the shared table
	Address   string    `json:"address"`    // Next-hop IPv4 address
	PTR       string    `json:"ptr"`        // PTR record for the address, if resolved
	Status    Status    `json:"status"`     // Outcome
	LatencyMs uint32    `json:"latency_ms"` // Value written to the table (0xFFFFFFFF on failure)
	Sent      uint      `json:"sent"`       // Probes sent
	Received  uint      `json:"received"`   // Replies received
	LossPct   float64   `json:"loss_pct"`   // Percentage loss
	Min       int64     `json:"min"`        // RTT in microseconds
	Max       int64     `json:"max"`        // RTT in microseconds
	Avg       int64     `json:"avg"`        // RTT in microseconds
	StdDev    int64     `json:"stddev"`     // RTT standard deviation in microseconds
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CycleSummary reports a completed measurement cycle
type CycleSummary struct {
	Cycle     uint64        `json:"cycle"`     // Cycle number since start
	Sequence  uint32        `json:"sequence"`  // Table sequence counter when the cycle began
	Total     int           `json:"total"`     // Entries in the table
	Attempted int           `json:"attempted"` // Active entries probed
	Measured  int           `json:"measured"`  // Active entries measured successfully
	Failed    int           `json:"failed"`    // Active entries marked failed
	Duration  time.Duration `json:"duration"`
	Started   time.Time     `json:"started"`
}

// SuccessPct returns the share of attempted next-hops that were measured
func (s CycleSummary) SuccessPct() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Measured) / float64(s.Attempted) * 100
}
