package probe

import (
	"math"
	"time"
)

// Result holds the statistics of one probe burst.
type Result struct {
	Sent     uint          `json:"sent"`
	Received uint          `json:"received"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Avg      time.Duration `json:"avg"`
	StdDev   time.Duration `json:"stddev"`
	Loss     float64       `json:"loss"` // fraction lost, 0..1
}

// AvgMillis returns the mean RTT in fractional milliseconds.
func (r Result) AvgMillis() float64 {
	return float64(r.Avg) / float64(time.Millisecond)
}

// RoundedMillis returns the mean RTT rounded to the nearest millisecond,
// clamped so it never collides with the unmeasured sentinel.
func (r Result) RoundedMillis() uint32 {
	ms := math.Round(r.AvgMillis())
	if ms >= math.MaxUint32 {
		return math.MaxUint32 - 1
	}
	return uint32(ms)
}

// rttStats accumulates samples using running sums, so the burst never has to
// keep the samples around.
type rttStats struct {
	sent       uint
	received   uint
	min        time.Duration
	max        time.Duration
	sum        float64
	sumSquares float64
}

func (s *rttStats) addSent() {
	s.sent++
}

func (s *rttStats) addSample(rtt time.Duration) {
	if s.received == 0 || rtt < s.min {
		s.min = rtt
	}
	if rtt > s.max {
		s.max = rtt
	}
	s.received++
	v := float64(rtt)
	s.sum += v
	s.sumSquares += v * v
}

func (s *rttStats) result() Result {
	r := Result{Sent: s.sent, Received: s.received}
	if s.sent > 0 {
		r.Loss = float64(s.sent-s.received) / float64(s.sent)
	}
	if s.received == 0 {
		return r
	}
	n := float64(s.received)
	mean := s.sum / n
	variance := s.sumSquares/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	r.Min = s.min
	r.Max = s.max
	r.Avg = time.Duration(mean)
	r.StdDev = time.Duration(math.Sqrt(variance))
	return r
}
