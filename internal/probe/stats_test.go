package probe

import (
	"math"
	"testing"
	"time"
)

func TestRTTStats(t *testing.T) {
	tests := []struct {
		name    string
		sent    int
		samples []time.Duration
		want    Result
	}{
		{
			name: "nothing sent",
			want: Result{},
		},
		{
			name: "all lost",
			sent: 3,
			want: Result{Sent: 3, Loss: 1},
		},
		{
			name:    "single sample",
			sent:    1,
			samples: []time.Duration{5 * time.Millisecond},
			want: Result{
				Sent: 1, Received: 1,
				Min: 5 * time.Millisecond, Max: 5 * time.Millisecond, Avg: 5 * time.Millisecond,
			},
		},
		{
			name:    "one lost out of four",
			sent:    4,
			samples: []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 6 * time.Millisecond},
			want: Result{
				Sent: 4, Received: 3,
				Min: 2 * time.Millisecond, Max: 6 * time.Millisecond, Avg: 4 * time.Millisecond,
				StdDev: 1632993, // sqrt(8/3) ms in ns, truncated
				Loss:   0.25,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s rttStats
			for range tt.sent {
				s.addSent()
			}
			for _, rtt := range tt.samples {
				s.addSample(rtt)
			}
			got := s.result()

			// Allow rounding noise on the standard deviation.
			if d := got.StdDev - tt.want.StdDev; d < -time.Microsecond || d > time.Microsecond {
				t.Errorf("StdDev = %v, want %v", got.StdDev, tt.want.StdDev)
			}
			got.StdDev, tt.want.StdDev = 0, 0
			if got != tt.want {
				t.Errorf("result() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResult_RoundedMillis(t *testing.T) {
	tests := []struct {
		avg  time.Duration
		want uint32
	}{
		{0, 0},
		{1400 * time.Microsecond, 1},
		{1500 * time.Microsecond, 2},
		{12600 * time.Microsecond, 13},
		{time.Duration(math.MaxInt64), math.MaxUint32 - 1},
	}

	for _, tt := range tests {
		r := Result{Avg: tt.avg}
		if got := r.RoundedMillis(); got != tt.want {
			t.Errorf("RoundedMillis(%v) = %d, want %d", tt.avg, got, tt.want)
		}
	}
}
