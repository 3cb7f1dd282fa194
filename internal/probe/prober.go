package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"golang.org/x/net/ipv4"
)

// ErrAllLost is returned when no probe of a burst was answered.
var ErrAllLost = errors.New("all probe packets lost")

const maxReplySize = 1500

// Config holds the parameters of a probe burst.
type Config struct {
	Port     uint16        // destination port on the reflector
	Count    uint          // packets per burst
	Timeout  time.Duration // per-packet receive timeout
	Interval time.Duration // delay between sends
	DSCP     uint8         // DSCP code point for probe packets, 0 leaves the TOS byte alone
}

// DefaultConfig mirrors the defaults of the daemon flags.
func DefaultConfig() Config {
	return Config{
		Port:     DefaultPort,
		Count:    3,
		Timeout:  time.Second,
		Interval: 10 * time.Millisecond,
	}
}

// Prober measures round-trip time to TWAMP-Light reflectors.
type Prober struct {
	config Config
}

func NewProber(cfg Config) *Prober {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Count == 0 {
		cfg.Count = 1
	}
	return &Prober{config: cfg}
}

func (p *Prober) Config() Config {
	return p.config
}

// MeasureRoundTrip sends a burst of probes to target and returns RTT statistics.
//
// Each packet waits for exactly one reply or the timeout. Replies are not
// matched against the sequence that was just sent: anything arriving on the
// socket within the timeout counts as the answer. Timeouts are counted as loss
// and the burst continues; any other socket error aborts it. A burst without a
// single reply returns ErrAllLost.
//
// Cancellation is checked before each packet, so a packet in flight is always
// allowed to finish.
func (p *Prober) MeasureRoundTrip(ctx context.Context, target netip.Addr) (Result, error) {
	target = target.Unmap()
	if !target.Is4() {
		return Result{}, fmt.Errorf("probe %s: not an IPv4 address", target)
	}
	dst := netip.AddrPortFrom(target, p.config.Port)

	// One socket per burst. It is not connected, so ICMP errors do not
	// surface as read errors and an unanswered probe is a plain timeout.
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return Result{}, fmt.Errorf("open probe socket: %w", err)
	}
	defer conn.Close()

	if p.config.DSCP > 0 {
		if err := ipv4.NewConn(conn).SetTOS(int(p.config.DSCP) << 2); err != nil {
			return Result{}, fmt.Errorf("set DSCP %d: %w", p.config.DSCP, err)
		}
	}

	var stats rttStats
	buf := make([]byte, maxReplySize)

	for seq := uint32(1); seq <= uint32(p.config.Count); seq++ {
		if err := ctx.Err(); err != nil {
			return stats.result(), err
		}
		if seq > 1 && p.config.Interval > 0 {
			if err := sleep(ctx, p.config.Interval); err != nil {
				return stats.result(), err
			}
		}

		data, err := NewPacket(seq, time.Now()).Encode()
		if err != nil {
			return stats.result(), fmt.Errorf("encode probe %d: %w", seq, err)
		}

		start := time.Now()
		if _, err := conn.WriteToUDPAddrPort(data, dst); err != nil {
			return stats.result(), fmt.Errorf("send probe %d to %s: %w", seq, dst, err)
		}
		stats.addSent()

		if err := conn.SetReadDeadline(start.Add(p.config.Timeout)); err != nil {
			return stats.result(), fmt.Errorf("set read deadline: %w", err)
		}
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				slog.Debug("Probe timed out", "target", dst, "seq", seq, "timeout", p.config.Timeout)
				continue
			}
			return stats.result(), fmt.Errorf("receive probe %d from %s: %w", seq, dst, err)
		}
		rtt := time.Since(start)

		if got, ok := ParseSequence(buf[:n]); !ok || got != seq {
			slog.Debug("Probe reply sequence mismatch", "target", dst, "from", from, "sent", seq, "received", got, "bytes", n)
		}
		stats.addSample(rtt)
		slog.Debug("Probe reply", "target", dst, "seq", seq, "rtt", rtt)
	}

	res := stats.result()
	if res.Received == 0 {
		return res, fmt.Errorf("%s: %w", dst, ErrAllLost)
	}
	slog.Debug("Probe burst complete", "target", dst, "avg", res.Avg, "loss", res.Loss)
	return res, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
