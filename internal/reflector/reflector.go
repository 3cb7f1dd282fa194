package reflector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkjaer/twampd/internal/probe"
)

const maxDatagram = 65535

// Config holds the reflector settings.
type Config struct {
	Addr        string        // listen address, host:port
	ReadTimeout time.Duration // how long a read blocks before shutdown is rechecked
	SessionTTL  time.Duration // idle time before a sender's session is forgotten

	// Registerer, when set, receives the reflector's counters.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the settings used when no flags are given.
func DefaultConfig() Config {
	return Config{
		Addr:        net.JoinHostPort("0.0.0.0", fmt.Sprint(probe.DefaultPort)),
		ReadTimeout: time.Second,
		SessionTTL:  time.Minute,
	}
}

// Stats are the reflector's packet counters.
type Stats struct {
	Reflected uint64 `json:"reflected"`
	Discarded uint64 `json:"discarded"`
	Errors    uint64 `json:"errors"`
}

// Reflector echoes probe packets back to their sender unchanged.
type Reflector struct {
	config   Config
	conn     *net.UDPConn
	sessions *sessionTable
	metrics  *metrics

	reflected atomic.Uint64
	discarded atomic.Uint64
	errors    atomic.Uint64

	mu      sync.Mutex
	serving bool
}

func New(cfg Config) (*Reflector, error) {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}

	r := &Reflector{config: cfg}
	if cfg.Registerer != nil {
		m, err := newMetrics(cfg.Registerer)
		if err != nil {
			return nil, err
		}
		r.metrics = m
	}
	r.sessions = newSessionTable(cfg.SessionTTL, r.metrics)
	return r, nil
}

// Listen binds the reflector socket. The socket is opened with SO_REUSEADDR
// so a restarted reflector can bind while the old socket lingers.
func (r *Reflector) Listen(ctx context.Context) error {
	if r.conn != nil {
		return errors.New("reflector already listening")
	}
	lc := net.ListenConfig{Control: reuseAddrControl}
	pc, err := lc.ListenPacket(ctx, "udp4", r.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.config.Addr, err)
	}
	r.conn = pc.(*net.UDPConn)
	slog.Info("Reflector listening", "addr", r.conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (r *Reflector) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve reflects packets until ctx is done, then closes the socket.
func (r *Reflector) Serve(ctx context.Context) error {
	if r.conn == nil {
		return errors.New("reflector not listening")
	}
	r.mu.Lock()
	if r.serving {
		r.mu.Unlock()
		return errors.New("reflector already serving")
	}
	r.serving = true
	r.mu.Unlock()

	r.sessions.start()
	defer func() {
		r.sessions.stop()
		r.conn.Close()
		slog.Info("Reflector stopped",
			"reflected", r.reflected.Load(),
			"discarded", r.discarded.Load(),
			"errors", r.errors.Load())
	}()

	// Wake a blocked read as soon as ctx is cancelled instead of waiting
	// for the read deadline.
	stop := context.AfterFunc(ctx, func() {
		r.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagram)
	for ctx.Err() == nil {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		if ctx.Err() != nil {
			break
		}
		n, from, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || ctx.Err() != nil {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			r.countError()
			slog.Warn("Read failed", "error", err)
			continue
		}

		if n < probe.PacketSize {
			r.discarded.Add(1)
			if r.metrics != nil {
				r.metrics.discarded.Inc()
			}
			slog.Debug("Discarded short packet", "from", from, "size", n)
			continue
		}

		if _, err := r.conn.WriteToUDPAddrPort(buf[:n], from); err != nil {
			r.countError()
			slog.Warn("Reflect failed", "to", from, "error", err)
			continue
		}
		r.reflected.Add(1)
		if r.metrics != nil {
			r.metrics.reflected.Inc()
		}
		r.sessions.seen(from.Addr().Unmap())

		seq, _ := probe.ParseSequence(buf[:n])
		slog.Debug("Reflected packet", "to", from, "seq", seq, "size", n)
	}
	return nil
}

// ListenAndServe binds the socket and serves until ctx is done.
func (r *Reflector) ListenAndServe(ctx context.Context) error {
	if err := r.Listen(ctx); err != nil {
		return err
	}
	return r.Serve(ctx)
}

func (r *Reflector) Stats() Stats {
	return Stats{
		Reflected: r.reflected.Load(),
		Discarded: r.discarded.Load(),
		Errors:    r.errors.Load(),
	}
}

// ActiveSessions returns the number of senders seen within the session TTL.
func (r *Reflector) ActiveSessions() int {
	return r.sessions.len()
}

func (r *Reflector) countError() {
	r.errors.Add(1)
	if r.metrics != nil {
		r.metrics.errors.Inc()
	}
}
