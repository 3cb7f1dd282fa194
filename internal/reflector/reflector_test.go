package reflector

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tkjaer/twampd/internal/probe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startReflector serves on a loopback port until the test ends.
func startReflector(t *testing.T, cfg Config) *Reflector {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	r, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Listen(ctx))

	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("reflector did not stop")
		}
	})
	return r
}

func dial(t *testing.T, r *Reflector) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, r.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestReflector_EchoesProbe(t *testing.T) {
	r := startReflector(t, Config{ReadTimeout: 100 * time.Millisecond})
	conn := dial(t, r)

	pkt, err := probe.NewPacket(7, time.Now()).Encode()
	require.NoError(t, err)
	require.Len(t, pkt, probe.PacketSize)

	_, err = conn.Write(pkt)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, from, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	assert.Equal(t, pkt, buf[:n])
	assert.Equal(t, r.LocalAddr().(*net.UDPAddr).Port, from.Port)

	assert.Eventually(t, func() bool {
		return r.Stats().Reflected == 1 && r.ActiveSessions() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestReflector_EchoesLongerDatagram(t *testing.T) {
	r := startReflector(t, Config{ReadTimeout: 100 * time.Millisecond})
	conn := dial(t, r)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := conn.Write(payload)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestReflector_DiscardsShortPacket(t *testing.T) {
	r := startReflector(t, Config{ReadTimeout: 100 * time.Millisecond})
	conn := dial(t, r)

	_, err := conn.Write(make([]byte, 10))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err = conn.Read(make([]byte, 1500))
	require.Error(t, err, "short packet must not be answered")

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Discarded)
	assert.Zero(t, stats.Reflected)
	assert.Zero(t, r.ActiveSessions())
}

func TestReflector_Shutdown(t *testing.T) {
	r, err := New(Config{Addr: "127.0.0.1:0", ReadTimeout: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Listen(ctx))
	addr := r.LocalAddr().(*net.UDPAddr)

	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Less(t, time.Since(start), time.Second, "shutdown must not wait for the read timeout")

	// The port is free again once the socket is closed.
	conn, err := net.ListenUDP("udp4", addr)
	require.NoError(t, err)
	conn.Close()
}

func TestReflector_ServeBeforeListen(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, r.LocalAddr())
	assert.Error(t, r.Serve(context.Background()))
}

func TestReflector_Defaults(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:862", r.config.Addr)
	assert.Equal(t, time.Second, r.config.ReadTimeout)
	assert.Equal(t, time.Minute, r.config.SessionTTL)
}

func TestReflector_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := startReflector(t, Config{ReadTimeout: 100 * time.Millisecond, Registerer: reg})
	conn := dial(t, r)

	pkt, err := probe.NewPacket(1, time.Now()).Encode()
	require.NoError(t, err)
	_, err = conn.Write(make([]byte, 4))
	require.NoError(t, err)
	_, err = conn.Write(pkt)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1500))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(r.metrics.reflected) == 1 && testutil.ToFloat64(r.metrics.sessions) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.discarded))

	_, err = New(Config{Registerer: reg})
	assert.Error(t, err, "registering twice must fail")
}

func TestSessionTable_Expiry(t *testing.T) {
	sessions := newSessionTable(50*time.Millisecond, nil)
	sessions.start()
	defer sessions.stop()

	addr := netip.MustParseAddr("192.0.2.1")
	sessions.seen(addr)
	sessions.seen(addr)
	require.Equal(t, 1, sessions.len())
	assert.Equal(t, uint64(2), sessions.cache.Get(addr).Value().packets.Load())

	assert.Eventually(t, func() bool { return sessions.len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
