package measure

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tkjaer/twampd/internal/probe"
	"github.com/tkjaer/twampd/internal/reflector"
	"github.com/tkjaer/twampd/internal/shared"
	"github.com/tkjaer/twampd/internal/shm"
	"github.com/tkjaer/twampd/pkg/route"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Unix(1_760_000_000, 0)

// newTable builds a table over a plain buffer holding entries, the way the
// routing daemon lays it out.
func newTable(t *testing.T, entries ...shm.Entry) (*shm.Table, []byte) {
	t.Helper()
	buf := make([]byte, shm.RegionSize)
	binary.NativeEndian.PutUint32(buf[shm.LockSize:], uint32(len(entries)))
	binary.NativeEndian.PutUint32(buf[shm.LockSize+4:], 42)
	for i, e := range entries {
		off := shm.HeaderSize + i*shm.EntrySize
		shm.EncodeEntry(buf[off:off+shm.EntrySize], e)
	}
	table, err := shm.NewTable(buf, shm.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return table, buf
}

func slotBytes(buf []byte, i int) []byte {
	off := shm.HeaderSize + i*shm.EntrySize
	return bytes.Clone(buf[off : off+shm.EntrySize])
}

func unmeasured(addr string, active bool) shm.Entry {
	return shm.Entry{
		Address:   netip.MustParseAddr(addr),
		Active:    active,
		LatencyMs: shm.LatencyUnmeasured,
	}
}

type fakeProber struct {
	mu      sync.Mutex
	results map[netip.Addr]probe.Result
	errs    map[netip.Addr]error
	calls   []netip.Addr
	block   bool
}

func (p *fakeProber) MeasureRoundTrip(ctx context.Context, target netip.Addr) (probe.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, target)
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return probe.Result{}, ctx.Err()
	}
	if err, ok := p.errs[target]; ok {
		return probe.Result{Sent: 3}, err
	}
	return p.results[target], nil
}

type fakeRoutes map[netip.Addr]bool

func (f fakeRoutes) Lookup(ip netip.Addr) (route.Route, error) {
	if f[ip] {
		return route.Route{Destination: ip}, nil
	}
	return route.Route{}, route.ErrNoRoute
}

type recorder struct {
	measurements []shared.Measurement
	summaries    []shared.CycleSummary
}

func (r *recorder) Measurement(m shared.Measurement)    { r.measurements = append(r.measurements, m) }
func (r *recorder) CycleComplete(s shared.CycleSummary) { r.summaries = append(r.summaries, s) }

func TestRunCycle_EndToEnd(t *testing.T) {
	refl, err := reflector.New(reflector.Config{Addr: "127.0.0.1:0", ReadTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, refl.Listen(ctx))
	done := make(chan error, 1)
	go func() { done <- refl.Serve(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()
	port := uint16(refl.LocalAddr().(*net.UDPAddr).Port)

	table, buf := newTable(t,
		unmeasured("127.0.0.1", true),
		unmeasured("127.0.0.2", false),
	)
	inactiveBefore := slotBytes(buf, 1)

	prober := probe.NewProber(probe.Config{Port: port, Count: 3, Timeout: time.Second, Interval: time.Millisecond})
	rec := &recorder{}
	c := NewController(Config{Interval: MinInterval}, table, prober, rec)

	summary, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	e, err := table.ReadEntry(0)
	require.NoError(t, err)
	assert.True(t, e.Measured)
	assert.NotEqual(t, shm.LatencyUnmeasured, e.LatencyMs)
	assert.Less(t, e.LatencyMs, uint32(1000))
	assert.Equal(t, uint64(fixedNow.Unix()), e.LastUpdated)

	assert.Equal(t, inactiveBefore, slotBytes(buf, 1), "inactive entry must not be written")

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Measured)
	assert.Equal(t, uint32(42), summary.Sequence)
	require.Len(t, rec.measurements, 1)
	assert.Equal(t, shared.StatusMeasured, rec.measurements[0].Status)
	assert.Equal(t, uint(3), rec.measurements[0].Received)
	require.Len(t, rec.summaries, 1)
	assert.Eventually(t, func() bool { return refl.Stats().Reflected == 3 }, time.Second, 10*time.Millisecond)
}

func TestRunCycle_Outcomes(t *testing.T) {
	a := netip.MustParseAddr("192.0.2.1")
	b := netip.MustParseAddr("192.0.2.2")
	c3 := netip.MustParseAddr("192.0.2.3")

	table, _ := newTable(t,
		shm.Entry{Address: a, Active: true, Measured: true, LatencyMs: 9, LastUpdated: 100},
		shm.Entry{Address: b, Active: true, Measured: true, LatencyMs: 9, LastUpdated: 100},
		unmeasured(c3.String(), false),
	)
	prober := &fakeProber{
		results: map[netip.Addr]probe.Result{
			a: {Sent: 3, Received: 3, Avg: 2500 * time.Microsecond},
		},
		errs: map[netip.Addr]error{
			b: fmt.Errorf("probe %s: %w", b, probe.ErrAllLost),
		},
	}
	rec := &recorder{}
	ctrl := NewController(Config{}, table, prober, rec)

	summary, err := ctrl.RunCycle(context.Background())
	require.NoError(t, err)

	got, _ := table.ReadEntry(0)
	assert.True(t, got.Measured)
	assert.Equal(t, uint32(3), got.LatencyMs, "2.5ms rounds to 3")

	got, _ = table.ReadEntry(1)
	assert.False(t, got.Measured)
	assert.Equal(t, shm.LatencyUnmeasured, got.LatencyMs)
	assert.Equal(t, uint64(100), got.LastUpdated, "failure keeps last_updated")

	assert.Equal(t, []netip.Addr{a, b}, prober.calls)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Measured)
	assert.Equal(t, 1, summary.Failed)
	assert.InDelta(t, 50.0, summary.SuccessPct(), 0.001)

	require.Len(t, rec.measurements, 2)
	assert.Equal(t, shared.StatusFailed, rec.measurements[1].Status)
	assert.Contains(t, rec.measurements[1].Error, "all probe packets lost")
}

func TestRunCycle_RouteCheck(t *testing.T) {
	routed := netip.MustParseAddr("192.0.2.1")
	unrouted := netip.MustParseAddr("198.51.100.1")
	table, _ := newTable(t,
		shm.Entry{Address: routed, Active: true},
		shm.Entry{Address: unrouted, Active: true, Measured: true, LatencyMs: 4},
	)
	prober := &fakeProber{results: map[netip.Addr]probe.Result{routed: {Sent: 1, Received: 1, Avg: time.Millisecond}}}
	rec := &recorder{}
	ctrl := NewController(Config{}, table, prober, rec)
	ctrl.routes = fakeRoutes{routed: true}

	summary, err := ctrl.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []netip.Addr{routed}, prober.calls, "unroutable next-hop must not be probed")
	got, _ := table.ReadEntry(1)
	assert.False(t, got.Measured)
	assert.Equal(t, shm.LatencyUnmeasured, got.LatencyMs)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, shared.StatusUnroutable, rec.measurements[1].Status)
}

func TestRunCycle_Empty(t *testing.T) {
	table, _ := newTable(t)
	prober := &fakeProber{}
	rec := &recorder{}

	summary, err := NewController(Config{}, table, prober, rec).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Attempted)
	assert.Empty(t, prober.calls)
	assert.Empty(t, rec.summaries)
}

func TestRunCycle_CancelDuringProbe(t *testing.T) {
	addr := netip.MustParseAddr("192.0.2.1")
	table, buf := newTable(t, shm.Entry{Address: addr, Active: true, Measured: true, LatencyMs: 7, LastUpdated: 5})
	before := slotBytes(buf, 0)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewController(Config{}, table, &fakeProber{block: true}, nil).RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, slotBytes(buf, 0), "entry being probed must not be written")
}

func TestRunCycle_NextHopDelay(t *testing.T) {
	table, _ := newTable(t,
		shm.Entry{Address: netip.MustParseAddr("192.0.2.1"), Active: true},
		shm.Entry{Address: netip.MustParseAddr("192.0.2.2"), Active: true},
		shm.Entry{Address: netip.MustParseAddr("192.0.2.3"), Active: true},
	)
	const delay = 30 * time.Millisecond
	ctrl := NewController(Config{NextHopDelay: delay}, table, &fakeProber{}, nil)

	start := time.Now()
	_, err := ctrl.RunCycle(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 2*delay, "delay between each pair of next-hops")
}

func TestRun_StopsOnCancel(t *testing.T) {
	table, _ := newTable(t, shm.Entry{Address: netip.MustParseAddr("192.0.2.1"), Active: true})
	prober := &fakeProber{results: map[netip.Addr]probe.Result{}}
	ctrl := NewController(Config{Interval: time.Hour}, table, prober, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool {
		prober.mu.Lock()
		defer prober.mu.Unlock()
		return len(prober.calls) == 1
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNewController_Defaults(t *testing.T) {
	ctrl := NewController(Config{NextHopDelay: -1, RouteCheck: true, Resolve: true}, nil, nil, nil)
	assert.Equal(t, DefaultInterval, ctrl.config.Interval)
	assert.Zero(t, ctrl.config.NextHopDelay)
	assert.NotNil(t, ctrl.routes)
	assert.NotNil(t, ctrl.names)
}

func TestWait(t *testing.T) {
	assert.True(t, wait(context.Background(), time.Millisecond))
	assert.True(t, wait(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, wait(ctx, time.Hour))
	assert.False(t, wait(ctx, 0))
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
}
