package reflector

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type session struct {
	firstSeen time.Time
	packets   atomic.Uint64
}

// sessionTable tracks which senders are probing us. A sender's session ends
// once it has been idle for the TTL.
type sessionTable struct {
	cache   *ttlcache.Cache[netip.Addr, *session]
	metrics *metrics
}

func newSessionTable(ttl time.Duration, m *metrics) *sessionTable {
	t := &sessionTable{
		cache:   ttlcache.New(ttlcache.WithTTL[netip.Addr, *session](ttl)),
		metrics: m,
	}

	t.cache.OnInsertion(func(ctx context.Context, item *ttlcache.Item[netip.Addr, *session]) {
		slog.Info("New sender", "sender", item.Key())
		if t.metrics != nil {
			t.metrics.sessions.Inc()
		}
	})
	t.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[netip.Addr, *session]) {
		s := item.Value()
		if reason == ttlcache.EvictionReasonExpired {
			slog.Info("Sender idle, session closed",
				"sender", item.Key(),
				"packets", s.packets.Load(),
				"duration", time.Since(s.firstSeen).Round(time.Second))
		}
		if t.metrics != nil {
			t.metrics.sessions.Dec()
		}
	})
	return t
}

// seen records a reflected packet from addr and extends its session.
func (t *sessionTable) seen(addr netip.Addr) {
	if item := t.cache.Get(addr); item != nil {
		item.Value().packets.Add(1)
		return
	}
	s := &session{firstSeen: time.Now()}
	s.packets.Add(1)
	t.cache.Set(addr, s, ttlcache.DefaultTTL)
}

func (t *sessionTable) len() int {
	return t.cache.Len()
}

func (t *sessionTable) start() {
	go t.cache.Start()
}

func (t *sessionTable) stop() {
	t.cache.Stop()
	t.cache.DeleteAll()
}
