package ptr

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	DefaultTTL        = time.Hour
	defaultRetries    = 3
	defaultRetryDelay = 100 * time.Millisecond
)

// Resolver looks up PTR names for next-hop addresses and caches the answers.
// Failed lookups are cached as empty names too, so an address without a PTR
// record is not retried on every cycle.
type Resolver struct {
	cache      *ttlcache.Cache[netip.Addr, string]
	lookupFunc func(ctx context.Context, addr string) ([]string, error)
	retries    int
	retryDelay time.Duration
}

// NewResolver creates a Resolver whose entries expire after ttl.
func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		cache:      ttlcache.New(ttlcache.WithTTL[netip.Addr, string](ttl), ttlcache.WithDisableTouchOnHit[netip.Addr, string]()),
		lookupFunc: net.DefaultResolver.LookupAddr,
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Name returns the PTR name for addr, or "" if it has none.
func (r *Resolver) Name(ctx context.Context, addr netip.Addr) string {
	if item := r.cache.Get(addr); item != nil {
		return item.Value()
	}

	var name string
	for attempt := range r.retries {
		if attempt > 0 {
			select {
			case <-time.After(r.retryDelay):
			case <-ctx.Done():
				return ""
			}
		}
		names, err := r.lookupFunc(ctx, addr.String())
		if err == nil && len(names) > 0 {
			name = normalizePTR(names[0])
			break
		}
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			break
		}
	}
	r.cache.Set(addr, name, ttlcache.DefaultTTL)
	return name
}

// Len returns the number of cached addresses.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// normalizePTR removes the trailing dot of a fully qualified name.
func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}
