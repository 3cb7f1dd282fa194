package route

import (
	"errors"
	"net"
	"net/netip"
)

// ErrNoRoute is returned when the kernel has no usable route to an address:
// no route at all, or an unreachable, blackhole or prohibit route.
var ErrNoRoute = errors.New("no usable route")

// Route describes how the kernel would forward traffic to Destination.
type Route struct {
	Destination netip.Addr
	Gateway     netip.Addr
	Source      netip.Addr
	Interface   *net.Interface
}

// Direct reports whether the destination is on-link.
func (r Route) Direct() bool {
	return !r.Gateway.IsValid()
}

// Lookup returns the route the kernel would use to reach ip.
func Lookup(ip netip.Addr) (Route, error) {
	return lookup(ip.Unmap())
}

// Checker looks up routes for next-hops before they are probed.
type Checker struct{}

func (Checker) Lookup(ip netip.Addr) (Route, error) {
	return Lookup(ip)
}
