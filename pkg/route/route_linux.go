//go:build linux

package route

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// fetchRoute asks the kernel for the route to ip with RTM_GETROUTE.
// Variable for mocking in tests.
var fetchRoute = func(ip netip.Addr) ([]rtnetlink.RouteMessage, error) {
	c, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	af := unix.AF_INET
	if ip.Is6() {
		af = unix.AF_INET6
	}

	return c.Route.Get(&rtnetlink.RouteMessage{
		Family:     uint8(af),
		DstLength:  uint8(ip.BitLen()),
		Table:      unix.RT_TABLE_MAIN,
		Attributes: rtnetlink.RouteAttributes{Dst: ip.AsSlice()},
	})
}

// interfaceByIndex is a variable for mocking in tests.
var interfaceByIndex = net.InterfaceByIndex

// toRoute converts the kernel answer into a Route, rejecting route types that
// would drop the probe.
func toRoute(ip netip.Addr, msgs []rtnetlink.RouteMessage) (Route, error) {
	if len(msgs) == 0 {
		return Route{}, fmt.Errorf("%w to %s", ErrNoRoute, ip)
	}
	m := msgs[0]

	switch m.Type {
	case unix.RTN_UNREACHABLE, unix.RTN_BLACKHOLE, unix.RTN_PROHIBIT, unix.RTN_THROW:
		return Route{}, fmt.Errorf("%w to %s: route type %d", ErrNoRoute, ip, m.Type)
	}

	r := Route{Destination: ip}
	if gw, ok := netip.AddrFromSlice(m.Attributes.Gateway); ok {
		r.Gateway = gw.Unmap()
	}
	if src, ok := netip.AddrFromSlice(m.Attributes.Src); ok {
		r.Source = src.Unmap()
	}

	intf, err := interfaceByIndex(int(m.Attributes.OutIface))
	if err != nil {
		return Route{}, fmt.Errorf("interface %d for %s: %w", m.Attributes.OutIface, ip, err)
	}
	if intf.Flags&net.FlagUp == 0 {
		return Route{}, fmt.Errorf("%w to %s: interface %s is down", ErrNoRoute, ip, intf.Name)
	}
	r.Interface = intf
	return r, nil
}

func lookup(ip netip.Addr) (Route, error) {
	msgs, err := fetchRoute(ip)
	if err != nil {
		if errors.Is(err, unix.ENETUNREACH) || errors.Is(err, unix.EHOSTUNREACH) {
			return Route{}, fmt.Errorf("%w to %s: %w", ErrNoRoute, ip, err)
		}
		return Route{}, fmt.Errorf("route lookup for %s: %w", ip, err)
	}
	return toRoute(ip, msgs)
}
