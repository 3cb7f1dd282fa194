//go:build !linux

package route

import (
	"errors"
	"fmt"
	"net/netip"
)

func lookup(ip netip.Addr) (Route, error) {
	return Route{}, fmt.Errorf("route lookup for %s: %w", ip, errors.ErrUnsupported)
}
