//go:build !(linux || darwin || freebsd)

package reflector

import "syscall"

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
