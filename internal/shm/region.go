package shm

import "errors"

// DefaultPath is where shm_open("/bgp_twamp_shm") places the table on Linux.
const DefaultPath = "/dev/shm/bgp_twamp_shm"

var (
	ErrRegionNotFound = errors.New("shared memory region not found")
	ErrRegionTooSmall = errors.New("shared memory region too small")
)

// RemediationHint is printed alongside ErrRegionNotFound.
const RemediationHint = "make sure bgpd has created the shared memory; enable it with: bgp import check-latency"
