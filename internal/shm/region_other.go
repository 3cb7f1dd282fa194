//go:build !(linux || darwin || freebsd)

package shm

import (
	"errors"
	"fmt"
)

type Region struct {
	*Table
}

func OpenRegion(path string, opts ...TableOption) (*Region, error) {
	return nil, fmt.Errorf("open %s: %w", path, errors.ErrUnsupported)
}

func (r *Region) Path() string {
	return ""
}

func (r *Region) Close() error {
	return nil
}
