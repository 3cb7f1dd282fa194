//go:build linux || darwin || freebsd

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// Region is a mapped next-hop table. The region is created and sized by the
// external writer; Region only maps what is already there.
type Region struct {
	*Table

	path   string
	file   *os.File
	data   []byte
	closed bool
}

// OpenRegion opens and maps an existing next-hop table read-write.
func OpenRegion(path string, opts ...TableOption) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrRegionNotFound, path, err)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() < RegionSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, need %d", ErrRegionTooSmall, path, fi.Size(), RegionSize)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	t, err := NewTable(data, opts...)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	slog.Debug("Mapped next-hop table", "path", path, "size", RegionSize, "count", t.Count())
	return &Region{Table: t, path: path, file: f, data: data}, nil
}

// Path returns the path the region was opened from.
func (r *Region) Path() string {
	return r.path
}

// Close unmaps the region and closes the descriptor. Calling it again is a no-op.
func (r *Region) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.Table = nil
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
