package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// Layout of the next-hop table written by bgpd. The header fields are in host
// byte order, the entries are big-endian. Both are fixed by the external writer.
const (
	LockSize   = 40 // pthread_mutex_t placeholder, owned by the writer
	HeaderSize = LockSize + 12
	EntrySize  = 24
	MaxEntries = 1024
	RegionSize = HeaderSize + MaxEntries*EntrySize

	countOffset    = LockSize
	sequenceOffset = LockSize + 4

	// LatencyUnmeasured marks an entry without a valid measurement.
	LatencyUnmeasured uint32 = 0xFFFFFFFF
)

var (
	ErrIndexOutOfRange = errors.New("next-hop index out of range")
	ErrShortBuffer     = errors.New("buffer smaller than next-hop table")
)

// Entry is a single next-hop slot.
type Entry struct {
	Address     netip.Addr
	Active      bool
	Measured    bool
	LatencyMs   uint32
	LastUpdated uint64
}

// EncodeEntry writes e into b using the 24 byte wire layout:
// address(4) | active(1) | measured(1) | reserved(2) | latency(4) | last_updated(8).
func EncodeEntry(b []byte, e Entry) {
	_ = b[EntrySize-1]
	addr := e.Address.As4()
	copy(b[0:4], addr[:])
	b[4] = boolByte(e.Active)
	b[5] = boolByte(e.Measured)
	b[6], b[7] = 0, 0
	binary.BigEndian.PutUint32(b[8:12], e.LatencyMs)
	binary.BigEndian.PutUint64(b[12:24], e.LastUpdated)
}

// DecodeEntry reads an entry from the first 24 bytes of b.
func DecodeEntry(b []byte) Entry {
	_ = b[EntrySize-1]
	return Entry{
		Address:     netip.AddrFrom4([4]byte(b[0:4])),
		Active:      b[4] != 0,
		Measured:    b[5] != 0,
		LatencyMs:   binary.BigEndian.Uint32(b[8:12]),
		LastUpdated: binary.BigEndian.Uint64(b[12:24]),
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Table is a view over the shared next-hop table.
//
// The header is only ever read through header, and writes only go through
// slot, which indexes into entries. The lock bytes at the start of the region
// are therefore unreachable from every write path.
type Table struct {
	header  []byte
	entries []byte
	now     func() time.Time
}

type TableOption func(*Table)

// WithClock overrides the clock used for the last_updated field.
func WithClock(now func() time.Time) TableOption {
	return func(t *Table) {
		t.now = now
	}
}

// NewTable returns a table view over buf, which must hold at least RegionSize bytes.
func NewTable(buf []byte, opts ...TableOption) (*Table, error) {
	if len(buf) < RegionSize {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrShortBuffer, len(buf), RegionSize)
	}
	t := &Table{
		header:  buf[:HeaderSize:HeaderSize],
		entries: buf[HeaderSize:RegionSize:RegionSize],
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Count returns the number of valid entries, clamped to MaxEntries.
func (t *Table) Count() uint32 {
	n := binary.NativeEndian.Uint32(t.header[countOffset : countOffset+4])
	if n > MaxEntries {
		return MaxEntries
	}
	return n
}

// Sequence returns the writer's advisory change counter.
func (t *Table) Sequence() uint32 {
	return binary.NativeEndian.Uint32(t.header[sequenceOffset : sequenceOffset+4])
}

func (t *Table) slot(index int) ([]byte, error) {
	if index < 0 || index >= int(t.Count()) {
		return nil, fmt.Errorf("%w: %d (count %d)", ErrIndexOutOfRange, index, t.Count())
	}
	off := index * EntrySize
	return t.entries[off : off+EntrySize : off+EntrySize], nil
}

// ReadEntry decodes the entry at index.
func (t *Table) ReadEntry(index int) (Entry, error) {
	s, err := t.slot(index)
	if err != nil {
		return Entry{}, err
	}
	return DecodeEntry(s), nil
}

// WriteLatency records a successful measurement. Address and active flag are
// re-read from the slot so concurrent writer changes to them are kept, and
// last_updated is set to the current unix time in seconds.
func (t *Table) WriteLatency(index int, latencyMs uint32) error {
	return t.update(index, func(e *Entry) {
		e.Measured = true
		e.LatencyMs = latencyMs
		e.LastUpdated = uint64(t.now().Unix())
	})
}

// MarkFailed flags the entry as unmeasured. last_updated is left as it was.
func (t *Table) MarkFailed(index int) error {
	return t.update(index, func(e *Entry) {
		e.Measured = false
		e.LatencyMs = LatencyUnmeasured
	})
}

// update encodes the full record into a local buffer and copies it into the
// slot in one go, so a record is never left half written between calls.
func (t *Table) update(index int, fn func(*Entry)) error {
	s, err := t.slot(index)
	if err != nil {
		return err
	}
	e := DecodeEntry(s)
	fn(&e)
	var rec [EntrySize]byte
	EncodeEntry(rec[:], e)
	copy(s, rec[:])
	return nil
}
