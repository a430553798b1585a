// Memory-mapped segment files.
//
// Segments are mapped whole: writers map the preallocated file read-write
// and copy frames in at the current write offset; readers map sealed
// segments read-only. A mapping is reference-counted so the LRU cache can
// drop its slot while a read is still in flight — the bytes stay mapped
// until the last holder releases, and only then are the mapping and file
// handle torn down.
package octavo

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
)

// mapping is a shared view of one segment file.
type mapping struct {
	fileKey uint32
	f       *os.File
	data    mmap.MMap
	refs    atomic.Int64
}

// openWriterMapping creates or opens a segment file, preallocates it to
// size bytes, and maps it read-write. The returned mapping holds one
// reference owned by the caller.
func openWriterMapping(path string, fileKey uint32, size int64) (*mapping, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open segment %s: %v", ErrIO, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat segment %s: %v", ErrIO, path, err)
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: allocate segment %s: %v", ErrIO, path, err)
		}
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: map segment %s: %v", ErrIO, path, err)
	}
	m := &mapping{fileKey: fileKey, f: f, data: data}
	m.refs.Store(1)
	return m, nil
}

// openReaderMapping maps an existing segment file read-only. The returned
// mapping holds one reference owned by the caller.
func openReaderMapping(path string, fileKey uint32) (*mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open segment %s: %v", ErrIO, path, err)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: map segment %s: %v", ErrIO, path, err)
	}
	m := &mapping{fileKey: fileKey, f: f, data: data}
	m.refs.Store(1)
	return m, nil
}

// retain adds a reference. The caller must pair it with release.
func (m *mapping) retain() {
	m.refs.Add(1)
}

// release drops a reference. The last release unmaps and closes the file.
func (m *mapping) release() {
	if m.refs.Add(-1) == 0 {
		m.data.Unmap()
		m.f.Close()
	}
}

// flush forces mapped pages to disk.
func (m *mapping) flush() error {
	if err := m.data.Flush(); err != nil {
		return fmt.Errorf("%w: flush segment %d: %v", ErrIO, m.fileKey, err)
	}
	return nil
}
