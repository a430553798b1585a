// Reusable byte buffer with separate length and capacity.
//
// Blob reads decompress into caller-supplied buffers so that replay and
// query loops can reuse one allocation across frames. Length is the number
// of valid bytes; capacity is the size of the backing array. The two are
// kept distinct so a large buffer can carry a small blob without
// reallocating.
package octavo

import "fmt"

// Buffer holds blob bytes read from a segment.
type Buffer struct {
	data   []byte
	length int
}

// NewBuffer returns a buffer with the given capacity and zero length.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewBufferFrom wraps existing bytes. It fails when length exceeds
// capacity, or when data is nil but a nonzero size is claimed.
func NewBufferFrom(data []byte, length, capacity int) (*Buffer, error) {
	if length > capacity {
		return nil, fmt.Errorf("%w: buffer length %d exceeds capacity %d", ErrInvalidArgument, length, capacity)
	}
	if data == nil && capacity > 0 {
		return nil, fmt.Errorf("%w: nil buffer with capacity %d", ErrInvalidArgument, capacity)
	}
	if len(data) < capacity {
		grown := make([]byte, capacity)
		copy(grown, data)
		data = grown
	}
	return &Buffer{data: data[:capacity], length: length}, nil
}

// Len returns the number of valid bytes.
func (b *Buffer) Len() int { return b.length }

// Capacity returns the size of the backing array.
func (b *Buffer) Capacity() int { return len(b.data) }

// Bytes returns the valid portion of the buffer. The slice aliases the
// backing array and is invalidated by the next read into the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Resize grows the backing array to at least capacity. A smaller capacity
// keeps the existing backing array for reuse. Either way the length is
// reset to zero, discarding content.
func (b *Buffer) Resize(capacity int) {
	if capacity > len(b.data) {
		b.data = make([]byte, capacity)
	}
	b.length = 0
}

// setLength marks n bytes as valid. Callers write through writable() first.
func (b *Buffer) setLength(n int) error {
	if n > len(b.data) {
		return fmt.Errorf("%w: buffer length %d exceeds capacity %d", ErrInvalidArgument, n, len(b.data))
	}
	b.length = n
	return nil
}

// writable exposes the full backing array for decompression targets.
func (b *Buffer) writable() []byte { return b.data }
