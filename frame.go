// Blob frame encoding.
//
// Every blob in a segment is stored as one frame:
//
//	byte 0        : verAndFlags (bits 7..4 = version, bit 0 = compressed)
//	bytes 1..     : uvarint blobSize          (uncompressed length)
//	[compressed]  : uvarint compSize          (stored length)
//	payload       : compSize bytes (LZ4 block) or blobSize raw bytes
//
// The varints are unsigned LEB128 exactly as produced by encoding/binary,
// capped at binary.MaxVarintLen64 (10) bytes. A varint that fails to
// terminate within the cap marks the frame as corrupt.
//
// Compression is LZ4 block format. One Compressor is kept per blob manager
// and reused under the write mutex: compression runs on every insert (hot
// path) while decompression runs only on reads and replay, so the encoder's
// hash-table state is worth keeping warm. A payload the block codec cannot
// shrink is written as a raw frame instead; the flag bit records the choice
// per frame, so readers never guess.
package octavo

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const frameVersion = 1

// frameHeader is the decoded form of a frame's prefix.
type frameHeader struct {
	version    uint8
	compressed bool
	blobSize   uint64
	compSize   uint64
}

// payloadSize returns the stored size of the frame's payload.
func (h *frameHeader) payloadSize() uint64 {
	if h.compressed {
		return h.compSize
	}
	return h.blobSize
}

// uvarintLen returns the encoded size of v without encoding it.
func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// frameHeaderSize returns the maximum header size for a blob of blobSize
// bytes. compBound is the LZ4 worst-case size, or -1 for raw frames. The
// actual compressed size never exceeds the bound, so its varint never
// exceeds the bound's varint and the estimate is safe for rotation checks.
func frameHeaderSize(blobSize uint64, compBound int64) int {
	n := 1 + uvarintLen(blobSize)
	if compBound >= 0 {
		n += uvarintLen(uint64(compBound))
	}
	return n
}

// appendFrameHeader encodes h onto dst and returns the extended slice.
func appendFrameHeader(dst []byte, h frameHeader) []byte {
	verAndFlags := byte(h.version << 4)
	if h.compressed {
		verAndFlags |= 1
	}
	dst = append(dst, verAndFlags)
	dst = binary.AppendUvarint(dst, h.blobSize)
	if h.compressed {
		dst = binary.AppendUvarint(dst, h.compSize)
	}
	return dst
}

// readFrameHeader decodes a frame header from b. It returns the header and
// the number of bytes consumed.
func readFrameHeader(b []byte) (frameHeader, int, error) {
	var h frameHeader
	if len(b) == 0 {
		return h, 0, fmt.Errorf("%w: empty frame", ErrCorruptedBlob)
	}
	h.version = b[0] >> 4
	h.compressed = b[0]&1 == 1
	if h.version != frameVersion {
		return h, 0, fmt.Errorf("%w: frame version %d, want %d", ErrCorruptedBlob, h.version, frameVersion)
	}
	pos := 1

	size, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return h, 0, fmt.Errorf("%w: blob size varint does not terminate", ErrCorruptedBlob)
	}
	h.blobSize = size
	pos += n

	if h.compressed {
		size, n = binary.Uvarint(b[pos:])
		if n <= 0 {
			return h, 0, fmt.Errorf("%w: compressed size varint does not terminate", ErrCorruptedBlob)
		}
		h.compSize = size
		pos += n
	}
	return h, pos, nil
}

// decompressFrame expands a compressed payload into buf, which must have
// capacity for h.blobSize bytes.
func decompressFrame(h *frameHeader, payload []byte, buf *Buffer) error {
	n, err := lz4.UncompressBlock(payload, buf.writable()[:h.blobSize])
	if err != nil {
		return fmt.Errorf("%w: lz4: %v", ErrCorruptedBlob, err)
	}
	if uint64(n) != h.blobSize {
		return fmt.Errorf("%w: decompressed %d bytes, header says %d", ErrCorruptedBlob, n, h.blobSize)
	}
	return buf.setLength(n)
}
