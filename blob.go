// Blob storage.
//
// Each collection owns one blob manager: a segmented, memory-mapped,
// append-only log of framed blobs addressed by (fileKey, offset). One
// mutex serializes all writers; the active segment's write offset is only
// touched under it. A write that fails after reserving space rolls the
// offset back before the error surfaces, so a partial frame is never
// observable — the next put overwrites the torn bytes.
//
// Readers share sealed-segment mappings through the LRU cache. A reader
// that misses opens the mapping itself and offers it to the cache; the
// payload is always copied (or decompressed) out of the mapping before the
// reference is released, so eviction can never pull bytes out from under a
// caller.
package octavo

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"
)

type blobManager struct {
	mu          sync.Mutex
	collection  string
	maxFileSize int64
	synchronous bool
	cat         *catalog
	log         *zap.Logger

	active      *mapping // write mutex guards active and writeOffset
	activeInfo  FileInfo
	writeOffset int64

	readers     *readerCache
	memoryLimit int64

	comp    lz4.Compressor // reused under the write mutex
	scratch []byte         // compression target, grown on demand
	hdr     []byte         // header scratch, reused per frame
}

func newBlobManager(cat *catalog, collection string, opts *Options) (*blobManager, error) {
	info, err := cat.currentDataFile(collection, true)
	if err != nil {
		return nil, err
	}

	active, err := openWriterMapping(info.Path, info.FileKey, opts.MaxDataFileSize)
	if err != nil {
		return nil, err
	}

	b := &blobManager{
		collection:  collection,
		maxFileSize: opts.MaxDataFileSize,
		synchronous: opts.Synchronous,
		cat:         cat,
		log:         opts.Logger,
		active:      active,
		activeInfo:  info,
		writeOffset: info.DataLength,
		readers:     newReaderCache(opts.ReaderCacheSize),
		memoryLimit: opts.MemoryCleanupThreshold,
	}
	b.readers.add(info.FileKey, active, false)
	return b, nil
}

func (b *blobManager) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readers.drain()
	if b.active != nil {
		b.active.release()
		b.active = nil
	}
}

// put appends one framed blob to the active segment, rotating first when
// the frame would not fit, and returns its address.
func (b *blobManager) put(blob []byte, compress bool) (BlobMetadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureRoom(int64(len(blob)), compress); err != nil {
		return BlobMetadata{}, err
	}

	start := b.writeOffset
	meta, _, err := b.writeFrame(blob, compress)
	if err != nil {
		b.writeOffset = start
		return BlobMetadata{}, err
	}
	if err := b.flush(); err != nil {
		b.writeOffset = start
		return BlobMetadata{}, err
	}

	if err := b.recordLength(); err != nil {
		return BlobMetadata{}, err
	}
	return meta, nil
}

// multiPut appends a batch under one lock acquisition. If rotation is
// needed mid-batch, frames already written to the current segment are
// flushed before the switch; a failure resets the active segment to the
// batch's base offset, so each segment holds either all of its share of
// the batch or none of it.
func (b *blobManager) multiPut(blobs [][]byte, compress bool) ([]BlobMetadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	metas := make([]BlobMetadata, len(blobs))
	base := b.writeOffset

	for i, blob := range blobs {
		need := b.frameBound(int64(len(blob)), compress)
		if need > b.maxFileSize {
			b.writeOffset = base
			return nil, fmt.Errorf("%w: blob of %d bytes cannot fit in a segment of %d bytes",
				ErrInvalidArgument, len(blob), b.maxFileSize)
		}
		if b.writeOffset+need > b.maxFileSize {
			if err := b.flush(); err != nil {
				b.writeOffset = base
				return nil, err
			}
			if err := b.rotate(); err != nil {
				b.writeOffset = base
				return nil, err
			}
			base = b.writeOffset
		}

		meta, _, err := b.writeFrame(blob, compress)
		if err != nil {
			b.writeOffset = base
			return nil, err
		}
		metas[i] = meta
	}

	if err := b.flush(); err != nil {
		b.writeOffset = base
		return nil, err
	}
	if err := b.recordLength(); err != nil {
		return nil, err
	}
	return metas, nil
}

// get reads the blob at meta into buf, growing buf as needed.
func (b *blobManager) get(meta BlobMetadata, buf *Buffer) error {
	m, err := b.readerMapping(meta.FileKey)
	if err != nil {
		return err
	}
	defer m.release()

	data := m.data
	if meta.Offset < 0 || meta.Offset >= int64(len(data)) {
		return fmt.Errorf("%w: offset %d past end of segment %d", ErrCorruptedBlob, meta.Offset, meta.FileKey)
	}

	h, n, err := readFrameHeader(data[meta.Offset:])
	if err != nil {
		return fmt.Errorf("segment %d offset %d: %w", meta.FileKey, meta.Offset, err)
	}
	payload := data[meta.Offset+int64(n):]
	if uint64(len(payload)) < h.payloadSize() {
		return fmt.Errorf("%w: frame at offset %d runs past end of segment %d", ErrCorruptedBlob, meta.Offset, meta.FileKey)
	}
	payload = payload[:h.payloadSize()]

	if buf.Capacity() < int(h.blobSize) {
		buf.Resize(int(h.blobSize))
	}
	if h.compressed {
		return decompressFrame(&h, payload, buf)
	}
	copy(buf.writable(), payload)
	return buf.setLength(int(h.blobSize))
}

// unmapIdleReaders evicts idle reader mappings down to the cache capacity.
// The active writer mapping is non-evictable and survives.
func (b *blobManager) unmapIdleReaders() {
	b.readers.performEviction()
}

// readerMapping returns a retained mapping for fileKey, opening and caching
// it on a miss.
func (b *blobManager) readerMapping(fileKey uint32) (*mapping, error) {
	if m := b.readers.find(fileKey); m != nil {
		return m, nil
	}

	info, err := b.cat.dataFile(b.collection, fileKey)
	if err != nil {
		return nil, err
	}
	m, err := openReaderMapping(info.Path, fileKey)
	if err != nil {
		return nil, err
	}
	canonical := b.readers.add(fileKey, m, true)
	if canonical != m {
		m.release()
		m = canonical
	}

	// Mapped bytes are bounded by the cache population; crossing the
	// configured threshold sheds idle mappings early.
	if int64(b.readers.len())*b.maxFileSize > b.memoryLimit {
		b.log.Debug("memory threshold crossed, evicting reader mappings",
			zap.String("collection", b.collection))
		b.readers.performEviction()
	}
	return m, nil
}

// ensureRoom rotates to a fresh segment when a frame of the given payload
// size would overflow the active one.
func (b *blobManager) ensureRoom(blobLen int64, compress bool) error {
	need := b.frameBound(blobLen, compress)
	if need > b.maxFileSize {
		return fmt.Errorf("%w: blob of %d bytes cannot fit in a segment of %d bytes",
			ErrInvalidArgument, blobLen, b.maxFileSize)
	}
	if b.writeOffset+need > b.maxFileSize {
		return b.rotate()
	}
	return nil
}

// frameBound returns the worst-case frame size for a blob.
func (b *blobManager) frameBound(blobLen int64, compress bool) int64 {
	if compress {
		bound := int64(lz4.CompressBlockBound(int(blobLen)))
		return int64(frameHeaderSize(uint64(blobLen), bound)) + bound
	}
	return int64(frameHeaderSize(uint64(blobLen), -1)) + blobLen
}

// rotate seals the active segment and switches writes to the next one. The
// sealed segment's mapping becomes evictable; its final data length lands
// in the catalog.
func (b *blobManager) rotate() error {
	next, err := b.cat.nextDataFile(b.collection, b.activeInfo)
	if err != nil {
		return err
	}
	active, err := openWriterMapping(next.Path, next.FileKey, b.maxFileSize)
	if err != nil {
		return err
	}

	if err := b.cat.updateDataFileLength(b.collection, b.activeInfo.FileKey, b.writeOffset); err != nil {
		active.release()
		return err
	}

	b.readers.setEvictable(b.activeInfo.FileKey, true)
	b.active.release()

	b.log.Info("rotated to new segment",
		zap.String("collection", b.collection),
		zap.Uint32("sealed", b.activeInfo.FileKey),
		zap.Uint32("active", next.FileKey))

	b.active = active
	b.activeInfo = next
	b.writeOffset = 0
	b.readers.add(next.FileKey, active, false)
	return nil
}

// writeFrame encodes one frame at the current write offset and advances it.
func (b *blobManager) writeFrame(blob []byte, compress bool) (BlobMetadata, int64, error) {
	start := b.writeOffset
	h := frameHeader{version: frameVersion, blobSize: uint64(len(blob))}
	payload := blob

	if compress {
		bound := lz4.CompressBlockBound(len(blob))
		if cap(b.scratch) < bound {
			b.scratch = make([]byte, bound)
		}
		n, err := b.comp.CompressBlock(blob, b.scratch[:bound])
		if err != nil {
			return BlobMetadata{}, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// n == 0 means incompressible; store the frame raw instead.
		if n > 0 && n < len(blob) {
			h.compressed = true
			h.compSize = uint64(n)
			payload = b.scratch[:n]
		}
	}

	b.hdr = appendFrameHeader(b.hdr[:0], h)
	written := int64(len(b.hdr)) + int64(len(payload))
	if start+written > int64(len(b.active.data)) {
		return BlobMetadata{}, 0, fmt.Errorf("%w: frame overruns segment %d", ErrInvalidArgument, b.activeInfo.FileKey)
	}

	copy(b.active.data[start:], b.hdr)
	copy(b.active.data[start+int64(len(b.hdr)):], payload)
	b.writeOffset = start + written

	return BlobMetadata{FileKey: b.activeInfo.FileKey, Offset: start}, written, nil
}

func (b *blobManager) flush() error {
	if !b.synchronous {
		return nil
	}
	return b.active.flush()
}

func (b *blobManager) recordLength() error {
	return b.cat.updateDataFileLength(b.collection, b.activeInfo.FileKey, b.writeOffset)
}

// blobIterator walks a segment's frames sequentially over a private
// read-only mapping. Used at startup to rebuild indexes by replaying
// segments in file-key order.
type blobIterator struct {
	info   FileInfo
	m      *mapping
	offset int64
}

func newBlobIterator(info FileInfo) (*blobIterator, error) {
	m, err := openReaderMapping(info.Path, info.FileKey)
	if err != nil {
		return nil, err
	}
	return &blobIterator{info: info, m: m}, nil
}

func (it *blobIterator) close() {
	it.m.release()
}

// nextBatch fills up to len(bufs) buffers with consecutive blobs and their
// addresses, returning how many were produced. Zero means the segment's
// recorded data length has been reached.
func (it *blobIterator) nextBatch(bufs []*Buffer, metas []BlobMetadata) (int, error) {
	data := it.m.data
	produced := 0

	for i := range bufs {
		if it.offset >= it.info.DataLength {
			break
		}
		if it.offset >= int64(len(data)) {
			return produced, fmt.Errorf("%w: data length %d past end of segment %d",
				ErrCorruptedBlob, it.info.DataLength, it.info.FileKey)
		}

		h, n, err := readFrameHeader(data[it.offset:])
		if err != nil {
			return produced, fmt.Errorf("segment %d offset %d: %w", it.info.FileKey, it.offset, err)
		}
		frameEnd := it.offset + int64(n) + int64(h.payloadSize())
		if frameEnd > it.info.DataLength || frameEnd > int64(len(data)) {
			return produced, fmt.Errorf("%w: frame at offset %d runs past recorded data length of segment %d",
				ErrCorruptedBlob, it.offset, it.info.FileKey)
		}

		payload := data[it.offset+int64(n) : frameEnd]
		buf := bufs[i]
		if buf.Capacity() < int(h.blobSize) {
			// Replay reuses these buffers; doubling amortises growth.
			buf.Resize(int(h.blobSize) * 2)
		}
		if h.compressed {
			if err := decompressFrame(&h, payload, buf); err != nil {
				return produced, fmt.Errorf("segment %d offset %d: %w", it.info.FileKey, it.offset, err)
			}
		} else {
			copy(buf.writable(), payload)
			if err := buf.setLength(int(h.blobSize)); err != nil {
				return produced, err
			}
		}

		metas[i] = BlobMetadata{FileKey: it.info.FileKey, Offset: it.offset}
		it.offset = frameEnd
		produced++
	}
	return produced, nil
}
