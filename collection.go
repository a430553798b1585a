// Document collections.
//
// A collection owns its write path end to end: one mutex serializes
// inserts, which append the document blob, feed every indexer in
// declaration order, and only then advance the row-ID counter. Row IDs are
// dense and monotonic — the k-th successful insert is row k — which is
// what lets the vector indexes stay positional and the bitmap indexes
// append cheaply.
//
// Indexes are not persisted. At open, every segment is replayed in
// file-key order and each blob is fed through the indexers exactly as at
// original insert time. A blob that reached disk without its index updates
// (a crash between the two) therefore becomes visible after restart.
package octavo

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"
)

const replayBatchSize = 64

// Collection is a named, typed container of immutable documents.
type Collection struct {
	name     string
	schema   *Schema
	compress bool
	log      *zap.Logger

	blobs    *blobManager
	indexers []Indexer

	// mu is the collection's write mutex: one writer at a time runs the
	// append-then-index sequence, so indexer updates happen in blob write
	// order and row IDs stay dense. Index scans never take it.
	mu        sync.Mutex
	nextRowID uint64
	rowLocs   []BlobMetadata // dense rowID -> blob address
}

func newCollection(meta collectionMeta, cat *catalog, opts *Options) (*Collection, error) {
	schema, err := ParseSchema(meta.SchemaType, meta.Schema)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", meta.Name, err)
	}

	indexers := make([]Indexer, 0, len(meta.Indexes))
	for _, info := range meta.Indexes {
		ix, err := newIndexer(info, schema)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", meta.Name, err)
		}
		indexers = append(indexers, ix)
	}

	blobs, err := newBlobManager(cat, meta.Name, opts)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		name:     meta.Name,
		schema:   schema,
		compress: opts.Compress,
		log:      opts.Logger,
		blobs:    blobs,
		indexers: indexers,
	}
	if err := c.replay(meta.Files); err != nil {
		blobs.close()
		return nil, err
	}
	return c, nil
}

func (c *Collection) close() {
	c.blobs.close()
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Schema returns the collection's parsed schema.
func (c *Collection) Schema() *Schema { return c.schema }

// IndexStats reports the declaration and field type of every live index.
func (c *Collection) IndexStats() []IndexStat {
	stats := make([]IndexStat, len(c.indexers))
	for i, ix := range c.indexers {
		stats[i] = ix.stats()
	}
	return stats
}

// insert validates, appends and indexes one document.
func (c *Collection) insert(doc *Document) error {
	if err := doc.validate(c.schema); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.blobs.put(doc.Bytes(), c.compress)
	if err != nil {
		return err
	}
	c.index(doc, meta)
	return nil
}

// multiInsert batches documents under one lock acquisition and one flush
// per touched segment.
func (c *Collection) multiInsert(docs []*Document) error {
	blobs := make([][]byte, len(docs))
	for i, doc := range docs {
		if err := doc.validate(c.schema); err != nil {
			return err
		}
		blobs[i] = doc.Bytes()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	metas, err := c.blobs.multiPut(blobs, c.compress)
	if err != nil {
		return err
	}
	for i, doc := range docs {
		c.index(doc, metas[i])
	}
	return nil
}

// index feeds one stored document through every indexer and commits its
// row ID. Indexer order matches blob write order, keeping row IDs dense.
func (c *Collection) index(doc *Document, meta BlobMetadata) {
	rowID := c.nextRowID
	for _, ix := range c.indexers {
		ix.insert(rowID, doc)
	}
	c.rowLocs = append(c.rowLocs, meta)
	c.nextRowID = rowID + 1
}

// replay rebuilds the in-memory index state by iterating every sealed and
// active segment in file-key order.
func (c *Collection) replay(files []FileInfo) error {
	bufs := make([]*Buffer, replayBatchSize)
	metas := make([]BlobMetadata, replayBatchSize)
	for i := range bufs {
		bufs[i] = NewBuffer(0)
	}

	for _, info := range files {
		if info.DataLength == 0 {
			continue
		}
		it, err := newBlobIterator(info)
		if err != nil {
			return fmt.Errorf("collection %q: %w", c.name, err)
		}
		rows := uint64(0)
		for {
			n, err := it.nextBatch(bufs, metas)
			if err != nil {
				it.close()
				return fmt.Errorf("collection %q replay: %w", c.name, err)
			}
			if n == 0 {
				break
			}
			for i := range n {
				doc, err := NewDocument(append([]byte(nil), bufs[i].Bytes()...))
				if err != nil {
					it.close()
					return fmt.Errorf("collection %q replay at segment %d offset %d: %w",
						c.name, metas[i].FileKey, metas[i].Offset, err)
				}
				c.index(doc, metas[i])
				rows++
			}
		}
		it.close()
		c.log.Info("replayed segment",
			zap.String("collection", c.name),
			zap.Uint32("fileKey", info.FileKey),
			zap.Uint64("rows", rows))
	}
	return nil
}

// rowCount returns the number of indexed rows.
func (c *Collection) rowCount() uint64 { return c.nextRowID }

// allRows returns a bitmap of every row ID, for scans with no usable
// index constraint.
func (c *Collection) allRows() *roaring64.Bitmap {
	bm := roaring64.New()
	if c.nextRowID > 0 {
		bm.AddRange(0, c.nextRowID)
	}
	return bm
}

// indexerFor returns the first declared indexer on a column path, which is
// the one filter dispatch uses.
func (c *Collection) indexerFor(path string) Indexer {
	for _, ix := range c.indexers {
		if ix.stats().Info.ColumnPath == path {
			return ix
		}
	}
	return nil
}

// vectorIndexerFor returns a covering vector indexer on a column path, if
// one was declared.
func (c *Collection) vectorIndexerFor(path string) Indexer {
	for _, ix := range c.indexers {
		if s := ix.stats(); s.Info.ColumnPath == path && s.Info.Type == IndexTypeVector {
			return ix
		}
	}
	return nil
}

// filterColumn answers all constraints pushed down on one column. Two
// constraints forming a range become one ordered traversal; anything else
// is evaluated constraint by constraint and intersected.
func (c *Collection) filterColumn(path string, cs []Constraint) (*roaring64.Bitmap, error) {
	ix := c.indexerFor(path)
	if ix == nil {
		return nil, fmt.Errorf("%w: no index on column %q", ErrInvalidArgument, path)
	}

	if len(cs) == 2 {
		if lo, hi, ok := rangePair(cs[0], cs[1]); ok {
			return ix.filterRange(lo, hi)
		}
	}

	bitmaps := make([]*roaring64.Bitmap, 0, len(cs))
	for _, con := range cs {
		bm, err := ix.filter(con)
		if err != nil {
			return nil, err
		}
		bitmaps = append(bitmaps, bm)
	}
	return reduceAnd(bitmaps), nil
}

// blobAt returns the stored address of a row.
func (c *Collection) blobAt(rowID uint64) (BlobMetadata, error) {
	if rowID >= uint64(len(c.rowLocs)) {
		return BlobMetadata{}, fmt.Errorf("%w: row %d of %d", ErrInvalidArgument, rowID, len(c.rowLocs))
	}
	return c.rowLocs[rowID], nil
}

// fetchDocument reads a row's blob into buf and parses it.
func (c *Collection) fetchDocument(rowID uint64, buf *Buffer) (*Document, error) {
	meta, err := c.blobAt(rowID)
	if err != nil {
		return nil, err
	}
	if err := c.blobs.get(meta, buf); err != nil {
		return nil, err
	}
	return NewDocument(append([]byte(nil), buf.Bytes()...))
}

// unmapIdleReaders sheds idle reader mappings; the active writer mapping
// survives.
func (c *Collection) unmapIdleReaders() {
	c.blobs.unmapIdleReaders()
}
