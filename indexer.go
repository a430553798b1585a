// Index definitions and dispatch.
//
// Every index is declared at collection creation and populated on every
// subsequent insert. Indexer insert is infallible by contract: documents
// are validated against the schema before the blob lands on disk, so a
// failure inside an indexer means the in-memory index state no longer
// matches storage — a programming error that only a restart and replay
// can recover. Indexers panic rather than limp on.
package octavo

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	json "github.com/goccy/go-json"
)

// IndexType enumerates the supported index layouts.
type IndexType int32

const (
	// IndexTypeInvertedCompressedBitmap maps each distinct field value to a
	// compressed bitmap of the row IDs holding it.
	IndexTypeInvertedCompressedBitmap IndexType = 1

	// IndexTypeVector stores the field value of row i at slot i, supporting
	// covering scans and point lookups.
	IndexTypeVector IndexType = 2
)

// IndexInfo declares one index on a collection.
type IndexInfo struct {
	Name       string    `json:"name"`
	Type       IndexType `json:"type"`
	ColumnPath string    `json:"column"`
	Ascending  bool      `json:"ascending"`
}

// IndexStat describes a live index: its declaration and the schema type of
// the indexed column.
type IndexStat struct {
	Info      IndexInfo
	FieldType FieldType
}

// Indexer is the uniform interface of all index layouts. Bitmaps returned
// from filter calls are freshly owned by the caller.
type Indexer interface {
	// insert consumes the document for row ID rowID. rowID must equal the
	// number of rows already indexed.
	insert(rowID uint64, doc *Document)

	// filter evaluates one predicate into a row-ID bitmap.
	filter(c Constraint) (*roaring64.Bitmap, error)

	// filterRange evaluates a lower and upper bound pair in one pass.
	filterRange(lo, hi Constraint) (*roaring64.Bitmap, error)

	// tryGetInt answers a covering integer read, when this index covers
	// integers. ok is false for null rows and non-covering indexes.
	tryGetInt(rowID uint64) (int64, bool)

	// tryGetIntBatch bulk-reads covering integer values. Returns false when
	// any row is unknown or this index does not cover integers.
	tryGetIntBatch(rowIDs []uint64, out []int64) bool

	// tryGetString answers a covering string read.
	tryGetString(rowID uint64) (string, bool)

	// stats returns the index declaration and field type.
	stats() IndexStat
}

// noCovering provides the default covering-read answers for indexes that
// cannot serve them.
type noCovering struct{}

func (noCovering) tryGetInt(uint64) (int64, bool)        { return 0, false }
func (noCovering) tryGetIntBatch([]uint64, []int64) bool { return false }
func (noCovering) tryGetString(uint64) (string, bool)    { return "", false }

// newIndexer constructs the indexer for an index declaration against the
// collection schema.
func newIndexer(info IndexInfo, schema *Schema) (Indexer, error) {
	if info.Name == "" {
		return nil, fmt.Errorf("%w: index has empty name", ErrInvalidArgument)
	}
	if info.ColumnPath == "" {
		return nil, fmt.Errorf("%w: index %q has empty column path", ErrInvalidArgument, info.Name)
	}
	ft, err := schema.FieldType(info.ColumnPath)
	if err != nil {
		return nil, err
	}
	stat := IndexStat{Info: info, FieldType: ft}

	switch info.Type {
	case IndexTypeInvertedCompressedBitmap:
		switch {
		case ft == FieldTypeString:
			return newInvertedStringIndexer(stat), nil
		case ft.isInteger():
			return newInvertedIntIndexer(stat), nil
		}
	case IndexTypeVector:
		switch {
		case ft == FieldTypeString:
			return newVectorStringIndexer(stat), nil
		case ft == FieldTypeInt64:
			return newVectorIntIndexer[int64](stat), nil
		case ft.isInteger():
			// int8/int16/int32 share the 32-bit slot.
			return newVectorIntIndexer[int32](stat), nil
		}
	default:
		return nil, fmt.Errorf("%w: index %q has unknown type %d", ErrInvalidArgument, info.Name, info.Type)
	}
	return nil, fmt.Errorf("%w: index %q: field type %s cannot back index type %d",
		ErrInvalidArgument, info.Name, ft, info.Type)
}

// encodeIndexInfo serializes a declaration for the catalog's BinData
// column.
func encodeIndexInfo(info IndexInfo) ([]byte, error) {
	bin, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("%w: encode index %q: %v", ErrInvalidArgument, info.Name, err)
	}
	return bin, nil
}

func decodeIndexInfo(bin []byte) (IndexInfo, error) {
	var info IndexInfo
	if err := json.Unmarshal(bin, &info); err != nil {
		return IndexInfo{}, fmt.Errorf("%w: decode index definition: %v", ErrSchema, err)
	}
	return info, nil
}
