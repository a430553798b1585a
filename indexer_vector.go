// Positional vector indexes.
//
// A dense array where slot i holds the field value of row i, so the slot
// count always equals the collection's row count. Filters are linear scans
// that emit matching positions into a bitmap; covering reads answer
// projections without touching the document blob. Narrow integer fields
// (int8/int16/int32) share an int32 slot; int64 fields get an int64 slot.
// Comparisons happen in int64 regardless of slot width, with bounds
// carried as explicit (value, inclusive) pairs — there is no ±1
// conversion that could wrap at the extremes of the integer range.
//
// Null rows keep their slot (a zero value) and are tracked in a side
// bitmap that every scan skips and every covering read reports as absent.
package octavo

import "github.com/RoaringBitmap/roaring/v2/roaring64"

type intSlot interface {
	~int32 | ~int64
}

// vectorIntIndexer stores integer fields positionally in slot type T.
type vectorIntIndexer[T intSlot] struct {
	noCovering
	stat   IndexStat
	values []T
	nulls  *roaring64.Bitmap
}

func newVectorIntIndexer[T intSlot](stat IndexStat) *vectorIntIndexer[T] {
	return &vectorIntIndexer[T]{stat: stat, nulls: roaring64.New()}
}

func (ix *vectorIntIndexer[T]) stats() IndexStat { return ix.stat }

func (ix *vectorIntIndexer[T]) insert(rowID uint64, doc *Document) {
	if rowID != uint64(len(ix.values)) {
		panic("octavo: vector index row out of order")
	}
	v, present, err := doc.Int(ix.stat.Info.ColumnPath)
	if err != nil {
		panic("octavo: unvalidated document reached vector index " + ix.stat.Info.Name + ": " + err.Error())
	}
	if !present {
		ix.nulls.Add(rowID)
		ix.values = append(ix.values, 0)
		return
	}
	lo, hi := ix.stat.FieldType.intRange()
	if v < lo || v > hi {
		panic("octavo: unvalidated value overflows vector index " + ix.stat.Info.Name)
	}
	ix.values = append(ix.values, T(v))
}

func (ix *vectorIntIndexer[T]) filter(c Constraint) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	switch c.Op {
	case OpEqual:
		v, ok := intEqual(c)
		if !ok {
			return out, nil
		}
		ix.scan(out, func(x int64) bool { return x == v })
	case OpLessThan, OpLessThanEqual:
		bound, inclusive, ok := intUpperBound(c)
		if !ok {
			return out, nil
		}
		ix.scan(out, func(x int64) bool { return x < bound || (inclusive && x == bound) })
	case OpGreaterThan, OpGreaterThanEqual:
		bound, inclusive, ok := intLowerBound(c)
		if !ok {
			return out, nil
		}
		ix.scan(out, func(x int64) bool { return x > bound || (inclusive && x == bound) })
	default:
		return nil, invalidOperator(c.Op, ix.stat.Info.Name)
	}
	return out, nil
}

func (ix *vectorIntIndexer[T]) filterRange(lo, hi Constraint) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	loBound, loInclusive, loOK := intLowerBound(lo)
	hiBound, hiInclusive, hiOK := intUpperBound(hi)
	if !loOK || !hiOK {
		return out, nil
	}
	ix.scan(out, func(x int64) bool {
		if x < loBound || (x == loBound && !loInclusive) {
			return false
		}
		if x > hiBound || (x == hiBound && !hiInclusive) {
			return false
		}
		return true
	})
	return out, nil
}

// scan runs one linear pass, adding matching non-null positions in
// ascending order.
func (ix *vectorIntIndexer[T]) scan(out *roaring64.Bitmap, match func(int64) bool) {
	for i, v := range ix.values {
		rowID := uint64(i)
		if ix.nulls.Contains(rowID) {
			continue
		}
		if match(int64(v)) {
			out.Add(rowID)
		}
	}
}

func (ix *vectorIntIndexer[T]) tryGetInt(rowID uint64) (int64, bool) {
	if rowID >= uint64(len(ix.values)) || ix.nulls.Contains(rowID) {
		return 0, false
	}
	return int64(ix.values[rowID]), true
}

func (ix *vectorIntIndexer[T]) tryGetIntBatch(rowIDs []uint64, out []int64) bool {
	for i, id := range rowIDs {
		v, ok := ix.tryGetInt(id)
		if !ok {
			return false
		}
		out[i] = v
	}
	return true
}

// vectorStringIndexer stores string fields positionally.
type vectorStringIndexer struct {
	noCovering
	stat   IndexStat
	values []string
	nulls  *roaring64.Bitmap
}

func newVectorStringIndexer(stat IndexStat) *vectorStringIndexer {
	return &vectorStringIndexer{stat: stat, nulls: roaring64.New()}
}

func (ix *vectorStringIndexer) stats() IndexStat { return ix.stat }

func (ix *vectorStringIndexer) insert(rowID uint64, doc *Document) {
	if rowID != uint64(len(ix.values)) {
		panic("octavo: vector index row out of order")
	}
	v, present, err := doc.String(ix.stat.Info.ColumnPath)
	if err != nil {
		panic("octavo: unvalidated document reached vector index " + ix.stat.Info.Name + ": " + err.Error())
	}
	if !present {
		ix.nulls.Add(rowID)
		ix.values = append(ix.values, "")
		return
	}
	ix.values = append(ix.values, v)
}

func (ix *vectorStringIndexer) filter(c Constraint) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	if c.Operand != OperandString {
		return out, nil
	}
	switch c.Op {
	case OpEqual:
		ix.scan(out, func(x string) bool { return x == c.Str })
	case OpLessThan:
		ix.scan(out, func(x string) bool { return x < c.Str })
	case OpLessThanEqual:
		ix.scan(out, func(x string) bool { return x <= c.Str })
	case OpGreaterThan:
		ix.scan(out, func(x string) bool { return x > c.Str })
	case OpGreaterThanEqual:
		ix.scan(out, func(x string) bool { return x >= c.Str })
	default:
		return nil, invalidOperator(c.Op, ix.stat.Info.Name)
	}
	return out, nil
}

func (ix *vectorStringIndexer) filterRange(lo, hi Constraint) (*roaring64.Bitmap, error) {
	out := roaring64.New()
	if lo.Operand != OperandString || hi.Operand != OperandString {
		return out, nil
	}
	loInclusive := lo.Op == OpGreaterThanEqual
	hiInclusive := hi.Op == OpLessThanEqual
	ix.scan(out, func(x string) bool {
		if x < lo.Str || (x == lo.Str && !loInclusive) {
			return false
		}
		if x > hi.Str || (x == hi.Str && !hiInclusive) {
			return false
		}
		return true
	})
	return out, nil
}

func (ix *vectorStringIndexer) scan(out *roaring64.Bitmap, match func(string) bool) {
	for i, v := range ix.values {
		rowID := uint64(i)
		if ix.nulls.Contains(rowID) {
			continue
		}
		if match(v) {
			out.Add(rowID)
		}
	}
}

func (ix *vectorStringIndexer) tryGetString(rowID uint64) (string, bool) {
	if rowID >= uint64(len(ix.values)) || ix.nulls.Contains(rowID) {
		return "", false
	}
	return ix.values[rowID], true
}
