// Inverted compressed-bitmap indexes.
//
// An ordered map from field value to a bitmap of the row IDs holding that
// value. Inserts arrive in row-ID order, so each bitmap only ever appends
// monotonically increasing keys — the cheap path for run-length encoded
// sets. Range operators walk the ordered keys and union the bitmaps they
// pass.
//
// Null handling differs by key type. A string index stores missing fields
// under the distinguished empty key, which every scan elides; equality on
// the empty key therefore returns the empty bitmap. An integer index has
// no value to spare, so null rows are simply omitted from every entry.
package octavo

import (
	"cmp"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/google/btree"
)

const invertedTreeDegree = 16

type invEntry[K cmp.Ordered] struct {
	key  K
	bits *roaring64.Bitmap
}

// invTree is the shared ordered-map core of both inverted indexers. The
// isNull hook marks keys that scans must elide; nil means no key is null.
type invTree[K cmp.Ordered] struct {
	tree   *btree.BTreeG[invEntry[K]]
	isNull func(K) bool
}

func newInvTree[K cmp.Ordered](isNull func(K) bool) *invTree[K] {
	less := func(a, b invEntry[K]) bool { return a.key < b.key }
	return &invTree[K]{tree: btree.NewG(invertedTreeDegree, less), isNull: isNull}
}

func (t *invTree[K]) null(k K) bool {
	return t.isNull != nil && t.isNull(k)
}

// add records rowID under key, creating the entry on first sight.
func (t *invTree[K]) add(key K, rowID uint64) {
	entry, ok := t.tree.Get(invEntry[K]{key: key})
	if !ok {
		entry = invEntry[K]{key: key, bits: roaring64.New()}
		t.tree.ReplaceOrInsert(entry)
	}
	entry.bits.Add(rowID)
}

// eq returns the bitmaps for a point lookup: one for a present non-null
// key, none otherwise.
func (t *invTree[K]) eq(key K) []*roaring64.Bitmap {
	entry, ok := t.tree.Get(invEntry[K]{key: key})
	if !ok || t.null(entry.key) {
		return nil
	}
	return []*roaring64.Bitmap{entry.bits}
}

// below collects bitmaps for keys under bound, walking ascending and
// stopping at the first key that violates it.
func (t *invTree[K]) below(bound K, inclusive bool) []*roaring64.Bitmap {
	var out []*roaring64.Bitmap
	t.tree.Ascend(func(e invEntry[K]) bool {
		if e.key > bound || (e.key == bound && !inclusive) {
			return false
		}
		if !t.null(e.key) {
			out = append(out, e.bits)
		}
		return true
	})
	return out
}

// above collects bitmaps for keys over bound, starting the walk at the
// bound's position.
func (t *invTree[K]) above(bound K, inclusive bool) []*roaring64.Bitmap {
	var out []*roaring64.Bitmap
	t.tree.AscendGreaterOrEqual(invEntry[K]{key: bound}, func(e invEntry[K]) bool {
		if e.key == bound && !inclusive {
			return true
		}
		if !t.null(e.key) {
			out = append(out, e.bits)
		}
		return true
	})
	return out
}

// between collects bitmaps in one ordered traversal from the lower bound,
// stopping at the first key past the upper bound.
func (t *invTree[K]) between(lo K, loInclusive bool, hi K, hiInclusive bool) []*roaring64.Bitmap {
	var out []*roaring64.Bitmap
	t.tree.AscendGreaterOrEqual(invEntry[K]{key: lo}, func(e invEntry[K]) bool {
		if e.key == lo && !loInclusive {
			return true
		}
		if e.key > hi || (e.key == hi && !hiInclusive) {
			return false
		}
		if !t.null(e.key) {
			out = append(out, e.bits)
		}
		return true
	})
	return out
}

// invertedStringIndexer keys the tree by string value.
type invertedStringIndexer struct {
	noCovering
	stat IndexStat
	tree *invTree[string]
}

func newInvertedStringIndexer(stat IndexStat) *invertedStringIndexer {
	return &invertedStringIndexer{
		stat: stat,
		tree: newInvTree(func(s string) bool { return s == "" }),
	}
}

func (ix *invertedStringIndexer) stats() IndexStat { return ix.stat }

func (ix *invertedStringIndexer) insert(rowID uint64, doc *Document) {
	v, present, err := doc.String(ix.stat.Info.ColumnPath)
	if err != nil {
		panic("octavo: unvalidated document reached string index " + ix.stat.Info.Name + ": " + err.Error())
	}
	if !present {
		v = "" // the distinguished null key
	}
	ix.tree.add(v, rowID)
}

func (ix *invertedStringIndexer) filter(c Constraint) (*roaring64.Bitmap, error) {
	if c.Operand != OperandString {
		return roaring64.New(), nil
	}
	switch c.Op {
	case OpEqual:
		return reduceOr(ix.tree.eq(c.Str)), nil
	case OpLessThan:
		return reduceOr(ix.tree.below(c.Str, false)), nil
	case OpLessThanEqual:
		return reduceOr(ix.tree.below(c.Str, true)), nil
	case OpGreaterThan:
		return reduceOr(ix.tree.above(c.Str, false)), nil
	case OpGreaterThanEqual:
		return reduceOr(ix.tree.above(c.Str, true)), nil
	default:
		return nil, invalidOperator(c.Op, ix.stat.Info.Name)
	}
}

func (ix *invertedStringIndexer) filterRange(lo, hi Constraint) (*roaring64.Bitmap, error) {
	if lo.Operand != OperandString || hi.Operand != OperandString {
		return roaring64.New(), nil
	}
	return reduceOr(ix.tree.between(
		lo.Str, lo.Op == OpGreaterThanEqual,
		hi.Str, hi.Op == OpLessThanEqual)), nil
}

// invertedIntIndexer keys the tree by int64. Narrower field types widen on
// extraction; double operands are narrowed by monotone rounding.
type invertedIntIndexer struct {
	noCovering
	stat IndexStat
	tree *invTree[int64]
}

func newInvertedIntIndexer(stat IndexStat) *invertedIntIndexer {
	return &invertedIntIndexer{stat: stat, tree: newInvTree[int64](nil)}
}

func (ix *invertedIntIndexer) stats() IndexStat { return ix.stat }

func (ix *invertedIntIndexer) insert(rowID uint64, doc *Document) {
	v, present, err := doc.Int(ix.stat.Info.ColumnPath)
	if err != nil {
		panic("octavo: unvalidated document reached integer index " + ix.stat.Info.Name + ": " + err.Error())
	}
	if !present {
		return // null rows are omitted from every entry
	}
	ix.tree.add(v, rowID)
}

func (ix *invertedIntIndexer) filter(c Constraint) (*roaring64.Bitmap, error) {
	switch c.Op {
	case OpEqual:
		v, ok := intEqual(c)
		if !ok {
			return roaring64.New(), nil
		}
		return reduceOr(ix.tree.eq(v)), nil
	case OpLessThan, OpLessThanEqual:
		bound, inclusive, ok := intUpperBound(c)
		if !ok {
			return roaring64.New(), nil
		}
		return reduceOr(ix.tree.below(bound, inclusive)), nil
	case OpGreaterThan, OpGreaterThanEqual:
		bound, inclusive, ok := intLowerBound(c)
		if !ok {
			return roaring64.New(), nil
		}
		return reduceOr(ix.tree.above(bound, inclusive)), nil
	default:
		return nil, invalidOperator(c.Op, ix.stat.Info.Name)
	}
}

func (ix *invertedIntIndexer) filterRange(lo, hi Constraint) (*roaring64.Bitmap, error) {
	loBound, loInclusive, loOK := intLowerBound(lo)
	hiBound, hiInclusive, hiOK := intUpperBound(hi)
	if !loOK || !hiOK {
		return roaring64.New(), nil
	}
	return reduceOr(ix.tree.between(loBound, loInclusive, hiBound, hiInclusive)), nil
}

func invalidOperator(op ConstraintOp, index string) error {
	return fmt.Errorf("%w: operator %d on index %q", ErrInvalidOperator, op, index)
}
