// Row-ID bitmap algebra.
//
// Indexers answer predicates with compressed bitmaps of row IDs
// (roaring64). Bitmaps published by an indexer are immutable: boolean
// composition always clones before mutating, so filter results can be
// shared across queries and threads without locking. The reducers fold
// left-to-right; their empty-list values encode query semantics, not set
// theory — an AND over nothing is the empty bitmap, never "all rows". A
// scan that no index constrains is answered from Collection.allRows and
// does not go through reduceAnd.
package octavo

import "github.com/RoaringBitmap/roaring/v2/roaring64"

// reduceOr returns the union of bitmaps. An empty list yields an empty
// bitmap.
func reduceOr(bitmaps []*roaring64.Bitmap) *roaring64.Bitmap {
	out := roaring64.New()
	for _, bm := range bitmaps {
		out.Or(bm)
	}
	return out
}

// reduceAnd returns the intersection of bitmaps. An empty list yields an
// empty bitmap: no bitmap means no rows match.
func reduceAnd(bitmaps []*roaring64.Bitmap) *roaring64.Bitmap {
	if len(bitmaps) == 0 {
		return roaring64.New()
	}
	out := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		out.And(bm)
	}
	return out
}
