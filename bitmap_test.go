// Bitmap reducer tests.
//
// The reducers define query semantics at the edges: OR over nothing is the
// empty result, and AND over nothing is also empty — "no bitmap" means "no
// rows", never "all rows". Idempotence matters because the dispatcher may
// fold the same index bitmap in twice when two constraints land on one
// column.
package octavo

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

func bitmapOf(xs ...uint64) *roaring64.Bitmap {
	bm := roaring64.New()
	for _, x := range xs {
		bm.Add(x)
	}
	return bm
}

func assertBits(t *testing.T, bm *roaring64.Bitmap, want ...uint64) {
	t.Helper()
	if bm.GetCardinality() != uint64(len(want)) {
		t.Fatalf("cardinality = %d, want %d", bm.GetCardinality(), len(want))
	}
	for _, x := range want {
		if !bm.Contains(x) {
			t.Errorf("missing %d", x)
		}
	}
}

func TestReduceOrEmptyList(t *testing.T) {
	if got := reduceOr(nil); !got.IsEmpty() {
		t.Errorf("reduceOr(nil) has %d bits", got.GetCardinality())
	}
}

func TestReduceAndEmptyList(t *testing.T) {
	if got := reduceAnd(nil); !got.IsEmpty() {
		t.Errorf("reduceAnd(nil) has %d bits", got.GetCardinality())
	}
}

func TestReduceOrUnion(t *testing.T) {
	got := reduceOr([]*roaring64.Bitmap{bitmapOf(0, 2), bitmapOf(2, 5), bitmapOf(9)})
	assertBits(t, got, 0, 2, 5, 9)
}

func TestReduceAndIntersection(t *testing.T) {
	got := reduceAnd([]*roaring64.Bitmap{bitmapOf(0, 2, 5, 9), bitmapOf(2, 5), bitmapOf(2, 9)})
	assertBits(t, got, 2)
}

// TestReduceIdempotent verifies A∨A == A and A∧A == A.
func TestReduceIdempotent(t *testing.T) {
	a := bitmapOf(1, 4, 1<<40)
	assertBits(t, reduceOr([]*roaring64.Bitmap{a, a}), 1, 4, 1<<40)
	assertBits(t, reduceAnd([]*roaring64.Bitmap{a, a}), 1, 4, 1<<40)
}

// TestReduceDoesNotMutateInputs verifies the reducers clone: index bitmaps
// are shared with every other query.
func TestReduceDoesNotMutateInputs(t *testing.T) {
	a, b := bitmapOf(1, 2), bitmapOf(2, 3)
	reduceAnd([]*roaring64.Bitmap{a, b})
	reduceOr([]*roaring64.Bitmap{a, b})
	assertBits(t, a, 1, 2)
	assertBits(t, b, 2, 3)
}

// TestIteratorAscending verifies set bits come back in ascending order,
// which the cursor relies on for stable row ordering.
func TestIteratorAscending(t *testing.T) {
	bm := bitmapOf(7, 0, 1<<33, 42)
	it := bm.Iterator()
	prev := int64(-1)
	for it.HasNext() {
		x := it.Next()
		if int64(x) <= prev {
			t.Fatalf("iteration not ascending: %d after %d", x, prev)
		}
		prev = int64(x)
	}
}
