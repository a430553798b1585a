// Constraint narrowing tests.
//
// Double operands against integer columns are narrowed by monotone
// rounding into (bound, inclusive) pairs. The pairs must be exact — the
// indexers compare with them directly — and must not wrap at the int64
// extremes, which is why there is no ±1 arithmetic to test around.
package octavo

import (
	"math"
	"testing"
)

func TestIntEqual(t *testing.T) {
	if v, ok := intEqual(IntConstraint(OpEqual, 30)); !ok || v != 30 {
		t.Errorf("int 30: v=%d ok=%v", v, ok)
	}
	if v, ok := intEqual(DoubleConstraint(OpEqual, 30.0)); !ok || v != 30 {
		t.Errorf("double 30.0: v=%d ok=%v", v, ok)
	}
	// No integer equals a fractional double.
	if _, ok := intEqual(DoubleConstraint(OpEqual, 30.5)); ok {
		t.Error("double 30.5: ok = true")
	}
	if _, ok := intEqual(StringConstraint(OpEqual, "30")); ok {
		t.Error("string operand: ok = true")
	}
}

func TestIntUpperBound(t *testing.T) {
	cases := []struct {
		c         Constraint
		bound     int64
		inclusive bool
	}{
		{IntConstraint(OpLessThan, 5), 5, false},
		{IntConstraint(OpLessThanEqual, 5), 5, true},
		// x < 1.7 and x <= 1.7 both mean x <= 1 over the integers.
		{DoubleConstraint(OpLessThan, 1.7), 1, true},
		{DoubleConstraint(OpLessThanEqual, 1.7), 1, true},
		// An integral double keeps its exclusivity.
		{DoubleConstraint(OpLessThan, 2.0), 2, false},
		{DoubleConstraint(OpLessThanEqual, 2.0), 2, true},
	}
	for _, tc := range cases {
		bound, inclusive, ok := intUpperBound(tc.c)
		if !ok || bound != tc.bound || inclusive != tc.inclusive {
			t.Errorf("%+v: bound=%d inclusive=%v ok=%v, want %d/%v",
				tc.c, bound, inclusive, ok, tc.bound, tc.inclusive)
		}
	}
}

func TestIntLowerBound(t *testing.T) {
	cases := []struct {
		c         Constraint
		bound     int64
		inclusive bool
	}{
		{IntConstraint(OpGreaterThan, 5), 5, false},
		{IntConstraint(OpGreaterThanEqual, 5), 5, true},
		// x > 30.5 means x >= 31.
		{DoubleConstraint(OpGreaterThan, 30.5), 31, true},
		{DoubleConstraint(OpGreaterThanEqual, 30.5), 31, true},
		{DoubleConstraint(OpGreaterThan, 2.0), 2, false},
		{DoubleConstraint(OpGreaterThanEqual, 2.0), 2, true},
	}
	for _, tc := range cases {
		bound, inclusive, ok := intLowerBound(tc.c)
		if !ok || bound != tc.bound || inclusive != tc.inclusive {
			t.Errorf("%+v: bound=%d inclusive=%v ok=%v, want %d/%v",
				tc.c, bound, inclusive, ok, tc.bound, tc.inclusive)
		}
	}
}

// TestBoundsSaturateAtExtremes verifies that operands beyond the int64
// range clamp instead of wrapping, and clamp inclusive: every int64 is
// below 1e30, MaxInt64 included.
func TestBoundsSaturateAtExtremes(t *testing.T) {
	bound, inclusive, ok := intUpperBound(DoubleConstraint(OpLessThan, 1e30))
	if !ok || bound != math.MaxInt64 || !inclusive {
		t.Errorf("huge upper: bound=%d inclusive=%v ok=%v", bound, inclusive, ok)
	}
	bound, inclusive, ok = intLowerBound(DoubleConstraint(OpGreaterThan, -1e30))
	if !ok || bound != math.MinInt64 || !inclusive {
		t.Errorf("huge lower: bound=%d inclusive=%v ok=%v", bound, inclusive, ok)
	}
}

// TestIntBoundsAtInt64Extremes verifies that integer operands at the very
// ends of the range pass through untouched — the indexers carry the
// inclusivity flag instead of shifting the value.
func TestIntBoundsAtInt64Extremes(t *testing.T) {
	bound, inclusive, ok := intLowerBound(IntConstraint(OpGreaterThanEqual, math.MinInt64))
	if !ok || bound != math.MinInt64 || !inclusive {
		t.Errorf("MinInt64 >=: bound=%d inclusive=%v", bound, inclusive)
	}
	bound, inclusive, ok = intUpperBound(IntConstraint(OpLessThanEqual, math.MaxInt64))
	if !ok || bound != math.MaxInt64 || !inclusive {
		t.Errorf("MaxInt64 <=: bound=%d inclusive=%v", bound, inclusive)
	}
}

func TestRangePair(t *testing.T) {
	lo := IntConstraint(OpGreaterThanEqual, 20)
	hi := IntConstraint(OpLessThanEqual, 60)

	gotLo, gotHi, ok := rangePair(hi, lo)
	if !ok || gotLo != lo || gotHi != hi {
		t.Errorf("rangePair reorder failed: %+v %+v %v", gotLo, gotHi, ok)
	}

	// Two bounds on the same side are not a range.
	if _, _, ok := rangePair(lo, IntConstraint(OpGreaterThan, 30)); ok {
		t.Error("two lower bounds accepted as range")
	}
	if _, _, ok := rangePair(IntConstraint(OpEqual, 1), hi); ok {
		t.Error("equality accepted as range bound")
	}
}
