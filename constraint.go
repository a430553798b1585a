// Predicate normalization.
//
// A Constraint is the normalized shape of one pushed-down predicate:
// operator, operand type and operand value. Integer indexes answering a
// double operand narrow it by monotone rounding so the bitmap is exact for
// integral operands and a tight superset otherwise; the SQL executor
// re-checks every constraint row by row on materialized cells, so a
// superset is always safe.
package octavo

import "math"

// ConstraintOp enumerates the comparison operators the indexes evaluate.
type ConstraintOp int32

const (
	OpEqual ConstraintOp = iota + 1
	OpLessThan
	OpLessThanEqual
	OpGreaterThan
	OpGreaterThanEqual
	OpMatch
)

// OperandType tags the value union of a Constraint.
type OperandType int32

const (
	OperandInteger OperandType = iota + 1
	OperandDouble
	OperandString
)

// Constraint is one normalized predicate on an indexed column.
type Constraint struct {
	Op      ConstraintOp
	Operand OperandType
	Int     int64
	Double  float64
	Str     string
}

// IntConstraint builds an integer-operand constraint.
func IntConstraint(op ConstraintOp, v int64) Constraint {
	return Constraint{Op: op, Operand: OperandInteger, Int: v}
}

// DoubleConstraint builds a double-operand constraint.
func DoubleConstraint(op ConstraintOp, v float64) Constraint {
	return Constraint{Op: op, Operand: OperandDouble, Double: v}
}

// StringConstraint builds a string-operand constraint.
func StringConstraint(op ConstraintOp, v string) Constraint {
	return Constraint{Op: op, Operand: OperandString, Str: v}
}

// saturateInt64 converts a rounded double to int64, clamping at the type
// bounds so extreme operands cannot wrap.
func saturateInt64(f float64) int64 {
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}

// intEqual narrows an equality operand for an integer index. ok is false
// when no integer can satisfy it (fractional or non-numeric operand).
func intEqual(c Constraint) (int64, bool) {
	switch c.Operand {
	case OperandInteger:
		return c.Int, true
	case OperandDouble:
		if c.Double != math.Trunc(c.Double) {
			return 0, false
		}
		if c.Double >= math.MaxInt64 || c.Double < math.MinInt64 {
			return 0, false
		}
		return int64(c.Double), true
	default:
		return 0, false
	}
}

// intUpperBound narrows a <- or <=-family operand into (bound, inclusive)
// form for integer comparison. Both x < 1.7 and x <= 1.7 become x <= 1.
// ok is false for non-numeric operands.
func intUpperBound(c Constraint) (bound int64, inclusive, ok bool) {
	switch c.Operand {
	case OperandInteger:
		return c.Int, c.Op == OpLessThanEqual, true
	case OperandDouble:
		// x <= d and x < d (d fractional) both reduce to x <= floor(d);
		// x < d with d integral stays exclusive at d. An operand at or
		// past 2^63 is above every int64, so it becomes x <= MaxInt64.
		f := math.Floor(c.Double)
		if f >= math.MaxInt64 {
			return math.MaxInt64, true, true
		}
		if c.Op == OpLessThanEqual {
			return saturateInt64(f), true, true
		}
		return saturateInt64(f), c.Double != f, true
	default:
		return 0, false, false
	}
}

// intLowerBound narrows a >- or >=-family operand into (bound, inclusive)
// form. x > 1.3 becomes x >= 2; x >= 1.3 becomes x >= 2; x >= 2.0 stays
// x >= 2.
func intLowerBound(c Constraint) (bound int64, inclusive, ok bool) {
	switch c.Operand {
	case OperandInteger:
		return c.Int, c.Op == OpGreaterThanEqual, true
	case OperandDouble:
		// x >= d and x > d (d fractional) both reduce to x >= ceil(d);
		// x > d with d integral stays exclusive at d. An operand below
		// -2^63 is under every int64, so it becomes x >= MinInt64.
		f := math.Ceil(c.Double)
		if f < math.MinInt64 {
			return math.MinInt64, true, true
		}
		if c.Op == OpGreaterThanEqual {
			return saturateInt64(f), true, true
		}
		return saturateInt64(f), c.Double != f, true
	default:
		return 0, false, false
	}
}

// isLowerOp reports whether op bounds from below.
func isLowerOp(op ConstraintOp) bool {
	return op == OpGreaterThan || op == OpGreaterThanEqual
}

// isUpperOp reports whether op bounds from above.
func isUpperOp(op ConstraintOp) bool {
	return op == OpLessThan || op == OpLessThanEqual
}

// rangePair orders two constraints on one column into (lower, upper) when
// they form a range.
func rangePair(a, b Constraint) (lo, hi Constraint, ok bool) {
	switch {
	case isLowerOp(a.Op) && isUpperOp(b.Op):
		return a, b, true
	case isLowerOp(b.Op) && isUpperOp(a.Op):
		return b, a, true
	default:
		return Constraint{}, Constraint{}, false
	}
}
