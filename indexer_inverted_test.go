// Inverted-index tests.
//
// The inverted index's contract is set-theoretic: for any row, exactly one
// entry contains it unless the field was null. The scans must honour the
// null rules — the string index's empty key is storage, not data, and may
// never leak into a range result.
package octavo

import (
	"errors"
	"testing"
)

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := ParseSchema(SchemaTypeJSON, []byte(`{
		"name": "person",
		"fields": [
			{"name": "name", "type": "string"},
			{"name": "age", "type": "int32"},
			{"name": "score", "type": "int64"},
			{"name": "bio", "type": "record", "fields": [
				{"name": "city", "type": "string"}
			]}
		]
	}`))
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	return s
}

func mustDoc(t *testing.T, raw string) *Document {
	t.Helper()
	doc, err := NewDocument([]byte(raw))
	if err != nil {
		t.Fatalf("NewDocument(%s): %v", raw, err)
	}
	return doc
}

func newStringIndex(t *testing.T) Indexer {
	t.Helper()
	ix, err := newIndexer(IndexInfo{
		Name: "ix_name", Type: IndexTypeInvertedCompressedBitmap, ColumnPath: "name", Ascending: true,
	}, testSchema(t))
	if err != nil {
		t.Fatalf("newIndexer: %v", err)
	}
	return ix
}

func newIntInvertedIndex(t *testing.T) Indexer {
	t.Helper()
	ix, err := newIndexer(IndexInfo{
		Name: "ix_age", Type: IndexTypeInvertedCompressedBitmap, ColumnPath: "age", Ascending: true,
	}, testSchema(t))
	if err != nil {
		t.Fatalf("newIndexer: %v", err)
	}
	return ix
}

// TestInvertedStringFilter loads four names and checks equality, ordered
// scans and a half-open range.
func TestInvertedStringFilter(t *testing.T) {
	ix := newStringIndex(t)
	for i, raw := range []string{
		`{"name": "Alice"}`, `{"name": "Bob"}`, `{"name": "Alice"}`, `{"name": "Carol"}`,
	} {
		ix.insert(uint64(i), mustDoc(t, raw))
	}

	bm, err := ix.filter(StringConstraint(OpEqual, "Alice"))
	if err != nil {
		t.Fatalf("filter =: %v", err)
	}
	assertBits(t, bm, 0, 2)

	bm, err = ix.filter(StringConstraint(OpLessThan, "Carol"))
	if err != nil {
		t.Fatalf("filter <: %v", err)
	}
	assertBits(t, bm, 0, 1, 2)

	bm, err = ix.filterRange(
		StringConstraint(OpGreaterThanEqual, "A"),
		StringConstraint(OpLessThan, "C"))
	if err != nil {
		t.Fatalf("filterRange: %v", err)
	}
	assertBits(t, bm, 0, 1, 2)

	bm, err = ix.filter(StringConstraint(OpGreaterThan, "Alice"))
	if err != nil {
		t.Fatalf("filter >: %v", err)
	}
	assertBits(t, bm, 1, 3)
}

// TestInvertedStringNullElision verifies that rows without the field are
// stored under the empty key and never appear in scans, and that equality
// on the empty key is empty rather than "all null rows".
func TestInvertedStringNullElision(t *testing.T) {
	ix := newStringIndex(t)
	ix.insert(0, mustDoc(t, `{"name": "Alice"}`))
	ix.insert(1, mustDoc(t, `{"age": 7}`)) // name is null
	ix.insert(2, mustDoc(t, `{"name": "Bob"}`))

	bm, err := ix.filter(StringConstraint(OpGreaterThanEqual, ""))
	if err != nil {
		t.Fatalf("filter >=: %v", err)
	}
	assertBits(t, bm, 0, 2)

	bm, err = ix.filter(StringConstraint(OpEqual, ""))
	if err != nil {
		t.Fatalf("filter = \"\": %v", err)
	}
	if !bm.IsEmpty() {
		t.Errorf("equality on null key returned %d rows", bm.GetCardinality())
	}

	bm, err = ix.filterRange(
		StringConstraint(OpGreaterThanEqual, ""),
		StringConstraint(OpLessThanEqual, "Z"))
	if err != nil {
		t.Fatalf("filterRange: %v", err)
	}
	assertBits(t, bm, 0, 2)
}

// TestInvertedMatchRejected pins the operator contract: there is no
// full-text index, so MATCH surfaces ErrInvalidOperator.
func TestInvertedMatchRejected(t *testing.T) {
	ix := newStringIndex(t)
	if _, err := ix.filter(StringConstraint(OpMatch, "x")); !errors.Is(err, ErrInvalidOperator) {
		t.Fatalf("err = %v, want ErrInvalidOperator", err)
	}
}

// TestInvertedIntFilter checks integer dispatch, including the widening of
// int32 fields and double-operand narrowing.
func TestInvertedIntFilter(t *testing.T) {
	ix := newIntInvertedIndex(t)
	for i, age := range []string{"17", "42", "30", "65", "30"} {
		ix.insert(uint64(i), mustDoc(t, `{"age": `+age+`}`))
	}

	bm, err := ix.filter(IntConstraint(OpEqual, 30))
	if err != nil {
		t.Fatalf("filter =: %v", err)
	}
	assertBits(t, bm, 2, 4)

	// x > 30.5 over integers is x >= 31.
	bm, err = ix.filter(DoubleConstraint(OpGreaterThan, 30.5))
	if err != nil {
		t.Fatalf("filter > 30.5: %v", err)
	}
	assertBits(t, bm, 1, 3)

	// A fractional double can equal no integer.
	bm, err = ix.filter(DoubleConstraint(OpEqual, 30.5))
	if err != nil {
		t.Fatalf("filter = 30.5: %v", err)
	}
	if !bm.IsEmpty() {
		t.Errorf("fractional equality returned %d rows", bm.GetCardinality())
	}

	bm, err = ix.filterRange(
		IntConstraint(OpGreaterThanEqual, 20),
		IntConstraint(OpLessThanEqual, 60))
	if err != nil {
		t.Fatalf("filterRange: %v", err)
	}
	assertBits(t, bm, 1, 2, 4)
}

// TestInvertedIntNullOmitted verifies that null rows appear in no entry at
// all: an unbounded scan misses them.
func TestInvertedIntNullOmitted(t *testing.T) {
	ix := newIntInvertedIndex(t)
	ix.insert(0, mustDoc(t, `{"age": 1}`))
	ix.insert(1, mustDoc(t, `{"name": "no age"}`))
	ix.insert(2, mustDoc(t, `{"age": 2}`))

	bm, err := ix.filter(IntConstraint(OpGreaterThan, -1000))
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	assertBits(t, bm, 0, 2)
}

// TestInvertedDottedPath verifies extraction through a nested record.
func TestInvertedDottedPath(t *testing.T) {
	ix, err := newIndexer(IndexInfo{
		Name: "ix_city", Type: IndexTypeInvertedCompressedBitmap, ColumnPath: "bio.city", Ascending: true,
	}, testSchema(t))
	if err != nil {
		t.Fatalf("newIndexer: %v", err)
	}
	ix.insert(0, mustDoc(t, `{"bio": {"city": "Perth"}}`))
	ix.insert(1, mustDoc(t, `{"bio": {"city": "Sydney"}}`))

	bm, err := ix.filter(StringConstraint(OpEqual, "Perth"))
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	assertBits(t, bm, 0)
}
