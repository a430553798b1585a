// End-to-end database tests.
//
// These go through the public API only: open, create a collection, insert
// JSON, query through SQL. The SQL layer is where every subsystem meets —
// pushdown builds constraints, indexes answer bitmaps, the cursor
// materialises cells from covering indexes or blob fetches — so a wrong
// answer here implicates the whole pipeline, and the per-subsystem tests
// exist to narrow it down.
package octavo

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "testdb"), DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createPeople(t *testing.T, db *Database) {
	t.Helper()
	err := db.CreateCollection("people", SchemaTypeJSON, []byte(personSchemaText), []IndexInfo{
		{Name: "ix_name", Type: IndexTypeInvertedCompressedBitmap, ColumnPath: "name", Ascending: true},
		{Name: "vx_age", Type: IndexTypeVector, ColumnPath: "age", Ascending: true},
	})
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	for _, raw := range []string{
		`{"name": "Alice", "age": 17, "score": 100}`,
		`{"name": "Bob", "age": 42, "score": 250}`,
		`{"name": "Alice", "age": 30}`,
		`{"name": "Carol", "age": 65, "score": 50}`,
		`{"name": "Dave", "age": 30, "bio": {"city": "Perth"}}`,
	} {
		if err := db.Insert("people", []byte(raw)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
}

// queryInts drains a single-column integer query.
func queryInts(t *testing.T, db *Database, query string) []int64 {
	t.Helper()
	rs, err := db.Execute(query)
	if err != nil {
		t.Fatalf("Execute(%s): %v", query, err)
	}
	defer rs.Close()

	var out []int64
	for rs.Next() {
		v, err := rs.GetInt(0)
		if err != nil {
			t.Fatalf("GetInt: %v", err)
		}
		out = append(out, v)
	}
	if rs.Err() != nil {
		t.Fatalf("rows: %v", rs.Err())
	}
	return out
}

func TestQueryCount(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	got := queryInts(t, db, `SELECT COUNT(*) FROM people`)
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("COUNT(*) = %v, want [5]", got)
	}
}

// TestQueryEquality verifies an inverted-index pushdown and the _id
// column.
func TestQueryEquality(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	got := queryInts(t, db, `SELECT "_id" FROM people WHERE "name" = 'Alice' ORDER BY "_id"`)
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("_id rows = %v, want [0 2]", got)
	}
}

// TestQueryRange verifies two bounds on one column collapse into a range
// probe and the exact row set comes back.
func TestQueryRange(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	got := queryInts(t, db, `SELECT "_id" FROM people WHERE "age" >= 20 AND "age" <= 60 ORDER BY "_id"`)
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 4 {
		t.Fatalf("rows = %v, want [1 2 4]", got)
	}
}

// TestQueryDoubleOperand verifies the engine's exact re-check on top of
// the index's rounded bitmap: age > 30.5 must exclude the two 30s.
func TestQueryDoubleOperand(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	got := queryInts(t, db, `SELECT "_id" FROM people WHERE "age" > 30.5 ORDER BY "_id"`)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("rows = %v, want [1 3]", got)
	}

	if got := queryInts(t, db, `SELECT "_id" FROM people WHERE "age" = 30.5`); len(got) != 0 {
		t.Fatalf("rows = %v, want none", got)
	}
}

// TestQueryProjection verifies mixed materialisation on one row: a
// covering vector read (age), a blob fetch (score), and null handling for
// a field the document lacks.
func TestQueryProjection(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	rs, err := db.Execute(`SELECT "name", "age", "score", "bio.city" FROM people WHERE "name" = 'Dave'`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer rs.Close()

	if !rs.Next() {
		t.Fatalf("no rows: %v", rs.Err())
	}
	if v, _ := rs.GetString(0); v != "Dave" {
		t.Errorf("name = %q", v)
	}
	if v, _ := rs.GetInt(1); v != 30 {
		t.Errorf("age = %d", v)
	}
	if null, _ := rs.IsNull(2); !null {
		t.Error("score should be null for Dave")
	}
	if v, _ := rs.GetString(3); v != "Perth" {
		t.Errorf("bio.city = %q", v)
	}

	if i, err := rs.ColumnIndex("age"); err != nil || i != 1 {
		t.Errorf("ColumnIndex(age) = %d, %v", i, err)
	}
	if label, err := rs.ColumnLabel(0); err != nil || label != "name" {
		t.Errorf("ColumnLabel(0) = %q, %v", label, err)
	}
	if rs.Next() {
		t.Error("more than one Dave")
	}
}

// TestQueryUnindexedColumn verifies a WHERE on a column with no index
// still answers correctly via full scan plus engine-side filtering.
func TestQueryUnindexedColumn(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	got := queryInts(t, db, `SELECT "_id" FROM people WHERE "score" > 80 ORDER BY "_id"`)
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("rows = %v, want [0 1]", got)
	}
}

// TestReopenReplay closes the database and reopens it, checking a query
// answers identically after indexes are rebuilt from the segments.
func TestReopenReplay(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "replaydb")
	db, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	createPeople(t, db)

	before := queryInts(t, db, `SELECT COUNT(*) FROM people WHERE "age" > 20`)
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	after := queryInts(t, db2, `SELECT COUNT(*) FROM people WHERE "age" > 20`)
	if len(after) != 1 || after[0] != before[0] {
		t.Fatalf("count after reopen = %v, want %v", after, before)
	}
}

func TestOpenMissingDatabase(t *testing.T) {
	opts := DefaultOptions()
	opts.CreateDBIfMissing = false
	_, err := Open(filepath.Join(t.TempDir(), "absent"), opts)
	if !errors.Is(err, ErrMissingDatabaseFile) {
		t.Fatalf("err = %v, want ErrMissingDatabaseFile", err)
	}
}

func TestCreateCollectionDuplicate(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	err := db.CreateCollection("people", SchemaTypeJSON, []byte(personSchemaText), nil)
	if !errors.Is(err, ErrCollectionExists) {
		t.Fatalf("err = %v, want ErrCollectionExists", err)
	}
}

func TestCreateCollectionBadIndex(t *testing.T) {
	db := openTestDB(t)

	err := db.CreateCollection("broken", SchemaTypeJSON, []byte(personSchemaText), []IndexInfo{
		{Name: "ix", Type: IndexTypeInvertedCompressedBitmap, ColumnPath: "no.such.field", Ascending: true},
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	// The failed declaration must leave nothing behind.
	if _, err := db.Collection("broken"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("Collection after failure: err = %v", err)
	}
}

func TestInsertUnknownCollection(t *testing.T) {
	db := openTestDB(t)
	if err := db.Insert("ghost", []byte(`{}`)); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("err = %v, want ErrCollectionNotFound", err)
	}
}

// TestMultiInsertThroughAPI verifies the batched write path end to end.
func TestMultiInsertThroughAPI(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)

	err := db.MultiInsert("people", [][]byte{
		[]byte(`{"name": "Erin", "age": 22}`),
		[]byte(`{"name": "Frank", "age": 23}`),
	})
	if err != nil {
		t.Fatalf("MultiInsert: %v", err)
	}

	got := queryInts(t, db, `SELECT COUNT(*) FROM people`)
	if got[0] != 7 {
		t.Fatalf("COUNT(*) = %d, want 7", got[0])
	}
}

// TestReleaseIdleMappings just exercises the pressure hook through the
// public surface; the eviction mechanics are covered in the cache tests.
func TestReleaseIdleMappings(t *testing.T) {
	db := openTestDB(t)
	createPeople(t, db)
	db.ReleaseIdleMappings()

	got := queryInts(t, db, `SELECT COUNT(*) FROM people`)
	if got[0] != 5 {
		t.Fatalf("COUNT(*) = %d after release", got[0])
	}
}
