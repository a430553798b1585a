// Package octavo provides an embedded, append-only analytical document
// database.
//
// A process opens a database directory, defines typed collections backed by
// a columnar schema, appends immutable JSON documents, and queries them
// through SQL. Predicates are answered by in-memory indexes that yield
// row-ID bitmaps; projected columns are materialised from covering indexes
// or by reading the original document blob from a memory-mapped, optionally
// LZ4-compressed segment file.
//
// The SQL layer uses the mattn/go-sqlite3 virtual-table API, which is gated
// behind a build tag: build and test this module with -tags sqlite_vtable.
package octavo

import "errors"

// Sentinel errors returned by database operations.
var (
	// ErrInvalidArgument is returned for empty names, nil buffers with a
	// nonzero length, capacity smaller than length, unknown field paths and
	// values outside the range of their declared field type.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCollectionExists is returned when creating a collection whose name
	// is already present in the catalog.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrIndexExists is returned when a collection declares two indexes with
	// the same name.
	ErrIndexExists = errors.New("index already exists")

	// ErrCollectionNotFound is returned when inserting into or looking up
	// (Database.Collection) a collection the catalog does not know. A SQL
	// query naming an unknown collection fails with ErrSQL instead.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrMissingDatabaseFile is returned when opening with
	// CreateDBIfMissing=false and no catalog file is present.
	ErrMissingDatabaseFile = errors.New("missing database file")

	// ErrIndexOutOfBound is returned when a schema field is requested past
	// the root field count.
	ErrIndexOutOfBound = errors.New("field index out of bound")

	// ErrSchema is returned when schema text is rejected by the parser.
	ErrSchema = errors.New("invalid schema")

	// ErrSQL wraps any failure reported by the embedded SQL engine. The
	// message includes the engine's diagnostic text.
	ErrSQL = errors.New("sql error")

	// ErrCorruptedBlob is returned on varint overflow, version mismatch,
	// decompression failure, or a frame that runs past the recorded data
	// length of its segment.
	ErrCorruptedBlob = errors.New("corrupted blob")

	// ErrInvalidOperator is returned when an indexer is asked to evaluate an
	// operator it does not support. There is no full-text index in this
	// engine, so MATCH always fails with this error.
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrIO wraps mmap, open and allocation failures on segment files.
	ErrIO = errors.New("i/o error")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database is closed")
)
