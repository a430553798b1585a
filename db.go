// Database lifecycle and public API.
//
// A Database is one directory: the SQLite catalog (<name>.dat) plus one
// set of segment files per collection. Opening loads the catalog, verifies
// each collection's schema fingerprint, and replays every segment to
// rebuild the in-memory indexes.
//
// Queries run on the catalog's SQLite handle. The database registers a
// private driver whose connect hook installs the collection module on
// every new connection; Execute then pins one connection, declares the
// virtual tables in its temp schema, and hands the connection to the
// ResultSet for the cursor's lifetime.
package octavo

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// driverSeq distinguishes the driver each Database registers; database/sql
// has no way to unregister, so names must never collide.
var driverSeq atomic.Int64

// Database is an open octavo database.
type Database struct {
	dir    string
	name   string
	opts   *Options
	log    *zap.Logger
	cat    *catalog
	closed atomic.Bool

	mu          sync.RWMutex
	collections map[string]*Collection
}

// Open opens (or, by default, creates) the database at path. The directory
// name is the database name: its catalog lives at <path>/<base>.dat.
func Open(path string, opts *Options) (*Database, error) {
	opts = opts.normalize()
	dir := filepath.Clean(path)
	name := filepath.Base(dir)
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: database path %q", ErrInvalidArgument, path)
	}

	db := &Database{
		dir:         dir,
		name:        name,
		opts:        opts,
		log:         opts.Logger,
		collections: make(map[string]*Collection),
	}

	driverName := fmt.Sprintf("octavo-sqlite3-%d", driverSeq.Add(1))
	module := &collectionModule{db: db}
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.CreateModule("octavo_collection", module)
		},
	})

	cat, err := openCatalog(driverName, dir, name, opts.CreateDBIfMissing)
	if err != nil {
		return nil, err
	}
	db.cat = cat

	metas, err := cat.loadAll()
	if err != nil {
		cat.close()
		return nil, err
	}
	for _, meta := range metas {
		fp, err := fingerprint(meta.Schema, opts.FingerprintAlgorithm)
		if err != nil {
			db.teardown()
			return nil, err
		}
		if meta.Fingerprint != "" && meta.Fingerprint != fp {
			db.teardown()
			return nil, fmt.Errorf("%w: schema fingerprint mismatch for collection %q", ErrSchema, meta.Name)
		}
		coll, err := newCollection(meta, cat, opts)
		if err != nil {
			db.teardown()
			return nil, err
		}
		db.collections[meta.Name] = coll
	}

	db.log.Info("database opened",
		zap.String("path", dir),
		zap.Int("collections", len(db.collections)))
	return db, nil
}

func (db *Database) teardown() {
	for _, coll := range db.collections {
		coll.close()
	}
	db.cat.close()
}

// Close releases every mapping and the catalog connection.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, coll := range db.collections {
		coll.close()
	}
	db.log.Info("database closed", zap.String("path", db.dir))
	return db.cat.close()
}

// CreateCollection declares a typed collection with its indexes. The
// catalog mutation is transactional: a duplicate collection or index name
// rolls everything back.
func (db *Database) CreateCollection(name string, schemaType SchemaType, schemaText []byte, indexes []IndexInfo) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if name == "" {
		return fmt.Errorf("%w: empty collection name", ErrInvalidArgument)
	}
	if strings.ContainsAny(name, `"./\`) {
		return fmt.Errorf("%w: collection name %q", ErrInvalidArgument, name)
	}

	schema, err := ParseSchema(schemaType, schemaText)
	if err != nil {
		return err
	}
	// Fail on bad index declarations before the catalog sees anything.
	for _, info := range indexes {
		if _, err := newIndexer(info, schema); err != nil {
			return err
		}
	}

	fp, err := fingerprint(schemaText, db.opts.FingerprintAlgorithm)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.collections[name]; exists {
		return fmt.Errorf("%w: %q", ErrCollectionExists, name)
	}

	if err := db.cat.addCollection(name, schemaType, schemaText, fp, indexes); err != nil {
		return err
	}

	coll, err := newCollection(collectionMeta{
		Name:        name,
		SchemaType:  schemaType,
		Schema:      schemaText,
		Fingerprint: fp,
		Indexes:     indexes,
	}, db.cat, db.opts)
	if err != nil {
		return err
	}
	db.collections[name] = coll

	db.log.Info("collection created",
		zap.String("collection", name),
		zap.Int("indexes", len(indexes)))
	return nil
}

// Collection returns a live collection by name.
func (db *Database) Collection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	coll, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, name)
	}
	return coll, nil
}

// Insert appends one JSON document to a collection and indexes it.
func (db *Database) Insert(collection string, document []byte) error {
	if db.closed.Load() {
		return ErrClosed
	}
	coll, err := db.Collection(collection)
	if err != nil {
		return err
	}
	doc, err := NewDocument(document)
	if err != nil {
		return err
	}
	return coll.insert(doc)
}

// MultiInsert appends a batch of JSON documents under one lock and one
// flush per touched segment.
func (db *Database) MultiInsert(collection string, documents [][]byte) error {
	if db.closed.Load() {
		return ErrClosed
	}
	coll, err := db.Collection(collection)
	if err != nil {
		return err
	}
	docs := make([]*Document, len(documents))
	for i, raw := range documents {
		doc, err := NewDocument(raw)
		if err != nil {
			return err
		}
		docs[i] = doc
	}
	return coll.multiInsert(docs)
}

// Execute runs a SQL query over the database's collections and returns its
// cursor. The caller must Close the ResultSet to release its connection.
func (db *Database) Execute(query string) (*ResultSet, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	ctx := context.Background()
	conn, err := db.cat.db.Conn(ctx)
	if err != nil {
		return nil, wrapSQL(err)
	}

	// Virtual tables are per-connection state (temp schema); declare any
	// the pooled connection has not seen yet.
	db.mu.RLock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	db.mu.RUnlock()
	for _, name := range names {
		stmt := fmt.Sprintf(
			"CREATE VIRTUAL TABLE IF NOT EXISTS temp.%q USING octavo_collection(%s)", name, name)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, wrapSQL(err)
		}
	}

	return newResultSet(ctx, conn, query)
}

// ReleaseIdleMappings evicts least-recently-used idle reader mappings in
// every collection until each reader cache is at or below its capacity.
// The active writer mappings are never touched. Intended as a memory-pressure
// hook for the embedding process.
func (db *Database) ReleaseIdleMappings() {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, coll := range db.collections {
		coll.unmapIdleReaders()
	}
	db.log.Debug("released idle reader mappings")
}
