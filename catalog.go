// Durable catalog.
//
// The catalog is a SQLite database (<db>.dat) holding three tables:
// Collection, CollectionIndex and CollectionDataFile. Every mutation runs
// inside one transaction so a failure while declaring indexes rolls the
// whole collection back. The connection runs with full synchronous writes
// and WAL journaling; on top of SQLite's busy timeout, catalog writes are
// retried in an explicit capped-exponential loop, so a transient lock never
// surfaces as a hard failure before the deadline.
package octavo

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SchemaType identifies the schema description format of a collection.
type SchemaType int32

// SchemaTypeJSON is the only schema format this engine ships: typed field
// trees over JSON documents.
const SchemaTypeJSON SchemaType = 1

const busyRetryDeadline = 10 * time.Second

// collectionMeta is one fully loaded catalog entry.
type collectionMeta struct {
	Name        string
	SchemaType  SchemaType
	Schema      []byte
	Fingerprint string
	Indexes     []IndexInfo
	Files       []FileInfo
}

// catalog wraps the metadata connection.
type catalog struct {
	db     *sql.DB
	dir    string
	dbName string
}

// openCatalog opens or creates <dir>/<dbName>.dat using the database's
// registered driver. With create=false a missing catalog fails with
// ErrMissingDatabaseFile.
func openCatalog(driverName, dir, dbName string, create bool) (*catalog, error) {
	datPath := filepath.Join(dir, dbName+".dat")
	if _, err := os.Stat(datPath); os.IsNotExist(err) {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrMissingDatabaseFile, datPath)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=FULL", datPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, wrapSQL(err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, wrapSQL(err)
	}

	c := &catalog{db: db, dir: dir, dbName: dbName}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *catalog) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS Collection (
			CollectionName TEXT PRIMARY KEY,
			CollectionSchema BLOB,
			CollectionSchemaType INT,
			SchemaFingerprint TEXT)`,
		`CREATE TABLE IF NOT EXISTS CollectionIndex (
			CollectionName TEXT,
			IndexName TEXT,
			IndexType INT,
			BinData BLOB,
			PRIMARY KEY (CollectionName, IndexName))`,
		`CREATE TABLE IF NOT EXISTS CollectionDataFile (
			CollectionName TEXT,
			FileKey INT,
			FileName TEXT,
			DataLength INT,
			PRIMARY KEY (CollectionName, FileKey))`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return wrapSQL(err)
		}
	}
	return nil
}

func (c *catalog) close() error {
	return c.db.Close()
}

// addCollection records a collection and its index definitions in one
// transaction. A duplicate collection name surfaces as ErrCollectionExists,
// a duplicate index name within the collection as ErrIndexExists; either
// rolls back everything.
func (c *catalog) addCollection(name string, schemaType SchemaType, schema []byte, fingerprint string, indexes []IndexInfo) error {
	return c.busyRetry(func() error {
		tx, err := c.db.Begin()
		if err != nil {
			return wrapSQL(err)
		}
		defer tx.Rollback()

		_, err = tx.Exec(
			"INSERT INTO Collection (CollectionName, CollectionSchema, CollectionSchemaType, SchemaFingerprint) VALUES (?, ?, ?, ?)",
			name, schema, int32(schemaType), fingerprint)
		if err != nil {
			if isConstraintErr(err) {
				return fmt.Errorf("%w: %q", ErrCollectionExists, name)
			}
			return wrapSQL(err)
		}

		for _, idx := range indexes {
			bin, err := encodeIndexInfo(idx)
			if err != nil {
				return err
			}
			_, err = tx.Exec(
				"INSERT INTO CollectionIndex (CollectionName, IndexName, IndexType, BinData) VALUES (?, ?, ?, ?)",
				name, idx.Name, int32(idx.Type), bin)
			if err != nil {
				if isConstraintErr(err) {
					return fmt.Errorf("%w: %q on collection %q", ErrIndexExists, idx.Name, name)
				}
				return wrapSQL(err)
			}
		}

		if err := tx.Commit(); err != nil {
			return wrapSQL(err)
		}
		return nil
	})
}

// currentDataFile returns the highest-keyed segment of a collection. With
// create=true and no segments recorded, segment 0 is registered and
// returned.
func (c *catalog) currentDataFile(collection string, create bool) (FileInfo, error) {
	var (
		fileKey    int64
		dataLength int64
	)
	err := c.db.QueryRow(
		"SELECT FileKey, DataLength FROM CollectionDataFile WHERE CollectionName = ? ORDER BY FileKey DESC LIMIT 1",
		collection).Scan(&fileKey, &dataLength)
	if errors.Is(err, sql.ErrNoRows) {
		if !create {
			return FileInfo{}, fmt.Errorf("%w: collection %q has no data files", ErrMissingDatabaseFile, collection)
		}
		info := segmentInfo(c.dir, c.dbName, collection, 0, 0)
		if err := c.addDataFile(collection, info); err != nil {
			return FileInfo{}, err
		}
		return info, nil
	}
	if err != nil {
		return FileInfo{}, wrapSQL(err)
	}
	return segmentInfo(c.dir, c.dbName, collection, uint32(fileKey), dataLength), nil
}

// nextDataFile registers and returns the segment after current.
func (c *catalog) nextDataFile(collection string, current FileInfo) (FileInfo, error) {
	info := segmentInfo(c.dir, c.dbName, collection, current.FileKey+1, 0)
	if err := c.addDataFile(collection, info); err != nil {
		return FileInfo{}, err
	}
	return info, nil
}

func (c *catalog) addDataFile(collection string, info FileInfo) error {
	return c.busyRetry(func() error {
		_, err := c.db.Exec(
			"INSERT INTO CollectionDataFile (CollectionName, FileKey, FileName, DataLength) VALUES (?, ?, ?, ?)",
			collection, int64(info.FileKey), info.Name, info.DataLength)
		if err != nil {
			return wrapSQL(err)
		}
		return nil
	})
}

// updateDataFileLength records the live data length of a segment. Called
// after every successful durable write.
func (c *catalog) updateDataFileLength(collection string, fileKey uint32, length int64) error {
	return c.busyRetry(func() error {
		_, err := c.db.Exec(
			"UPDATE CollectionDataFile SET DataLength = ? WHERE CollectionName = ? AND FileKey = ?",
			length, collection, int64(fileKey))
		if err != nil {
			return wrapSQL(err)
		}
		return nil
	})
}

// dataFile returns the FileInfo for one segment of a collection.
func (c *catalog) dataFile(collection string, fileKey uint32) (FileInfo, error) {
	var dataLength int64
	err := c.db.QueryRow(
		"SELECT DataLength FROM CollectionDataFile WHERE CollectionName = ? AND FileKey = ?",
		collection, int64(fileKey)).Scan(&dataLength)
	if errors.Is(err, sql.ErrNoRows) {
		return FileInfo{}, fmt.Errorf("%w: collection %q has no data file %d", ErrCorruptedBlob, collection, fileKey)
	}
	if err != nil {
		return FileInfo{}, wrapSQL(err)
	}
	return segmentInfo(c.dir, c.dbName, collection, fileKey, dataLength), nil
}

// loadAll reads the whole catalog: collections joined with their index
// definitions and segments, ordered by collection name and file key.
func (c *catalog) loadAll() ([]collectionMeta, error) {
	rows, err := c.db.Query(
		"SELECT CollectionName, CollectionSchema, CollectionSchemaType, SchemaFingerprint FROM Collection ORDER BY CollectionName")
	if err != nil {
		return nil, wrapSQL(err)
	}
	defer rows.Close()

	var metas []collectionMeta
	for rows.Next() {
		var m collectionMeta
		var schemaType int32
		if err := rows.Scan(&m.Name, &m.Schema, &schemaType, &m.Fingerprint); err != nil {
			return nil, wrapSQL(err)
		}
		m.SchemaType = SchemaType(schemaType)
		metas = append(metas, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapSQL(err)
	}

	for i := range metas {
		if metas[i].Indexes, err = c.loadIndexes(metas[i].Name); err != nil {
			return nil, err
		}
		if metas[i].Files, err = c.loadDataFiles(metas[i].Name); err != nil {
			return nil, err
		}
	}
	return metas, nil
}

func (c *catalog) loadIndexes(collection string) ([]IndexInfo, error) {
	rows, err := c.db.Query(
		"SELECT BinData FROM CollectionIndex WHERE CollectionName = ? ORDER BY rowid",
		collection)
	if err != nil {
		return nil, wrapSQL(err)
	}
	defer rows.Close()

	var indexes []IndexInfo
	for rows.Next() {
		var bin []byte
		if err := rows.Scan(&bin); err != nil {
			return nil, wrapSQL(err)
		}
		idx, err := decodeIndexInfo(bin)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (c *catalog) loadDataFiles(collection string) ([]FileInfo, error) {
	rows, err := c.db.Query(
		"SELECT FileKey, DataLength FROM CollectionDataFile WHERE CollectionName = ? ORDER BY FileKey",
		collection)
	if err != nil {
		return nil, wrapSQL(err)
	}
	defer rows.Close()

	var files []FileInfo
	for rows.Next() {
		var fileKey, dataLength int64
		if err := rows.Scan(&fileKey, &dataLength); err != nil {
			return nil, wrapSQL(err)
		}
		files = append(files, segmentInfo(c.dir, c.dbName, collection, uint32(fileKey), dataLength))
	}
	return files, rows.Err()
}

// busyRetry runs fn, retrying on SQLITE_BUSY/SQLITE_LOCKED with capped
// exponential backoff until the deadline.
func (c *catalog) busyRetry(fn func() error) error {
	deadline := time.Now().Add(busyRetryDeadline)
	delay := time.Millisecond
	for {
		err := fn()
		if err == nil || !isBusyErr(err) || time.Now().After(deadline) {
			return err
		}
		time.Sleep(delay)
		if delay < 100*time.Millisecond {
			delay *= 2
		}
	}
}

func isConstraintErr(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func isBusyErr(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked)
}

// wrapSQL tags an engine failure with ErrSQL, keeping the engine's
// diagnostic text.
func wrapSQL(err error) error {
	return fmt.Errorf("%w: %v", ErrSQL, err)
}
