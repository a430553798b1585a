// Open-time configuration.
//
// The zero value is not usable: booleans that default to true (durable
// flushes, compression, catalog creation) cannot be expressed as Go zero
// values, so options are built by DefaultOptions and adjusted field by
// field before Open.
package octavo

import "go.uber.org/zap"

// Fingerprint algorithm constants for the schema fingerprint stored in the
// catalog and re-verified at open.
const (
	FingerprintXXH3    = 1 // Default, fastest
	FingerprintBlake2b = 2 // Best distribution
)

// Options holds database configuration.
type Options struct {
	// CreateDBIfMissing creates the directory and catalog on open when they
	// are absent. When false, opening a missing database fails with
	// ErrMissingDatabaseFile.
	CreateDBIfMissing bool

	// MaxDataFileSize caps each segment file; a write that would exceed it
	// rotates to a new segment.
	MaxDataFileSize int64

	// MemoryCleanupThreshold is compared against an estimate of the bytes
	// mapped for readers (cached mappings × MaxDataFileSize) on every
	// reader-cache miss. Crossing it evicts idle reader mappings down to
	// ReaderCacheSize; it does not cap the mapped bytes below that. The
	// active writer mapping is never touched.
	MemoryCleanupThreshold int64

	// Synchronous makes every blob flush durable. When false the OS may
	// buffer writes.
	Synchronous bool

	// Compress is the default compression flag for inserted documents.
	Compress bool

	// ReaderCacheSize is the capacity of the per-collection LRU cache of
	// read-only segment mappings.
	ReaderCacheSize int

	// FingerprintAlgorithm selects the schema fingerprint hash.
	FingerprintAlgorithm int

	// Logger receives lifecycle events (open, rotation, replay, eviction).
	// Nil means no logging.
	Logger *zap.Logger
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() *Options {
	return &Options{
		CreateDBIfMissing:      true,
		MaxDataFileSize:        512 * 1024 * 1024,
		MemoryCleanupThreshold: 4 * 1024 * 1024 * 1024,
		Synchronous:            true,
		Compress:               true,
		ReaderCacheSize:        3,
		FingerprintAlgorithm:   FingerprintXXH3,
	}
}

// normalize fills unset fields so the rest of the code never checks for
// zero values.
func (o *Options) normalize() *Options {
	if o == nil {
		o = DefaultOptions()
	}
	out := *o
	if out.MaxDataFileSize == 0 {
		out.MaxDataFileSize = 512 * 1024 * 1024
	}
	if out.MemoryCleanupThreshold == 0 {
		out.MemoryCleanupThreshold = 4 * 1024 * 1024 * 1024
	}
	if out.ReaderCacheSize == 0 {
		out.ReaderCacheSize = 3
	}
	if out.FingerprintAlgorithm == 0 {
		out.FingerprintAlgorithm = FingerprintXXH3
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}
