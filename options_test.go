// Options tests.
package octavo

import "testing"

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if !o.CreateDBIfMissing || !o.Synchronous || !o.Compress {
		t.Error("boolean defaults flipped")
	}
	if o.MaxDataFileSize != 512*1024*1024 {
		t.Errorf("MaxDataFileSize = %d", o.MaxDataFileSize)
	}
	if o.MemoryCleanupThreshold != 4*1024*1024*1024 {
		t.Errorf("MemoryCleanupThreshold = %d", o.MemoryCleanupThreshold)
	}
	if o.ReaderCacheSize != 3 {
		t.Errorf("ReaderCacheSize = %d", o.ReaderCacheSize)
	}
	if o.FingerprintAlgorithm != FingerprintXXH3 {
		t.Errorf("FingerprintAlgorithm = %d", o.FingerprintAlgorithm)
	}
}

// TestNormalize verifies nil options and zero fields resolve to defaults
// without mutating the caller's struct.
func TestNormalize(t *testing.T) {
	var o *Options
	n := o.normalize()
	if n.ReaderCacheSize != 3 || n.Logger == nil {
		t.Errorf("nil normalize = %+v", n)
	}

	partial := &Options{MaxDataFileSize: 1024}
	n = partial.normalize()
	if n.MaxDataFileSize != 1024 || n.ReaderCacheSize != 3 {
		t.Errorf("partial normalize = %+v", n)
	}
	if partial.Logger != nil {
		t.Error("normalize mutated its receiver")
	}
}
