package table

import "lsmkv/format"

// Options configures a table's flush and compaction thresholds.
type Options struct {
	MaxSegSize      int64
	IndexInterval   int
	BloomBitsPerKey uint32
	BloomHashes     uint8
	SyncOnWrite     bool
	Verbose         bool

	// MaxSegmentsBeforeCompact is how many on-disk segments a table may
	// accumulate before a flush opportunistically triggers Compact, rather
	// than leaving every merge to happen at Close. Zero disables
	// opportunistic compaction (Compact then only ever runs at Close).
	MaxSegmentsBeforeCompact int
}

// DefaultOptions returns sane defaults for a new table.
func DefaultOptions() Options {
	return Options{
		MaxSegSize:               format.DefaultMaxSegSize,
		IndexInterval:            format.IndexInterval,
		BloomBitsPerKey:          format.DefaultBloomBitsPerKey,
		BloomHashes:              format.DefaultBloomHashes,
		SyncOnWrite:              true,
		MaxSegmentsBeforeCompact: format.DefaultMaxSegmentsBeforeCompact,
	}
}
