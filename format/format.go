// Package format holds the on-disk constants shared by the wal, sstable and
// db packages: the version tag every file starts with, key-length limits and
// the fixed widths used to size record headers.
package format

// VersionTagSize is the width of the tag written at the start of every WAL,
// segment and root file.
const VersionTagSize = 8

// VersionTag identifies the current on-disk format. Readers reject any file
// that does not start with this exact tag.
var VersionTag = [VersionTagSize]byte{'L', 'S', 'M', 'K', 'V', '_', '0', '1'}

// KeyMaxLen is the largest key the engine accepts; key_size fields are a
// single byte wide, so this is a structural limit, not just a policy one.
const KeyMaxLen = 255

// IndexInterval is the default number of records grouped under one sparse
// index item when a segment is built.
const IndexInterval = 100

// Widths (in bytes) of the fixed fields in a record-on-disk header:
// total_size(i32) key_size(u8) key flags(u8) value.
const (
	RecordLenSz = 4
	KeySizeSz   = 1
	FlagsSz     = 1
)

// DefaultMaxSegSize is the memtable byte-footprint threshold that triggers a
// flush to a new segment.
const DefaultMaxSegSize = 1 << 20 // 1 MiB

// Bloom filter defaults, per the membership-test design in §4.7.
const (
	DefaultBloomBitsPerKey = 10
	DefaultBloomHashes     = 7
)

// SegmentNameLen is the length of a generated segment filename.
const SegmentNameLen = 21

// DefaultMaxSegmentsBeforeCompact is how many segments a table accumulates
// before a flush opportunistically triggers a compaction pass, instead of
// waiting for Close to be the only time segments ever get merged.
const DefaultMaxSegmentsBeforeCompact = 4

// SegmentNameAlphabet is the character set segment filenames are drawn from.
const SegmentNameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
