// Package sstable implements the immutable, sorted segment files a table
// flushes its memtable into. A segment is read as:
//
//	[0..8)    version tag
//	[8..16)   num_records (i64)
//	[16..24)  data_start_offset (i64)
//	[24..X)   index_len (i32) followed by that many index items
//	[X..Y)    records, each total_size(i32) key_size(u8) key flags(u8) value
//	[Y..Z)    bloom filter bytes
//	[Z..Z+4)  bloom filter length (i32), the very last four bytes of the file
//
// The trailing length-prefixed footer lets Open locate the bloom section by
// reading backwards from EOF without needing a separate offset in the
// header, the same trick the teacher's original footer format used.
package sstable

import (
	"bufio"
	"bytes"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"os"

	"lsmkv/bloom"
	"lsmkv/format"
	"lsmkv/memtable"
)

var ErrCorrupt = errors.New("sstable: corrupt segment")

const headerFixedSz = 8 /* num_records */ + 8 /* data_start_offset */

type indexItem struct {
	startKey    []byte
	endKey      []byte
	startOffset int64
	endOffset   int64
}

// Table is an open, read-only handle to one segment file. Its index and
// bloom filter live in memory; record bytes are read on demand.
type Table struct {
	Path       string
	index      []indexItem
	bf         *bloom.Filter
	numRecords int64
	dataStart  int64
	recordsEnd int64 // exclusive end of the record area == bloom section start
}

// BuildOptions controls how a new segment is laid out.
type BuildOptions struct {
	IndexInterval   int
	BloomBitsPerKey uint32
	BloomHashes     uint8
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.IndexInterval <= 0 {
		o.IndexInterval = format.IndexInterval
	}
	if o.BloomBitsPerKey == 0 {
		o.BloomBitsPerKey = format.DefaultBloomBitsPerKey
	}
	if o.BloomHashes == 0 {
		o.BloomHashes = format.DefaultBloomHashes
	}
	return o
}

type encodedRecord struct {
	key    []byte
	bytes  []byte
	offset int64 // relative to the start of the record area
}

func encodeRecord(r memtable.Record) []byte {
	total := format.RecordLenSz + format.KeySizeSz + len(r.Key) + format.FlagsSz + len(r.Value)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = byte(len(r.Key))
	copy(buf[5:5+len(r.Key)], r.Key)
	flagsOff := 5 + len(r.Key)
	if r.Tombstone {
		buf[flagsOff] = 1
	}
	copy(buf[flagsOff+1:], r.Value)
	return buf
}

func decodeRecord(b []byte) (memtable.Record, error) {
	if len(b) < format.RecordLenSz+format.KeySizeSz+format.FlagsSz {
		return memtable.Record{}, ErrCorrupt
	}
	total := binary.LittleEndian.Uint32(b[0:4])
	if int(total) != len(b) {
		return memtable.Record{}, ErrCorrupt
	}
	keySize := int(b[4])
	if 5+keySize+1 > len(b) {
		return memtable.Record{}, ErrCorrupt
	}
	key := append([]byte(nil), b[5:5+keySize]...)
	flags := b[5+keySize]
	value := append([]byte(nil), b[5+keySize+1:]...)
	return memtable.Record{Key: key, Value: value, Tombstone: flags&1 == 1}, nil
}

// Build writes mt's full contents (including tombstones, which must survive
// a flush so older segments stay shadowed) to a new segment file at path,
// following the steps in the package doc: scan to build a sparse index,
// write the header and index, append records, then append a Bloom filter
// sized for the records just written.
func Build(path string, mt *memtable.Memtable, opts BuildOptions) (*Table, error) {
	opts = opts.withDefaults()

	var encs []encodedRecord
	var off int64
	mt.Ascend(func(r memtable.Record) bool {
		b := encodeRecord(r)
		encs = append(encs, encodedRecord{key: r.Key, bytes: b, offset: off})
		off += int64(len(b))
		return true
	})
	recordAreaLen := off

	var index []indexItem
	interval := opts.IndexInterval
	for i := 0; i < len(encs); i += interval {
		j := i + interval
		if j > len(encs) {
			j = len(encs)
		}
		block := encs[i:j]
		last := block[len(block)-1]
		index = append(index, indexItem{
			startKey:    block[0].key,
			endKey:      last.key,
			startOffset: block[0].offset,
			endOffset:   last.offset + int64(len(last.bytes)),
		})
	}

	indexSize := 4
	for _, it := range index {
		indexSize += 1 + len(it.startKey) + 1 + len(it.endKey) + 8 + 8
	}
	dataStart := int64(format.VersionTagSize+headerFixedSz) + int64(indexSize)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sstable: create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriterSize(f, 64*1024)

	if _, err := w.Write(format.VersionTag[:]); err != nil {
		return nil, fmt.Errorf("sstable: write %s: %w", path, err)
	}
	var hdr [headerFixedSz]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(len(encs)))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(dataStart))
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("sstable: write %s: %w", path, err)
	}

	var idxLenBuf [4]byte
	binary.LittleEndian.PutUint32(idxLenBuf[:], uint32(len(index)))
	if _, err := w.Write(idxLenBuf[:]); err != nil {
		return nil, fmt.Errorf("sstable: write %s: %w", path, err)
	}
	absIndex := make([]indexItem, len(index))
	for i, it := range index {
		abs := indexItem{startKey: it.startKey, endKey: it.endKey, startOffset: it.startOffset + dataStart, endOffset: it.endOffset + dataStart}
		absIndex[i] = abs
		if err := writeIndexItem(w, abs); err != nil {
			return nil, fmt.Errorf("sstable: write %s: %w", path, err)
		}
	}

	bf := bloom.NewForKeys(len(encs), opts.BloomBitsPerKey, opts.BloomHashes)
	for _, e := range encs {
		if _, err := w.Write(e.bytes); err != nil {
			return nil, fmt.Errorf("sstable: write %s: %w", path, err)
		}
		bf.Add(e.key)
	}
	recordsEnd := dataStart + recordAreaLen

	bloomBytes := bf.Encode()
	if _, err := w.Write(bloomBytes); err != nil {
		return nil, fmt.Errorf("sstable: write %s: %w", path, err)
	}
	var bloomLenBuf [4]byte
	binary.LittleEndian.PutUint32(bloomLenBuf[:], uint32(len(bloomBytes)))
	if _, err := w.Write(bloomLenBuf[:]); err != nil {
		return nil, fmt.Errorf("sstable: write %s: %w", path, err)
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("sstable: flush %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sstable: sync %s: %w", path, err)
	}

	return &Table{
		Path:       path,
		index:      absIndex,
		bf:         bf,
		numRecords: int64(len(encs)),
		dataStart:  dataStart,
		recordsEnd: recordsEnd,
	}, nil
}

func writeIndexItem(w *bufio.Writer, it indexItem) error {
	if err := w.WriteByte(byte(len(it.startKey))); err != nil {
		return err
	}
	if _, err := w.Write(it.startKey); err != nil {
		return err
	}
	if err := w.WriteByte(byte(len(it.endKey))); err != nil {
		return err
	}
	if _, err := w.Write(it.endKey); err != nil {
		return err
	}
	var offs [16]byte
	binary.LittleEndian.PutUint64(offs[0:8], uint64(it.startOffset))
	binary.LittleEndian.PutUint64(offs[8:16], uint64(it.endOffset))
	_, err := w.Write(offs[:])
	return err
}

func readIndexItem(r io.Reader) (indexItem, error) {
	var szBuf [1]byte
	if _, err := io.ReadFull(r, szBuf[:]); err != nil {
		return indexItem{}, err
	}
	startKey := make([]byte, szBuf[0])
	if _, err := io.ReadFull(r, startKey); err != nil {
		return indexItem{}, err
	}
	if _, err := io.ReadFull(r, szBuf[:]); err != nil {
		return indexItem{}, err
	}
	endKey := make([]byte, szBuf[0])
	if _, err := io.ReadFull(r, endKey); err != nil {
		return indexItem{}, err
	}
	var offs [16]byte
	if _, err := io.ReadFull(r, offs[:]); err != nil {
		return indexItem{}, err
	}
	return indexItem{
		startKey:    startKey,
		endKey:      endKey,
		startOffset: int64(binary.LittleEndian.Uint64(offs[0:8])),
		endOffset:   int64(binary.LittleEndian.Uint64(offs[8:16])),
	}, nil
}

// Open reads a segment's header, index and bloom filter into memory. Record
// bytes are left on disk and read lazily by Get and iterators.
func Open(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("sstable: stat %s: %w", path, err)
	}
	size := st.Size()
	if size < int64(format.VersionTagSize+headerFixedSz+4+4) {
		return nil, fmt.Errorf("sstable: %s: %w", path, ErrCorrupt)
	}

	r := bufio.NewReaderSize(f, 64*1024)
	var tag [format.VersionTagSize]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}
	if tag != format.VersionTag {
		return nil, fmt.Errorf("sstable: %s: %w", path, ErrCorrupt)
	}

	var hdr [headerFixedSz]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}
	numRecords := int64(binary.LittleEndian.Uint64(hdr[0:8]))
	dataStart := int64(binary.LittleEndian.Uint64(hdr[8:16]))
	if dataStart < 0 || dataStart > size {
		return nil, fmt.Errorf("sstable: %s: %w", path, ErrCorrupt)
	}

	var idxLenBuf [4]byte
	if _, err := io.ReadFull(r, idxLenBuf[:]); err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}
	idxLen := binary.LittleEndian.Uint32(idxLenBuf[:])

	index := make([]indexItem, 0, idxLen)
	for i := uint32(0); i < idxLen; i++ {
		it, err := readIndexItem(r)
		if err != nil {
			return nil, fmt.Errorf("sstable: %s: %w", path, ErrCorrupt)
		}
		if it.startOffset < dataStart || it.endOffset > size || it.startOffset >= it.endOffset {
			return nil, fmt.Errorf("sstable: %s: %w", path, ErrCorrupt)
		}
		index = append(index, it)
	}

	var bloomLenBuf [4]byte
	if _, err := f.ReadAt(bloomLenBuf[:], size-4); err != nil {
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}
	bloomLen := int64(binary.LittleEndian.Uint32(bloomLenBuf[:]))
	bloomOffset := size - 4 - bloomLen
	if bloomLen < 0 || bloomOffset < dataStart {
		return nil, fmt.Errorf("sstable: %s: %w", path, ErrCorrupt)
	}
	bloomBytes := make([]byte, bloomLen)
	if bloomLen > 0 {
		if _, err := f.ReadAt(bloomBytes, bloomOffset); err != nil {
			return nil, fmt.Errorf("sstable: %s: %w", path, err)
		}
	}
	bf, ok := bloom.Decode(bloomBytes)
	if !ok {
		return nil, fmt.Errorf("sstable: %s: %w", path, ErrCorrupt)
	}

	return &Table{
		Path:       path,
		index:      index,
		bf:         bf,
		numRecords: numRecords,
		dataStart:  dataStart,
		recordsEnd: bloomOffset,
	}, nil
}

// MaybeContains reports whether key might be present in the segment.
func (t *Table) MaybeContains(key []byte) bool {
	return t.bf.MaybeContains(key)
}

// NumRecords returns the number of records (live and tombstoned) stored.
func (t *Table) NumRecords() int64 { return t.numRecords }

// BloomFalsePositiveRate estimates this segment's current Bloom filter miss
// rate, for diagnostic logging only.
func (t *Table) BloomFalsePositiveRate() float64 {
	return t.bf.FalsePositiveRate(int(t.numRecords))
}

// ApproxSize returns the file's current size on disk.
func (t *Table) ApproxSize() int64 {
	st, err := os.Stat(t.Path)
	if err != nil {
		return 0
	}
	return st.Size()
}

// searchIndex walks the index in order looking for the block that could
// hold key, per the search rule in §4.3: the first item whose end_key is
// >= key; if its start_key is also <= key, that block must be read.
func (t *Table) searchIndex(key []byte) (start, end int64, ok bool) {
	for _, it := range t.index {
		if bytes.Compare(it.endKey, key) >= 0 {
			if bytes.Compare(it.startKey, key) <= 0 {
				return it.startOffset, it.endOffset, true
			}
			return 0, 0, false
		}
	}
	return 0, 0, false
}

// Get reads at most one contiguous byte range from the segment file to
// resolve key, after the Bloom filter has ruled out an obvious miss.
func (t *Table) Get(key []byte) (memtable.Record, bool, error) {
	if !t.MaybeContains(key) {
		return memtable.Record{}, false, nil
	}
	start, end, ok := t.searchIndex(key)
	if !ok {
		return memtable.Record{}, false, nil
	}
	f, err := os.Open(t.Path)
	if err != nil {
		return memtable.Record{}, false, fmt.Errorf("sstable: open %s: %w", t.Path, err)
	}
	defer f.Close()

	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, start); err != nil {
		return memtable.Record{}, false, fmt.Errorf("sstable: read %s: %w", t.Path, err)
	}
	pos := 0
	for pos < len(buf) {
		if pos+4 > len(buf) {
			return memtable.Record{}, false, fmt.Errorf("sstable: %s: %w", t.Path, ErrCorrupt)
		}
		total := int(binary.LittleEndian.Uint32(buf[pos : pos+4]))
		if total <= 0 || pos+total > len(buf) {
			return memtable.Record{}, false, fmt.Errorf("sstable: %s: %w", t.Path, ErrCorrupt)
		}
		rec, err := decodeRecord(buf[pos : pos+total])
		if err != nil {
			return memtable.Record{}, false, fmt.Errorf("sstable: %s: %w", t.Path, err)
		}
		if bytes.Equal(rec.Key, key) {
			return rec, true, nil
		}
		pos += total
	}
	return memtable.Record{}, false, nil
}

// RecordIterator reads every record in a segment sequentially, in key
// order, for use by compaction and by master's table-catalog scan.
type RecordIterator struct {
	f   *os.File
	r   *bufio.Reader
	pos int64
	end int64
}

// NewIterator opens a fresh file handle positioned at the start of the
// record area.
func (t *Table) NewIterator() (*RecordIterator, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", t.Path, err)
	}
	if _, err := f.Seek(t.dataStart, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: seek %s: %w", t.Path, err)
	}
	return &RecordIterator{f: f, r: bufio.NewReaderSize(f, 64*1024), pos: t.dataStart, end: t.recordsEnd}, nil
}

// Next returns the next record, or ok=false once the record area is
// exhausted.
func (it *RecordIterator) Next() (memtable.Record, bool, error) {
	if it.pos >= it.end {
		return memtable.Record{}, false, nil
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(it.r, lenBuf[:]); err != nil {
		return memtable.Record{}, false, fmt.Errorf("sstable: read: %w", err)
	}
	total := binary.LittleEndian.Uint32(lenBuf[:])
	if total < 4 {
		return memtable.Record{}, false, ErrCorrupt
	}
	rest := make([]byte, total-4)
	if _, err := io.ReadFull(it.r, rest); err != nil {
		return memtable.Record{}, false, fmt.Errorf("sstable: read: %w", err)
	}
	full := append(lenBuf[:], rest...)
	rec, err := decodeRecord(full)
	if err != nil {
		return memtable.Record{}, false, err
	}
	it.pos += int64(total)
	return rec, true, nil
}

// Close releases the file handle backing the iterator.
func (it *RecordIterator) Close() error {
	return it.f.Close()
}

var segNameRand = mathrand.New(mathrand.NewSource(seedFromCrypto()))

func seedFromCrypto() int64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// RandomSegmentName returns a fresh segment filename: 21 random letters, no
// extension, so segments can't be mistaken for sequence-numbered files.
func RandomSegmentName() string {
	b := make([]byte, format.SegmentNameLen)
	for i := range b {
		b[i] = format.SegmentNameAlphabet[segNameRand.Intn(len(format.SegmentNameAlphabet))]
	}
	return string(b)
}
