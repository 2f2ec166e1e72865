// Package master implements the privileged master table every engine opens
// first: a Table (package table) whose keys are user table names and whose
// values are that table's current newest-first segment path list. A present
// key with an empty value means the table exists but has not flushed any
// segments yet.
package master

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"lsmkv/table"
)

var ErrCorruptCatalog = errors.New("master: corrupt catalog entry")

const walFilename = "master.wal"

// Master wraps a Table with the segment-path-list encoding user tables are
// cataloged under.
type Master struct {
	t *table.Table
}

// Open opens the master table's WAL and its own segments (segmentPaths,
// read from the root file by the caller), and replays any pending WAL
// records on top.
func Open(dir string, segmentPaths []string, opts table.Options, afterFlush func([]string) error) (*Master, error) {
	t, err := table.Open(dir, filepath.Join(dir, walFilename), segmentPaths, opts, afterFlush)
	if err != nil {
		return nil, fmt.Errorf("master: %w", err)
	}
	return &Master{t: t}, nil
}

// EncodeSegmentPaths serializes a segment path list as
// n(i64) || (len(u8) || path_bytes)*.
func EncodeSegmentPaths(paths []string) []byte {
	var buf bytes.Buffer
	var nBuf [8]byte
	binary.LittleEndian.PutUint64(nBuf[:], uint64(len(paths)))
	buf.Write(nBuf[:])
	for _, p := range paths {
		buf.WriteByte(byte(len(p)))
		buf.WriteString(p)
	}
	return buf.Bytes()
}

// DecodeSegmentPaths is the inverse of EncodeSegmentPaths. An empty slice
// decodes to a nil, empty path list.
func DecodeSegmentPaths(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 8 {
		return nil, ErrCorruptCatalog
	}
	n := binary.LittleEndian.Uint64(b[0:8])
	b = b[8:]
	paths := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		if len(b) < 1 {
			return nil, ErrCorruptCatalog
		}
		l := int(b[0])
		b = b[1:]
		if len(b) < l {
			return nil, ErrCorruptCatalog
		}
		paths = append(paths, string(b[:l]))
		b = b[l:]
	}
	return paths, nil
}

// Lookup returns the segment path list registered for name. exists is false
// if the name was never created.
func (m *Master) Lookup(name string) (segmentPaths []string, exists bool, err error) {
	value, found, err := m.t.Get([]byte(name))
	if err != nil {
		return nil, false, fmt.Errorf("master: lookup %s: %w", name, err)
	}
	if !found {
		return nil, false, nil
	}
	paths, err := DecodeSegmentPaths(value)
	if err != nil {
		return nil, false, fmt.Errorf("master: lookup %s: %w", name, err)
	}
	return paths, true, nil
}

// CreateTable registers name with no segments yet, via a CREATE_TABLE WAL
// record rather than an ordinary put.
func (m *Master) CreateTable(name string) error {
	if err := m.t.CreateKey([]byte(name)); err != nil {
		return fmt.Errorf("master: create table %s: %w", name, err)
	}
	return nil
}

// RegisterUserSegments updates name's catalog entry to segmentPaths. It is
// the afterFlush hook a user table is opened with.
func (m *Master) RegisterUserSegments(name string, segmentPaths []string) error {
	if err := m.t.Put([]byte(name), EncodeSegmentPaths(segmentPaths)); err != nil {
		return fmt.Errorf("master: register %s: %w", name, err)
	}
	return nil
}

// Tables returns every live table name, sorted.
func (m *Master) Tables() ([]string, error) {
	names, err := m.t.Keys()
	if err != nil {
		return nil, fmt.Errorf("master: tables: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// SegmentPaths returns the master table's own newest-first segment list.
func (m *Master) SegmentPaths() []string {
	return m.t.SegmentPaths()
}

// Close compacts and flushes the master table.
func (m *Master) Close() error {
	if err := m.t.Close(); err != nil {
		return fmt.Errorf("master: close: %w", err)
	}
	return nil
}
