// Package table implements one logical table: a memtable backed by a WAL,
// plus zero or more immutable segments on disk. It is the unit both user
// tables and the privileged master table (package master) are built from.
package table

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"lsmkv/compaction"
	"lsmkv/format"
	"lsmkv/memtable"
	"lsmkv/sstable"
	"lsmkv/wal"
)

// Table binds a memtable, its WAL and its on-disk segments (newest first)
// into one mutable key-value store.
type Table struct {
	dir     string
	walPath string
	w       *wal.WAL
	mem     *memtable.Memtable

	segments []*sstable.Table // newest first
	segSet   map[string]bool

	opts       Options
	afterFlush func(segmentPaths []string) error
	closed     bool
}

// Open opens (or creates) the table's WAL at walPath, opens every segment in
// segmentPaths and replays the WAL on top of them into a fresh memtable.
// afterFlush, if non-nil, is called with the full newest-first segment path
// list every time this table flushes -- this is how a user table tells the
// master catalog about its new segment, and how the master table rewrites
// the root file.
func Open(dir, walPath string, segmentPaths []string, opts Options, afterFlush func([]string) error) (*Table, error) {
	segments := make([]*sstable.Table, 0, len(segmentPaths))
	segSet := make(map[string]bool, len(segmentPaths))
	for _, p := range segmentPaths {
		seg, err := sstable.Open(p)
		if err != nil {
			return nil, fmt.Errorf("table: open segment %s: %w", p, err)
		}
		segments = append(segments, seg)
		segSet[p] = true
	}

	mem := memtable.New()
	if err := wal.Replay(walPath, func(r wal.Record) error {
		switch r.Op {
		case wal.OpInsert, wal.OpCreateTable:
			return mem.Insert(r.Key, r.Value)
		case wal.OpDelete:
			_, err := mem.Delete(r.Key)
			return err
		default:
			return fmt.Errorf("table: replay %s: %w", walPath, wal.ErrCorrupt)
		}
	}); err != nil {
		return nil, fmt.Errorf("table: replay %s: %w", walPath, err)
	}

	w, err := wal.Open(walPath, opts.SyncOnWrite)
	if err != nil {
		return nil, err
	}

	return &Table{
		dir: dir, walPath: walPath, w: w, mem: mem,
		segments: segments, segSet: segSet, opts: opts, afterFlush: afterFlush,
	}, nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > format.KeyMaxLen {
		return ErrKeyTooLong
	}
	return nil
}

// warnUsage logs a usage-error diagnostic when the table was opened with
// Verbose set. Usage errors are still recoverable: the caller always gets
// the error back through the normal return value too (§7's propagation
// policy), this is only the "log a warning" half of that handling.
func (t *Table) warnUsage(op string, err error) {
	if t.opts.Verbose {
		log.Printf("table: %s: %v", op, err)
	}
}

// Put logs and applies an insert, flushing the memtable if it has grown
// past MaxSegSize.
func (t *Table) Put(key, value []byte) error {
	if t.closed {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		t.warnUsage("put", err)
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if err := t.w.Append(wal.OpInsert, key, value); err != nil {
		return fmt.Errorf("table: put: %w", err)
	}
	if err := t.mem.Insert(key, value); err != nil {
		return fmt.Errorf("table: put: %w", err)
	}
	return t.maybeFlush()
}

// Delete logs and applies a tombstone for key.
func (t *Table) Delete(key []byte) error {
	if t.closed {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		t.warnUsage("delete", err)
		return err
	}
	if err := t.w.Append(wal.OpDelete, key, nil); err != nil {
		return fmt.Errorf("table: delete: %w", err)
	}
	if _, err := t.mem.Delete(key); err != nil {
		return fmt.Errorf("table: delete: %w", err)
	}
	return t.maybeFlush()
}

// CreateKey registers key with an empty value via a CREATE_TABLE WAL
// command instead of INSERT. It exists for the master table, where a bare
// key registration (no segments yet) must be distinguishable on replay from
// an ordinary put, even though both currently apply identically to the
// memtable.
func (t *Table) CreateKey(key []byte) error {
	if t.closed {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		t.warnUsage("create", err)
		return err
	}
	if err := t.w.Append(wal.OpCreateTable, key, nil); err != nil {
		return fmt.Errorf("table: create: %w", err)
	}
	if err := t.mem.Insert(key, []byte{}); err != nil {
		return fmt.Errorf("table: create: %w", err)
	}
	return t.maybeFlush()
}

// Get looks up key in the memtable, then in each segment newest-first,
// stopping at the first tombstone or live value found.
func (t *Table) Get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, ErrClosed
	}
	if err := validateKey(key); err != nil {
		t.warnUsage("get", err)
		return nil, false, err
	}
	if r, ok := t.mem.Get(key); ok {
		if r.Tombstone {
			return nil, false, nil
		}
		return r.Value, true, nil
	}
	for _, seg := range t.segments {
		rec, ok, err := seg.Get(key)
		if err != nil {
			return nil, false, fmt.Errorf("table: get: %w", err)
		}
		if !ok {
			continue
		}
		if rec.Tombstone {
			return nil, false, nil
		}
		return rec.Value, true, nil
	}
	return nil, false, nil
}

// Keys returns every live key in the table, across the memtable and every
// segment, newest data winning ties. It is only meant for small catalogs
// (the master table's list of user table names), not as a general-purpose
// range scan.
func (t *Table) Keys() ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(key []byte, tombstone bool) {
		k := string(key)
		if seen[k] {
			return
		}
		seen[k] = true
		if !tombstone {
			out = append(out, k)
		}
	}
	t.mem.Ascend(func(r memtable.Record) bool {
		add(r.Key, r.Tombstone)
		return true
	})
	for _, seg := range t.segments {
		it, err := seg.NewIterator()
		if err != nil {
			return nil, fmt.Errorf("table: keys: %w", err)
		}
		for {
			rec, ok, err := it.Next()
			if err != nil {
				it.Close()
				return nil, fmt.Errorf("table: keys: %w", err)
			}
			if !ok {
				break
			}
			add(rec.Key, rec.Tombstone)
		}
		it.Close()
	}
	return out, nil
}

// SegmentPaths returns the current newest-first list of segment file paths.
func (t *Table) SegmentPaths() []string {
	paths := make([]string, len(t.segments))
	for i, s := range t.segments {
		paths[i] = s.Path
	}
	return paths
}

func (t *Table) maybeFlush() error {
	if int64(t.mem.ByteFootprint()) <= t.opts.MaxSegSize {
		return nil
	}
	if err := t.flush(); err != nil {
		return err
	}
	return t.maybeCompact()
}

// maybeCompact runs an opportunistic Compact once the segment count passes
// MaxSegmentsBeforeCompact, instead of only ever merging at Close. A zero
// threshold disables this (Compact then only runs at Close). Compact alone
// changes this table's segment list without telling afterFlush's
// subscriber, so it must be re-invoked here or the master catalog would be
// left pointing at segment files Compact just deleted.
func (t *Table) maybeCompact() error {
	if t.opts.MaxSegmentsBeforeCompact <= 0 || len(t.segments) <= t.opts.MaxSegmentsBeforeCompact {
		return nil
	}
	if err := t.Compact(); err != nil {
		return err
	}
	if t.afterFlush != nil {
		if err := t.afterFlush(t.SegmentPaths()); err != nil {
			return fmt.Errorf("table: compact: after-flush hook: %w", err)
		}
	}
	return nil
}

func (t *Table) flush() error {
	path := filepath.Join(t.dir, sstable.RandomSegmentName())
	newSeg, err := sstable.Build(path, t.mem, sstable.BuildOptions{
		IndexInterval:   t.opts.IndexInterval,
		BloomBitsPerKey: t.opts.BloomBitsPerKey,
		BloomHashes:     t.opts.BloomHashes,
	})
	if err != nil {
		return fmt.Errorf("table: flush: %w", err)
	}

	t.segments = append([]*sstable.Table{newSeg}, t.segments...)
	t.segSet[path] = true
	if t.opts.Verbose {
		log.Printf("table: flush: wrote %s, %d records, bloom fp~%.4f",
			path, newSeg.NumRecords(), newSeg.BloomFalsePositiveRate())
	}

	// The master/root catalog must durably reference the new segment before
	// the WAL that made it recoverable is truncated (§5: "master update
	// precedes user WAL truncation"). Doing this in the other order would
	// leave a crash window where the new SST is on disk but unreferenced by
	// the master and the WAL that could have replayed it is already gone.
	if t.afterFlush != nil {
		if err := t.afterFlush(t.SegmentPaths()); err != nil {
			return fmt.Errorf("table: flush: after-flush hook: %w", err)
		}
	}

	if err := t.w.Reset(); err != nil {
		return fmt.Errorf("table: flush: wal reset: %w", err)
	}
	t.mem = memtable.New()
	return nil
}

// Compact merges the memtable with as many of the newest segments as fit
// under MaxSegSize (§4.4a). The merge's result replaces the memtable; it is
// not flushed to a new segment here, so Compact is typically followed by
// Close, which flushes whatever remains.
//
// The merge is made crash-safe by writing its output to a brand new WAL
// file and only then atomically renaming it over the table's WAL -- the
// same write-then-rename pattern package db uses for the root file -- instead
// of truncating the live WAL before the merge is known to have succeeded.
func (t *Table) Compact() error {
	if len(t.segments) == 0 {
		return nil
	}
	budget := t.opts.MaxSegSize
	footprint := int64(t.mem.ByteFootprint())
	n := 0
	for n < len(t.segments) {
		size := t.segments[n].ApproxSize()
		if footprint > 0 && footprint+size > budget {
			break
		}
		footprint += size
		n++
	}
	if n == 0 {
		return nil
	}
	toMerge := t.segments[:n]
	remain := append([]*sstable.Table(nil), t.segments[n:]...)

	tmpWalPath := t.walPath + ".compact-tmp"
	tmpWal, err := wal.Open(tmpWalPath, t.opts.SyncOnWrite)
	if err != nil {
		return fmt.Errorf("table: compact: %w", err)
	}

	merged := memtable.New()
	mergeErr := compaction.Merge(t.mem, toMerge, merged, func(key, value []byte, tombstone bool) error {
		if tombstone {
			return tmpWal.Append(wal.OpDelete, key, nil)
		}
		return tmpWal.Append(wal.OpInsert, key, value)
	})
	if mergeErr != nil {
		tmpWal.Close()
		os.Remove(tmpWalPath)
		return fmt.Errorf("table: compact: %w", mergeErr)
	}
	if err := tmpWal.Close(); err != nil {
		os.Remove(tmpWalPath)
		return fmt.Errorf("table: compact: %w", err)
	}

	if err := t.w.Close(); err != nil {
		return fmt.Errorf("table: compact: %w", err)
	}
	if err := os.Rename(tmpWalPath, t.walPath); err != nil {
		return fmt.Errorf("table: compact: rename wal: %w", err)
	}
	newW, err := wal.Open(t.walPath, t.opts.SyncOnWrite)
	if err != nil {
		return fmt.Errorf("table: compact: reopen wal: %w", err)
	}
	t.w = newW

	for _, seg := range toMerge {
		delete(t.segSet, seg.Path)
		if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("table: compact: remove %s: %w", seg.Path, err)
		}
	}
	t.segments = remain
	t.mem = merged
	return nil
}

// Close compacts, flushes the memtable if non-empty, and closes the WAL
// handle. It is idempotent.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	if err := t.Compact(); err != nil {
		return err
	}
	if !t.mem.IsEmpty() {
		if err := t.flush(); err != nil {
			return err
		}
	}
	if err := t.w.Close(); err != nil {
		return err
	}
	t.closed = true
	return nil
}
