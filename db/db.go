// Package db is the engine facade: it owns the root file and the master
// table, and switches a single active user table in and out as the caller
// selects one with Use.
package db

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"lsmkv/master"
	"lsmkv/table"
)

var (
	ErrClosed        = errors.New("db: closed")
	ErrNoActiveTable = errors.New("db: no active table; call Use first")
)

// Options configures both the master table and every user table opened
// through Use.
type Options = table.Options

// DefaultOptions returns the default table options.
func DefaultOptions() Options { return table.DefaultOptions() }

// Db is an open database directory.
//
// mu does not provide genuine multi-writer concurrency (that remains a
// non-goal): it exists only to turn "callers must not invoke operations
// concurrently on the same Db" from a silent data race into a second
// caller that blocks, which is far easier to notice and fix.
type Db struct {
	mu sync.Mutex

	dir      string
	rootPath string
	opts     Options

	master *master.Master

	active     *table.Table
	activeName string

	closed bool
}

// Open opens the database directory at path, creating it if necessary, and
// opens the master table from the root file's segment list.
func Open(path string, opts Options) (*Db, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	rootPath := filepath.Join(path, "root")
	segPaths, err := readRootFile(rootPath)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	d := &Db{dir: path, rootPath: rootPath, opts: opts}
	m, err := master.Open(path, segPaths, opts, d.writeRootFile)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	d.master = m
	return d, nil
}

// OpenDefault opens path with DefaultOptions.
func OpenDefault(path string) (*Db, error) {
	return Open(path, DefaultOptions())
}

func (d *Db) writeRootFile(segmentPaths []string) error {
	return writeRootFile(d.rootPath, segmentPaths)
}

// Use switches the active user table to name, creating it (registering it
// in the master catalog) if it doesn't already exist. Switching away from
// the previous active table closes it first, which compacts and flushes it
// and registers its final segment list with the master.
func (d *Db) Use(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.active != nil {
		if err := d.active.Close(); err != nil {
			return fmt.Errorf("db: use %s: %w", name, err)
		}
		d.active = nil
		d.activeName = ""
	}

	paths, exists, err := d.master.Lookup(name)
	if err != nil {
		return fmt.Errorf("db: use %s: %w", name, err)
	}
	if !exists {
		if err := d.master.CreateTable(name); err != nil {
			return fmt.Errorf("db: use %s: %w", name, err)
		}
		paths = nil
	}

	walPath := filepath.Join(d.dir, name+".wal")
	afterFlush := func(segPaths []string) error {
		return d.master.RegisterUserSegments(name, segPaths)
	}
	t, err := table.Open(d.dir, walPath, paths, d.opts, afterFlush)
	if err != nil {
		return fmt.Errorf("db: use %s: %w", name, err)
	}
	d.active = t
	d.activeName = name
	return nil
}

// Active returns the name of the currently selected table, or "" if none.
func (d *Db) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeName
}

// warnNoActiveTable logs the "mutation without an active user table" usage
// error from §7 when opened with Verbose; the error is still always
// returned to the caller regardless.
func (d *Db) warnNoActiveTable(op string) {
	if d.opts.Verbose {
		log.Printf("db: %s: %v", op, ErrNoActiveTable)
	}
}

// Put inserts key/value into the active table.
func (d *Db) Put(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.active == nil {
		d.warnNoActiveTable("put")
		return ErrNoActiveTable
	}
	return d.active.Put(key, value)
}

// Delete marks key as deleted in the active table.
func (d *Db) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.active == nil {
		d.warnNoActiveTable("delete")
		return ErrNoActiveTable
	}
	return d.active.Delete(key)
}

// Get looks up key in the active table.
func (d *Db) Get(key []byte) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, false, ErrClosed
	}
	if d.active == nil {
		d.warnNoActiveTable("get")
		return nil, false, ErrNoActiveTable
	}
	return d.active.Get(key)
}

// Tables lists every user table name registered in the master catalog.
func (d *Db) Tables() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return d.master.Tables()
}

// Close closes the active table (if any), then the master table, and
// always rewrites the root file with the master's final segment list
// regardless of whether the master's own close triggered a flush.
func (d *Db) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if d.active != nil {
		if err := d.active.Close(); err != nil {
			return fmt.Errorf("db: close: %w", err)
		}
		d.active = nil
	}
	if err := d.master.Close(); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	if err := d.writeRootFile(d.master.SegmentPaths()); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	d.closed = true
	return nil
}
