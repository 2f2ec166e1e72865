package table

import (
	"path/filepath"
	"testing"
)

func tinyOptions() Options {
	opts := DefaultOptions()
	opts.MaxSegSize = 64 // force flushes quickly in tests
	opts.IndexInterval = 2
	return opts
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, filepath.Join(dir, "t.wal"), nil, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	if err := tbl.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tbl.Get([]byte("a"))
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
	if err := tbl.Delete([]byte("a")); err != nil {
		t.Fatal(err)
	}
	_, ok, err = tbl.Get([]byte("a"))
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestFlushAndReopenSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "t.wal")
	opts := tinyOptions()

	var lastSegPaths []string
	afterFlush := func(paths []string) error {
		lastSegPaths = paths
		return nil
	}

	tbl, err := Open(dir, walPath, nil, opts, afterFlush)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		k := []byte{byte('a' + i)}
		if err := tbl.Put(k, []byte("value-padded-out")); err != nil {
			t.Fatal(err)
		}
	}
	if len(lastSegPaths) == 0 {
		t.Fatal("expected at least one flush to have happened")
	}
	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, walPath, lastSegPaths, opts, afterFlush)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	v, ok, err := reopened.Get([]byte("a"))
	if err != nil || !ok || string(v) != "value-padded-out" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestDeleteSurvivesCloseReopen(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "t.wal")
	opts := DefaultOptions()

	var segPaths []string
	afterFlush := func(paths []string) error { segPaths = paths; return nil }

	tbl, err := Open(dir, walPath, nil, opts, afterFlush)
	if err != nil {
		t.Fatal(err)
	}
	tbl.Put([]byte("a"), []byte("1"))
	tbl.Delete([]byte("a"))
	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir, walPath, segPaths, opts, afterFlush)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	_, ok, err := reopened.Get([]byte("a"))
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want deletion to survive restart", ok, err)
	}
}

func TestCompactMergesSegmentsAndNewestWins(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "t.wal")
	opts := tinyOptions()
	opts.MaxSegSize = 40

	var segPaths []string
	afterFlush := func(paths []string) error { segPaths = paths; return nil }

	tbl, err := Open(dir, walPath, nil, opts, afterFlush)
	if err != nil {
		t.Fatal(err)
	}
	tbl.Put([]byte("a"), []byte("version-one-padded"))
	tbl.Put([]byte("b"), []byte("version-one-padded"))
	if len(segPaths) == 0 {
		t.Fatal("expected flush(es) before compacting")
	}
	tbl.Put([]byte("a"), []byte("version-two-padded"))

	if err := tbl.Compact(); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tbl.Get([]byte("a"))
	if err != nil || !ok || string(v) != "version-two-padded" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
	v, ok, err = tbl.Get([]byte("b"))
	if err != nil || !ok || string(v) != "version-one-padded" {
		t.Fatalf("v=%q ok=%v err=%v", v, ok, err)
	}
	tbl.Close()
}

func TestKeysDedupesAcrossMemtableAndSegments(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "t.wal")
	opts := tinyOptions()
	tbl, err := Open(dir, walPath, nil, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	tbl.Put([]byte("a"), []byte("12345678901234567890123456789012"))
	tbl.Put([]byte("b"), []byte("12345678901234567890123456789012")) // forces a flush
	tbl.Put([]byte("a"), []byte("2"))                 // newer, stays in memtable
	tbl.Delete([]byte("b"))

	keys, err := tbl.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("got %v, want [a]", keys)
	}
}

func TestOpportunisticCompactionBoundsSegmentCount(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "t.wal")
	opts := tinyOptions()
	opts.MaxSegSize = 40
	opts.MaxSegmentsBeforeCompact = 2

	var lastSegPaths []string
	afterFlush := func(paths []string) error { lastSegPaths = paths; return nil }

	tbl, err := Open(dir, walPath, nil, opts, afterFlush)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()

	for i := 0; i < 12; i++ {
		k := []byte{byte('a' + i)}
		if err := tbl.Put(k, []byte("padded-value-bytes")); err != nil {
			t.Fatal(err)
		}
	}
	if len(lastSegPaths) > opts.MaxSegmentsBeforeCompact {
		t.Fatalf("segment count %d exceeds MaxSegmentsBeforeCompact %d, opportunistic compaction never ran", len(lastSegPaths), opts.MaxSegmentsBeforeCompact)
	}
	for i := 0; i < 12; i++ {
		k := []byte{byte('a' + i)}
		v, ok, err := tbl.Get(k)
		if err != nil || !ok || string(v) != "padded-value-bytes" {
			t.Fatalf("key %q: v=%q ok=%v err=%v", k, v, ok, err)
		}
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, filepath.Join(dir, "t.wal"), nil, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Close()
	if err := tbl.Put(nil, []byte("v")); err != ErrEmptyKey {
		t.Fatalf("got %v", err)
	}
}

func TestOpsAfterCloseFail(t *testing.T) {
	dir := t.TempDir()
	tbl, err := Open(dir, filepath.Join(dir, "t.wal"), nil, DefaultOptions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Put([]byte("a"), []byte("1")); err != ErrClosed {
		t.Fatalf("got %v", err)
	}
}
