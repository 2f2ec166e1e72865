package sstable

import (
	"path/filepath"
	"testing"

	"lsmkv/memtable"
)

func buildFixture(t *testing.T, entries map[string]string, tombstones []string) (*Table, string) {
	t.Helper()
	mt := memtable.New()
	for k, v := range entries {
		if err := mt.Insert([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	for _, k := range tombstones {
		if _, err := mt.Delete([]byte(k)); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), RandomSegmentName())
	tbl, err := Build(path, mt, BuildOptions{IndexInterval: 4})
	if err != nil {
		t.Fatal(err)
	}
	return tbl, path
}

func TestBuildAndGet(t *testing.T) {
	entries := map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5"}
	tbl, _ := buildFixture(t, entries, nil)

	for k, v := range entries {
		rec, ok, err := tbl.Get([]byte(k))
		if err != nil {
			t.Fatal(err)
		}
		if !ok || string(rec.Value) != v {
			t.Fatalf("key %q: got %+v, %v", k, rec, ok)
		}
	}
	if _, ok, err := tbl.Get([]byte("missing")); ok || err != nil {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestBuildPreservesTombstones(t *testing.T) {
	tbl, _ := buildFixture(t, map[string]string{"a": "1"}, []string{"a", "ghost"})
	rec, ok, err := tbl.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !rec.Tombstone {
		t.Fatalf("got %+v, %v", rec, ok)
	}
	rec, ok, err = tbl.Get([]byte("ghost"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !rec.Tombstone {
		t.Fatalf("got %+v, %v", rec, ok)
	}
}

func TestOpenRoundTrip(t *testing.T) {
	entries := map[string]string{}
	for i := 0; i < 50; i++ {
		entries[string(rune('a'+i%26))+string(rune('A'+i/26))] = "v"
	}
	_, path := buildFixture(t, entries, nil)

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for k := range entries {
		rec, ok, err := reopened.Get([]byte(k))
		if err != nil || !ok || string(rec.Value) != "v" {
			t.Fatalf("key %q: rec=%+v ok=%v err=%v", k, rec, ok, err)
		}
	}
}

func TestGetReportsMissForAbsentKey(t *testing.T) {
	tbl, _ := buildFixture(t, map[string]string{"a": "1"}, nil)
	// The Bloom filter may or may not reject an arbitrary absent key, but Get
	// on a clean miss must still report not-found regardless of what the
	// filter says.
	_, ok, err := tbl.Get([]byte("definitely-absent-key"))
	if err != nil || ok {
		t.Fatalf("got ok=%v err=%v", ok, err)
	}
}

func TestIteratorVisitsEveryRecordInOrder(t *testing.T) {
	entries := map[string]string{"a": "1", "b": "2", "c": "3"}
	tbl, _ := buildFixture(t, entries, []string{"d"})

	it, err := tbl.NewIterator()
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var last string
	count := 0
	for {
		rec, ok, err := it.Next()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		if last != "" && last > string(rec.Key) {
			t.Fatalf("out of order: %q after %q", rec.Key, last)
		}
		last = string(rec.Key)
		count++
	}
	if count != 4 {
		t.Fatalf("got %d records, want 4", count)
	}
}

func TestRandomSegmentNameShape(t *testing.T) {
	name := RandomSegmentName()
	if len(name) != 21 {
		t.Fatalf("got length %d, want 21", len(name))
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			t.Fatalf("non-alphabetic rune %q in segment name %q", c, name)
		}
	}
}
