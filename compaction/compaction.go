// Package compaction implements the k-way merge behind Table.Compact
// (§4.4a): the memtable plus however many of the newest segments fit the
// size budget are walked together with a container/heap, and for each key
// the newest stream's record wins.
package compaction

import (
	"bytes"
	"container/heap"
	"fmt"

	"lsmkv/memtable"
	"lsmkv/sstable"
)

// stream is one ordered input to the merge. priority 0 is the memtable
// (always the newest data); priorities 1..N are segments in their existing
// newest-first order. Ties on key are broken in favor of the lower
// priority number.
type stream struct {
	priority int
	cur      memtable.Record
	ok       bool
	memIter  *memtable.Cursor
	sstIter  *sstable.RecordIterator
}

func (s *stream) advance() error {
	if s.memIter != nil {
		s.cur, s.ok = s.memIter.Next()
		return nil
	}
	r, ok, err := s.sstIter.Next()
	if err != nil {
		return err
	}
	s.cur, s.ok = r, ok
	return nil
}

type mergeHeap []*stream

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].cur.Key, h[j].cur.Key)
	if c != 0 {
		return c < 0
	}
	return h[i].priority < h[j].priority
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(*stream)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Merge walks mem (newest) and segments (newest-first) together and writes
// the winning record per key into dst. When walAppend is non-nil it is
// called once per emitted record so the caller can make the merged result
// itself crash-recoverable by re-logging it to a WAL.
func Merge(mem *memtable.Memtable, segments []*sstable.Table, dst *memtable.Memtable, walAppend func(key, value []byte, tombstone bool) error) error {
	streams := make([]*stream, 0, len(segments)+1)
	var iters []*sstable.RecordIterator
	defer func() {
		for _, it := range iters {
			_ = it.Close()
		}
	}()

	memStream := &stream{priority: 0, memIter: mem.NewCursor()}
	if err := memStream.advance(); err != nil {
		return fmt.Errorf("compaction: %w", err)
	}
	streams = append(streams, memStream)

	for i, seg := range segments {
		it, err := seg.NewIterator()
		if err != nil {
			return fmt.Errorf("compaction: %w", err)
		}
		iters = append(iters, it)
		s := &stream{priority: i + 1, sstIter: it}
		if err := s.advance(); err != nil {
			return fmt.Errorf("compaction: %w", err)
		}
		streams = append(streams, s)
	}

	h := &mergeHeap{}
	for _, s := range streams {
		if s.ok {
			heap.Push(h, s)
		}
	}

	var pendingKey []byte
	var pending memtable.Record
	havePending := false

	emit := func() error {
		if !havePending {
			return nil
		}
		var err error
		if pending.Tombstone {
			_, err = dst.Delete(pending.Key)
		} else {
			err = dst.Insert(pending.Key, pending.Value)
		}
		if err != nil {
			return err
		}
		if walAppend != nil {
			if err := walAppend(pending.Key, pending.Value, pending.Tombstone); err != nil {
				return err
			}
		}
		havePending = false
		return nil
	}

	for h.Len() > 0 {
		s := heap.Pop(h).(*stream)
		r := s.cur
		if !havePending || !bytes.Equal(r.Key, pendingKey) {
			if err := emit(); err != nil {
				return fmt.Errorf("compaction: %w", err)
			}
			pendingKey = append([]byte(nil), r.Key...)
			pending = r
			havePending = true
		}
		// A same-key pop here is always an older duplicate: the heap's tie
		// break guarantees the newest stream for a key surfaces first, so
		// r is simply discarded once pending already holds that key.
		if err := s.advance(); err != nil {
			return fmt.Errorf("compaction: %w", err)
		}
		if s.ok {
			heap.Push(h, s)
		}
	}
	if err := emit(); err != nil {
		return fmt.Errorf("compaction: %w", err)
	}
	return nil
}
