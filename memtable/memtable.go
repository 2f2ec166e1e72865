package memtable

import "lsmkv/format"

// Memtable is the mutable, in-memory front end of a table: a red-black tree
// keyed by raw bytes, holding both live records and tombstones. It never
// performs a structural delete -- a Delete just flips a node's tombstone
// flag, or inserts a fresh tombstone node if the key was never seen before,
// so shadowed records in older segments stay shadowed until compaction
// drops them.
type Memtable struct {
	root     *node
	n        int // live (non-tombstone) record count
	dataSize int // sum of live key+value bytes
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{root: nilNode}
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

// Insert adds or overwrites a live record for key. Inserting over a
// tombstone resurrects the key as live.
func (m *Memtable) Insert(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if n := m.find(key); n != nilNode {
		if n.tombstone {
			m.n++
			m.dataSize += len(key) + len(value)
		} else {
			m.dataSize += len(value) - len(n.value)
		}
		n.value = cloneBytes(value)
		n.tombstone = false
		return nil
	}
	z := &node{key: cloneBytes(key), value: cloneBytes(value)}
	m.insertNode(z)
	m.n++
	m.dataSize += len(key) + len(value)
	return nil
}

// Delete marks key as deleted. It reports whether the call changed the
// memtable: true when a live value was tombstoned or a fresh tombstone was
// inserted for an absent key, false when the key was already a tombstone.
func (m *Memtable) Delete(key []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if n := m.find(key); n != nilNode {
		if n.tombstone {
			return false, nil
		}
		m.dataSize -= len(key) + len(n.value)
		n.value = nil
		n.tombstone = true
		m.n--
		return true, nil
	}
	z := &node{key: cloneBytes(key), tombstone: true}
	m.insertNode(z)
	return true, nil
}

// Get returns the record stored for key, including tombstones. Callers that
// need to stop a search through older segments on a delete (rather than
// treat it as absent) should check Record.Tombstone themselves; Lookup does
// that filtering for callers that just want live values.
func (m *Memtable) Get(key []byte) (Record, bool) {
	n := m.find(key)
	if n == nilNode {
		return Record{}, false
	}
	return Record{Key: cloneBytes(n.key), Value: cloneBytes(n.value), Tombstone: n.tombstone}, true
}

// Lookup returns a live value for key, or ok=false for both an absent key
// and a tombstoned one.
func (m *Memtable) Lookup(key []byte) (Record, bool) {
	r, ok := m.Get(key)
	if !ok || r.Tombstone {
		return Record{}, false
	}
	return r, true
}

// Min returns the smallest key currently held, live or tombstoned.
func (m *Memtable) Min() (Record, bool) {
	n := m.root
	if n == nilNode {
		return Record{}, false
	}
	for n.left != nilNode {
		n = n.left
	}
	return Record{Key: cloneBytes(n.key), Value: cloneBytes(n.value), Tombstone: n.tombstone}, true
}

// Len returns the number of live (non-tombstone) records.
func (m *Memtable) Len() int { return m.n }

// DataSize returns the raw sum of live key+value bytes.
func (m *Memtable) DataSize() int { return m.dataSize }

// IsEmpty reports whether the tree holds no records at all, live or
// tombstoned.
func (m *Memtable) IsEmpty() bool { return m.root == nilNode }

// ByteFootprint estimates the on-disk size a flush of this memtable would
// produce, and is what triggers a flush once it crosses a table's
// MaxSegSize.
func (m *Memtable) ByteFootprint() int {
	return m.dataSize + m.n*(format.RecordLenSz+format.KeySizeSz+format.FlagsSz)
}

// NewCursor returns an ascending-order cursor over every record, live and
// tombstoned.
func (m *Memtable) NewCursor() *Cursor {
	return newCursor(m.root)
}

// Ascend calls fn for every record in ascending key order, stopping early if
// fn returns false.
func (m *Memtable) Ascend(fn func(Record) bool) {
	c := m.NewCursor()
	for {
		r, ok := c.Next()
		if !ok {
			return
		}
		if !fn(r) {
			return
		}
	}
}
