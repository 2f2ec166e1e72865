// Package bloom implements a Bloom filter used by sstable to let Table.Get
// skip a segment without touching disk when a key provably isn't in it.
// False positives are possible; false negatives are not.
package bloom

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"lsmkv/format"
)

// wordBits is the width of one element of the filter's backing store. Using
// uint64 words instead of a flat byte buffer means Add/MaybeContains touch
// one machine word per probe, and the on-disk payload is always a whole
// number of words.
const wordBits = 64

// Filter is a fixed-size set-membership sketch: k independent probes into an
// m-bit array sized for an expected key population. It never produces a
// false negative; MaybeContains may report a false positive at a rate that
// grows with how full the filter gets relative to its original sizing.
type Filter struct {
	k     uint8
	nbits uint64
	words []uint64
}

// New allocates a filter sized for at least nbits total bits and k probes
// per key.
func New(nbits uint64, k uint8) *Filter {
	if k == 0 {
		k = format.DefaultBloomHashes
	}
	if nbits < wordBits {
		nbits = wordBits
	}
	nwords := (nbits + wordBits - 1) / wordBits
	return &Filter{k: k, nbits: nwords * wordBits, words: make([]uint64, nwords)}
}

// NewForKeys sizes a filter for an expected population of nkeys, at
// bitsPerKey bits per key and k probes per key.
func NewForKeys(nkeys int, bitsPerKey uint32, k uint8) *Filter {
	if nkeys < 1 {
		nkeys = 1
	}
	if bitsPerKey == 0 {
		bitsPerKey = format.DefaultBloomBitsPerKey
	}
	return New(uint64(nkeys)*uint64(bitsPerKey), k)
}

// Add records key's membership.
func (f *Filter) Add(key []byte) {
	base, step := probeSeeds(key)
	for i := uint8(0); i < f.k; i++ {
		f.setBit(f.slot(base, step, i))
	}
}

// MaybeContains reports whether key might be present. false is a hard
// negative; true may be a false positive.
func (f *Filter) MaybeContains(key []byte) bool {
	base, step := probeSeeds(key)
	for i := uint8(0); i < f.k; i++ {
		if !f.getBit(f.slot(base, step, i)) {
			return false
		}
	}
	return true
}

// slot computes the i'th probe position via Kirsch-Mitzenmacher double
// hashing, bit_i = (base + i*step) mod nbits, instead of running k
// independent hash functions.
func (f *Filter) slot(base, step uint64, i uint8) uint64 {
	return (base + uint64(i)*step) % f.nbits
}

func (f *Filter) setBit(bit uint64) {
	f.words[bit/wordBits] |= 1 << (bit % wordBits)
}

func (f *Filter) getBit(bit uint64) bool {
	return f.words[bit/wordBits]&(1<<(bit%wordBits)) != 0
}

// FalsePositiveRate estimates the filter's current miss rate for a segment
// holding n stored keys, using the standard (1-e^(-kn/m))^k approximation.
// It gates no correctness decision; callers use it only for diagnostic
// logging.
func (f *Filter) FalsePositiveRate(n int) float64 {
	if n <= 0 || f.nbits == 0 {
		return 0
	}
	exp := -float64(f.k) * float64(n) / float64(f.nbits)
	return math.Pow(1-math.Exp(exp), float64(f.k))
}

// Encode serializes the filter as k(1) nbits(8) words(8 bytes each, LE).
func (f *Filter) Encode() []byte {
	out := make([]byte, 1+8+8*len(f.words))
	out[0] = f.k
	binary.LittleEndian.PutUint64(out[1:9], f.nbits)
	for i, w := range f.words {
		binary.LittleEndian.PutUint64(out[9+i*8:17+i*8], w)
	}
	return out
}

// Decode reconstructs a filter from Encode's output. ok is false if b is
// malformed. An empty b decodes to a minimal always-empty filter, since a
// segment built from zero records never calls Add.
func Decode(b []byte) (f *Filter, ok bool) {
	if len(b) == 0 {
		return New(wordBits, format.DefaultBloomHashes), true
	}
	if len(b) < 9 {
		return nil, false
	}
	k := b[0]
	nbits := binary.LittleEndian.Uint64(b[1:9])
	body := b[9:]
	if nbits == 0 || k == 0 || nbits%wordBits != 0 {
		return nil, false
	}
	nwords := nbits / wordBits
	if uint64(len(body)) != nwords*8 {
		return nil, false
	}
	words := make([]uint64, nwords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(body[i*8 : i*8+8])
	}
	return &Filter{k: k, nbits: nbits, words: words}, true
}

// probeSeeds derives two independent 64-bit hashes of key: an FNV-1a digest
// of the key itself, and a digest of the key under a distinct salt, used as
// the base and step of the double-hashing scheme above.
func probeSeeds(key []byte) (base, step uint64) {
	h := fnv.New64a()
	_, _ = h.Write(key)
	base = h.Sum64()

	h.Reset()
	_, _ = h.Write(key)
	_, _ = h.Write([]byte("bloom-step"))
	step = h.Sum64()
	if step == 0 {
		step = base | 1
	}
	return base, step
}
