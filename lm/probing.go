package lm

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

func hashWords(words []WordIndex) uint64 {
	var buf [4 * MaxOrder]byte
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(w))
	}
	return xxhash.Sum64(buf[:4*len(words)])
}

// probingTable is an open addressing hash table with linear probing over
// the n-grams of a single order.
type probingTable struct {
	order int
	mask  uint64

	// slots holds an entry index plus one; zero marks an empty slot.
	slots []uint32

	hashes  []uint64
	words   []WordIndex
	entries []Entry
}

func newProbingTable(t *ngramTable, multiplier float64) (*probingTable, int) {
	size := uint64(2)
	for want := uint64(float64(t.Len())*multiplier) + 1; size < want; {
		size <<= 1
	}

	p := &probingTable{
		order:   t.order,
		mask:    size - 1,
		slots:   make([]uint32, size),
		hashes:  make([]uint64, t.Len()),
		words:   t.words,
		entries: t.entries,
	}

	for i := range t.entries {
		key := t.key(i)
		h := hashWords(key)
		p.hashes[i] = h

		pos := h & p.mask
		for p.slots[pos] != 0 {
			if e := p.slots[pos] - 1; p.hashes[e] == h && slices.Equal(p.key(int(e)), key) {
				return nil, i
			}
			pos = (pos + 1) & p.mask
		}
		p.slots[pos] = uint32(i) + 1
	}

	return p, -1
}

func (p *probingTable) key(i int) []WordIndex {
	return p.words[i*p.order : (i+1)*p.order]
}

func (p *probingTable) lookup(ngram []WordIndex) (Entry, bool) {
	h := hashWords(ngram)
	for pos := h & p.mask; p.slots[pos] != 0; pos = (pos + 1) & p.mask {
		e := p.slots[pos] - 1
		if p.hashes[e] == h && slices.Equal(p.key(int(e)), ngram) {
			return p.entries[e], true
		}
	}

	return Entry{}, false
}

type probingStore struct {
	unigrams []Entry
	tables   []*probingTable
}

func newProbingStore(b *builder, multiplier float64) (*probingStore, error) {
	s := &probingStore{
		unigrams: b.unigrams,
		tables:   make([]*probingTable, len(b.tables)),
	}

	for i, t := range b.tables {
		p, dup := newProbingTable(t, multiplier)
		if dup >= 0 {
			return nil, formatErrorf(0, "duplicate %d-gram %q", t.order, b.describe(t.key(dup)))
		}
		s.tables[i] = p
	}

	return s, nil
}

func (s *probingStore) unigram(w WordIndex) Entry {
	return s.unigrams[w]
}

func (s *probingStore) lookup(ngram []WordIndex) (Entry, bool) {
	return s.tables[len(ngram)-2].lookup(ngram)
}

func (s *probingStore) close() error {
	return nil
}
