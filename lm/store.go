package lm

import (
	"slices"
	"sort"
	"strings"
)

// store holds the n-gram tables of a loaded model.
type store interface {
	// unigram returns the entry for w, which must be in range.
	unigram(w WordIndex) Entry

	// lookup finds an n-gram of order 2 or more, oldest word first.
	lookup(ngram []WordIndex) (Entry, bool)

	close() error
}

// builder collects the n-grams of a model while it is being read.
type builder struct {
	order    int
	vocab    *vocabulary
	unigrams []Entry

	// tables[k-2] holds the n-grams of order k.
	tables []*ngramTable
}

// maxPrealloc bounds allocations sized from counts declared in a file
// header, which are not trusted until the entries are read.
const maxPrealloc = 1 << 24

func newBuilder(order int, counts []uint64) *builder {
	unigrams := int(min(counts[0], maxPrealloc)) + int(numReserved)
	b := &builder{
		order:    order,
		vocab:    newVocabulary(unigrams),
		unigrams: make([]Entry, numReserved, unigrams),
		tables:   make([]*ngramTable, order-1),
	}

	for k := 2; k <= order; k++ {
		n := int(min(counts[k-1], maxPrealloc))
		b.tables[k-2] = &ngramTable{
			order:   k,
			words:   make([]WordIndex, 0, n*k),
			entries: make([]Entry, 0, n),
		}
	}

	return b
}

func (b *builder) counts() []uint64 {
	counts := make([]uint64, b.order)
	counts[0] = uint64(len(b.unigrams))
	for _, t := range b.tables {
		counts[t.order-1] = uint64(t.Len())
	}
	return counts
}

func (b *builder) describe(words []WordIndex) string {
	s := make([]string, len(words))
	for i, w := range words {
		s[i] = b.vocab.Word(w)
	}
	return strings.Join(s, " ")
}

type ngramTable struct {
	order   int
	words   []WordIndex
	entries []Entry
}

func (t *ngramTable) add(words []WordIndex, e Entry) {
	t.words = append(t.words, words...)
	t.entries = append(t.entries, e)
}

func (t *ngramTable) key(i int) []WordIndex {
	return t.words[i*t.order : (i+1)*t.order]
}

func (t *ngramTable) Len() int { return len(t.entries) }

func (t *ngramTable) Less(i, j int) bool {
	return slices.Compare(t.key(i), t.key(j)) < 0
}

func (t *ngramTable) Swap(i, j int) {
	a, b := t.key(i), t.key(j)
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
	t.entries[i], t.entries[j] = t.entries[j], t.entries[i]
}

// sortUnique sorts the table by word sequence and returns the index of a
// duplicated n-gram, or -1.
func (t *ngramTable) sortUnique() int {
	sort.Sort(t)
	for i := 1; i < t.Len(); i++ {
		if slices.Equal(t.key(i-1), t.key(i)) {
			return i
		}
	}
	return -1
}

func buildStore(b *builder, cfg Config) (store, error) {
	switch cfg.Backend {
	case BackendSorted:
		unigrams, tables, err := encodePacked(b, QuantizationF32)
		if err != nil {
			return nil, err
		}
		return newPackedStore(QuantizationF32, b.vocab.Size(), b.counts(), unigrams, tables)
	default:
		return newProbingStore(b, cfg.probingMultiplier())
	}
}
