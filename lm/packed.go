package lm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Quantization is the storage width of probabilities and backoffs in the
// packed representation.
type Quantization int

const (
	QuantizationF32 Quantization = iota
	QuantizationF16
	QuantizationBF16
)

func (q Quantization) String() string {
	switch q {
	case QuantizationF32:
		return "f32"
	case QuantizationF16:
		return "f16"
	case QuantizationBF16:
		return "bf16"
	default:
		return fmt.Sprintf("Quantization(%d)", int(q))
	}
}

func ParseQuantization(s string) (Quantization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "fp32", "float32":
		return QuantizationF32, nil
	case "f16", "fp16", "float16":
		return QuantizationF16, nil
	case "bf16", "bfloat16":
		return QuantizationBF16, nil
	default:
		return 0, fmt.Errorf("unknown quantization %q", s)
	}
}

func (q Quantization) size() int {
	switch q {
	case QuantizationF16, QuantizationBF16:
		return 2
	default:
		return 4
	}
}

func (q Quantization) put(b []byte, f float32) {
	switch q {
	case QuantizationF16:
		binary.LittleEndian.PutUint16(b, float16.Fromfloat32(f).Bits())
	case QuantizationBF16:
		copy(b, bfloat16.ToBytes(bfloat16.FromFloat32(f)))
	default:
		binary.LittleEndian.PutUint32(b, math.Float32bits(f))
	}
}

func (q Quantization) get(b []byte) float32 {
	switch q {
	case QuantizationF16:
		return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
	case QuantizationBF16:
		return bfloat16.ToFloat32(bfloat16.FromBytes(b))
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
}

// packedStride is the size of one record of order k in a model of the given
// order. The highest order carries no backoff.
func packedStride(k, order int, q Quantization) int {
	stride := 4*k + q.size()
	if k < order {
		stride += q.size()
	}
	return stride
}

// encodePacked lays out the builder's n-grams as sorted fixed-stride
// records. It sorts the builder's tables in place.
func encodePacked(b *builder, q Quantization) ([]byte, [][]byte, error) {
	sz := q.size()
	unigrams := make([]byte, len(b.unigrams)*2*sz)
	for i, e := range b.unigrams {
		q.put(unigrams[i*2*sz:], e.Prob)
		q.put(unigrams[i*2*sz+sz:], e.Backoff)
	}

	tables := make([][]byte, len(b.tables))
	for i, t := range b.tables {
		if dup := t.sortUnique(); dup >= 0 {
			return nil, nil, formatErrorf(0, "duplicate %d-gram %q", t.order, b.describe(t.key(dup)))
		}

		stride := packedStride(t.order, b.order, q)
		data := make([]byte, t.Len()*stride)
		for j, e := range t.entries {
			rec := data[j*stride : (j+1)*stride]
			for k, w := range t.key(j) {
				binary.LittleEndian.PutUint32(rec[4*k:], uint32(w))
			}
			q.put(rec[4*t.order:], e.Prob)
			if t.order < b.order {
				q.put(rec[4*t.order+sz:], e.Backoff)
			}
		}
		tables[i] = data
	}

	return unigrams, tables, nil
}

type packedTable struct {
	order      int
	n          int
	stride     int
	hasBackoff bool
	data       []byte
}

func (t *packedTable) compare(i int, ngram []WordIndex) int {
	rec := t.data[i*t.stride:]
	for k, w := range ngram {
		switch v := WordIndex(binary.LittleEndian.Uint32(rec[4*k:])); {
		case v < w:
			return -1
		case v > w:
			return 1
		}
	}
	return 0
}

// packedStore serves lookups from sorted records, either read into memory
// or memory mapped.
type packedStore struct {
	quant    Quantization
	unigrams []byte
	tables   []packedTable

	release func() error
}

func newPackedStore(q Quantization, vocabSize int, counts []uint64, unigrams []byte, tables [][]byte) (*packedStore, error) {
	order := len(counts)
	if len(tables) != order-1 {
		return nil, formatErrorf(0, "expected %d n-gram tables, found %d", order-1, len(tables))
	}

	if want := vocabSize * 2 * q.size(); len(unigrams) != want || counts[0] != uint64(vocabSize) {
		return nil, formatErrorf(0, "unigram table has %d bytes for %d words", len(unigrams), vocabSize)
	}

	s := &packedStore{
		quant:    q,
		unigrams: unigrams,
		tables:   make([]packedTable, order-1),
	}

	for k := 2; k <= order; k++ {
		stride := packedStride(k, order, q)
		n := int(counts[k-1])
		if len(tables[k-2]) != n*stride {
			return nil, formatErrorf(0, "%d-gram table has %d bytes, expected %d", k, len(tables[k-2]), n*stride)
		}

		s.tables[k-2] = packedTable{
			order:      k,
			n:          n,
			stride:     stride,
			hasBackoff: k < order,
			data:       tables[k-2],
		}
	}

	return s, nil
}

func (s *packedStore) unigram(w WordIndex) Entry {
	sz := s.quant.size()
	off := int(w) * 2 * sz
	return Entry{
		Prob:    s.quant.get(s.unigrams[off:]),
		Backoff: s.quant.get(s.unigrams[off+sz:]),
	}
}

func (s *packedStore) lookup(ngram []WordIndex) (Entry, bool) {
	t := &s.tables[len(ngram)-2]

	lo, hi := 0, t.n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch c := t.compare(mid, ngram); {
		case c < 0:
			lo = mid + 1
		case c > 0:
			hi = mid
		default:
			rec := t.data[mid*t.stride+4*t.order:]
			e := Entry{Prob: s.quant.get(rec)}
			if t.hasBackoff {
				e.Backoff = s.quant.get(rec[s.quant.size():])
			}
			return e, true
		}
	}

	return Entry{}, false
}

func (s *packedStore) close() error {
	if s.release == nil {
		return nil
	}

	release := s.release
	s.release = nil
	return release()
}
