package lm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var modelIDs atomic.Uint32

// NGram is a back-off n-gram model loaded into memory.
type NGram struct {
	id      uint32
	order   int
	counts  []uint64
	vocab   *vocabulary
	store   store
	format  string
	backend Backend

	begin State

	closed atomic.Bool
	active atomic.Int64

	// drained is closed by the last leave after Close
	drained     chan struct{}
	drainedOnce sync.Once
}

var _ Model = (*NGram)(nil)

// Load reads the model at path, which is either an ARPA file, optionally
// gzip, zstd, lz4 or bzip2 compressed, or a binary file written by Convert.
// Any failure is returned as a *LoadError.
func Load(path string, cfg Config) (*NGram, error) {
	start := time.Now()
	m, err := load(path, cfg)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	slog.Debug("loaded model", "path", path, "format", m.format, "backend", m.backend, "order", m.order, "vocab", m.vocab.Size(), "duration", time.Since(start))
	return m, nil
}

// LoadDefault loads path with DefaultConfig.
func LoadDefault(path string) (*NGram, error) {
	return Load(path, DefaultConfig())
}

func load(path string, cfg Config) (*NGram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return nil, fmt.Errorf("%w: is a directory", ErrUnsupportedFormat)
	}

	magic := make([]byte, len(binaryMagic))
	if _, err := f.ReadAt(magic, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if isBinary(magic) {
		vocab, s, hdr, err := loadBinary(f, fi.Size(), cfg)
		if err != nil {
			return nil, err
		}

		return newNGram(hdr.Order, hdr.Counts, vocab, s, "binary", BackendSorted), nil
	}

	r, closer, err := decompress(f)
	if err != nil {
		return nil, err
	}
	defer closer()

	b, err := readARPA(r, cfg)
	if err != nil {
		return nil, err
	}

	s, err := buildStore(b, cfg)
	if err != nil {
		return nil, err
	}

	return newNGram(b.order, b.counts(), b.vocab, s, "arpa", cfg.Backend), nil
}

func newNGram(order int, counts []uint64, vocab *vocabulary, s store, format string, backend Backend) *NGram {
	m := &NGram{
		id:      modelIDs.Add(1),
		order:   order,
		counts:  counts,
		vocab:   vocab,
		store:   s,
		format:  format,
		backend: backend,
		drained: make(chan struct{}),
	}

	m.begin = m.contextState([]WordIndex{beginSentenceIndex})
	return m
}

// enter registers an in-flight call. Every successful enter must be paired
// with leave.
func (m *NGram) enter() error {
	if m.closed.Load() {
		return ErrModelClosed
	}

	m.active.Add(1)
	if m.closed.Load() {
		m.leave()
		return ErrModelClosed
	}

	return nil
}

func (m *NGram) leave() {
	if m.active.Add(-1) == 0 && m.closed.Load() {
		m.drainedOnce.Do(func() { close(m.drained) })
	}
}

func (m *NGram) Vocabulary() Vocabulary { return m.vocab }
func (m *NGram) Order() int             { return m.order }

func (m *NGram) Counts() []uint64 {
	return append([]uint64(nil), m.counts...)
}

// Format is "arpa" or "binary".
func (m *NGram) Format() string { return m.format }

func (m *NGram) Backend() Backend { return m.backend }

func (m *NGram) BeginSentenceState() State {
	return m.begin
}

func (m *NGram) NullContextState() State {
	return State{model: m.id}
}

func (m *NGram) checkState(s State) error {
	// The zero State is accepted as the null context of any model.
	if s.model != m.id && !(s.model == 0 && s.length == 0) {
		return ErrForeignState
	}

	return nil
}

func (m *NGram) checkWord(w WordIndex) error {
	if int(w) >= m.vocab.Size() {
		return fmt.Errorf("%w: %d", ErrWordOutOfRange, w)
	}

	return nil
}

func (m *NGram) Score(in State, word WordIndex) (float32, State, error) {
	ret, out, err := m.FullScore(in, word)
	return ret.Prob, out, err
}

func (m *NGram) FullScore(in State, word WordIndex) (FullScoreReturn, State, error) {
	if err := m.enter(); err != nil {
		return FullScoreReturn{}, State{}, err
	}
	defer m.leave()

	if err := m.checkState(in); err != nil {
		return FullScoreReturn{}, State{}, err
	}

	if err := m.checkWord(word); err != nil {
		return FullScoreReturn{}, State{}, err
	}

	ret, out := m.fullScore(in, word)
	return ret, out, nil
}

func (m *NGram) fullScore(in State, word WordIndex) (FullScoreReturn, State) {
	out := State{model: m.id}

	e := m.store.unigram(word)
	prob := e.Prob
	out.words[0] = word
	out.backoff[0] = e.Backoff
	out.length = 1

	// key holds the n-gram being looked up, oldest word first, ending at
	// key[MaxOrder-1].
	var key [MaxOrder]WordIndex
	key[MaxOrder-1] = word

	matched := 0
	for i := 0; i < int(in.length); i++ {
		key[MaxOrder-2-i] = in.words[i]
		e, ok := m.store.lookup(key[MaxOrder-2-i:])
		if !ok {
			break
		}

		prob = e.Prob
		matched = i + 1
		if matched < m.order-1 {
			out.words[matched] = in.words[i]
			out.backoff[matched] = e.Backoff
			out.length = uint8(matched + 1)
		}
	}

	for i := matched; i < int(in.length); i++ {
		prob += in.backoff[i]
	}

	if m.order == 1 {
		out.length = 0
	}

	return FullScoreReturn{Prob: prob, NgramLength: matched + 1}, out
}

func (m *NGram) ContextState(context []WordIndex) (State, error) {
	if err := m.enter(); err != nil {
		return State{}, err
	}
	defer m.leave()

	for _, w := range context {
		if err := m.checkWord(w); err != nil {
			return State{}, err
		}
	}

	return m.contextState(context), nil
}

// contextState keeps the longest suffix of context, up to order-1 words,
// whose every suffix is a stored n-gram.
func (m *NGram) contextState(context []WordIndex) State {
	out := State{model: m.id}

	var key [MaxOrder]WordIndex
	for i := 0; i < min(len(context), m.order-1); i++ {
		w := context[len(context)-1-i]
		key[MaxOrder-1-i] = w

		var e Entry
		if i == 0 {
			e = m.store.unigram(w)
		} else {
			var ok bool
			if e, ok = m.store.lookup(key[MaxOrder-1-i:]); !ok {
				break
			}
		}

		out.words[i] = w
		out.backoff[i] = e.Backoff
		out.length = uint8(i + 1)
	}

	return out
}

func (m *NGram) Lookup(ngram []WordIndex) (Entry, bool) {
	if len(ngram) == 0 || len(ngram) > m.order {
		return Entry{}, false
	}

	if m.enter() != nil {
		return Entry{}, false
	}
	defer m.leave()

	for _, w := range ngram {
		if m.checkWord(w) != nil {
			return Entry{}, false
		}
	}

	if len(ngram) == 1 {
		return m.store.unigram(ngram[0]), true
	}

	return m.store.lookup(ngram)
}

func (m *NGram) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	if m.active.Load() > 0 {
		<-m.drained
	}

	return m.store.close()
}
