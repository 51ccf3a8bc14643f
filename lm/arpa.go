package lm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

type arpaScanner struct {
	s    *bufio.Scanner
	line int

	// pending is a line that was read but not consumed.
	pending *string
}

func newARPAScanner(r io.Reader) *arpaScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64<<10), 16<<20)
	return &arpaScanner{s: s}
}

// next returns the next line with surrounding whitespace removed. It
// returns io.EOF at the end of input.
func (a *arpaScanner) next() (string, error) {
	if a.pending != nil {
		line := *a.pending
		a.pending = nil
		return line, nil
	}

	if !a.s.Scan() {
		if err := a.s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	a.line++
	return strings.TrimSpace(a.s.Text()), nil
}

func (a *arpaScanner) nextNonBlank() (string, error) {
	for {
		line, err := a.next()
		if err != nil || line != "" {
			return line, err
		}
	}
}

func (a *arpaScanner) unread(line string) {
	a.pending = &line
}

func (a *arpaScanner) errorf(format string, args ...any) error {
	return formatErrorf(a.line, format, args...)
}

// readARPA reads a model in ARPA text format.
func readARPA(r io.Reader, cfg Config) (*builder, error) {
	a := newARPAScanner(r)

	for {
		line, err := a.next()
		if errors.Is(err, io.EOF) {
			return nil, a.errorf(`missing \data\ header`)
		} else if err != nil {
			return nil, err
		}

		if line == `\data\` {
			break
		}
	}

	counts, err := readARPACounts(a)
	if err != nil {
		return nil, err
	}

	if len(counts) > cfg.maxOrder() {
		return nil, fmt.Errorf("%w: model has order %d, maximum is %d", ErrUnsupportedOrder, len(counts), cfg.maxOrder())
	}

	b := newBuilder(len(counts), counts)
	for k := 1; k <= len(counts); k++ {
		line, err := a.nextNonBlank()
		if errors.Is(err, io.EOF) {
			return nil, a.errorf(`missing \%d-grams: section`, k)
		} else if err != nil {
			return nil, err
		}

		if line != fmt.Sprintf(`\%d-grams:`, k) {
			return nil, a.errorf(`expected \%d-grams: but found %q`, k, line)
		}

		if k == 1 {
			err = readARPAUnigrams(a, b, counts[0], cfg)
		} else {
			err = readARPANgrams(a, b, k, counts[k-1])
		}
		if err != nil {
			return nil, err
		}
	}

	line, err := a.nextNonBlank()
	if errors.Is(err, io.EOF) {
		return nil, a.errorf(`missing \end\ marker`)
	} else if err != nil {
		return nil, err
	}

	if line != `\end\` {
		return nil, a.errorf(`expected \end\ but found %q`, line)
	}

	return b, nil
}

func readARPACounts(a *arpaScanner) ([]uint64, error) {
	var counts []uint64
	for {
		line, err := a.next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		if line == "" {
			if len(counts) > 0 {
				break
			}
			continue
		}

		if strings.HasPrefix(line, `\`) {
			a.unread(line)
			break
		}

		rest, ok := strings.CutPrefix(line, "ngram ")
		if !ok {
			return nil, a.errorf("expected n-gram count but found %q", line)
		}

		order, count, ok := strings.Cut(strings.TrimSpace(rest), "=")
		if !ok {
			return nil, a.errorf("malformed n-gram count %q", line)
		}

		k, err := strconv.Atoi(strings.TrimSpace(order))
		if err != nil || k != len(counts)+1 {
			return nil, a.errorf("n-gram counts out of order at %q", line)
		}

		n, err := strconv.ParseUint(strings.TrimSpace(count), 10, 64)
		if err != nil {
			return nil, a.errorf("malformed n-gram count %q", line)
		}

		counts = append(counts, n)
	}

	if len(counts) == 0 {
		return nil, a.errorf("no n-gram counts")
	}

	if counts[0] == 0 {
		return nil, a.errorf("model has no unigrams")
	}

	return counts, nil
}

// readARPAEntry parses "prob w1 .. wk [backoff]".
func readARPAEntry(a *arpaScanner, k, order int) ([]string, Entry, error) {
	line, err := a.nextNonBlank()
	if errors.Is(err, io.EOF) {
		return nil, Entry{}, a.errorf("unexpected end of file in %d-grams", k)
	} else if err != nil {
		return nil, Entry{}, err
	}

	if strings.HasPrefix(line, `\`) {
		return nil, Entry{}, a.errorf("%d-gram section ended early at %q", k, line)
	}

	fields := strings.Fields(line)
	switch {
	case len(fields) == k+1:
	case len(fields) == k+2 && k < order:
	default:
		return nil, Entry{}, a.errorf("expected %d-gram but found %q", k, line)
	}

	prob, err := strconv.ParseFloat(fields[0], 32)
	if err != nil {
		return nil, Entry{}, a.errorf("malformed probability %q", fields[0])
	}

	if prob > 0 {
		return nil, Entry{}, a.errorf("positive log probability %s", fields[0])
	}

	e := Entry{Prob: float32(prob)}
	if len(fields) == k+2 {
		backoff, err := strconv.ParseFloat(fields[k+1], 32)
		if err != nil {
			return nil, Entry{}, a.errorf("malformed backoff %q", fields[k+1])
		}
		e.Backoff = float32(backoff)
	}

	return fields[1 : k+1], e, nil
}

func readARPAUnigrams(a *arpaScanner, b *builder, count uint64, cfg Config) error {
	var seen [numReserved]bool
	for range count {
		words, e, err := readARPAEntry(a, 1, b.order)
		if err != nil {
			return err
		}

		id, added := b.vocab.add(words[0])
		switch {
		case id < numReserved:
			if seen[id] {
				return a.errorf("duplicate unigram %q", words[0])
			}
			seen[id] = true
			b.unigrams[id] = e
		case !added:
			return a.errorf("duplicate unigram %q", words[0])
		default:
			b.unigrams = append(b.unigrams, e)
		}
	}

	if !seen[beginSentenceIndex] {
		return a.errorf("model is missing %s", BeginSentenceWord)
	}

	if !seen[endSentenceIndex] {
		return a.errorf("model is missing %s", EndSentenceWord)
	}

	if !seen[unknownIndex] {
		slog.Warn("model is missing <unk>, substituting", "logprob", cfg.unknownLogProb())
		b.unigrams[unknownIndex] = Entry{Prob: cfg.unknownLogProb()}
	}

	return nil
}

func readARPANgrams(a *arpaScanner, b *builder, k int, count uint64) error {
	t := b.tables[k-2]
	ids := make([]WordIndex, k)
	for range count {
		words, e, err := readARPAEntry(a, k, b.order)
		if err != nil {
			return err
		}

		for i, w := range words {
			id, ok := b.vocab.indices[w]
			if !ok {
				return a.errorf("%d-gram contains unknown word %q", k, w)
			}
			ids[i] = id
		}

		t.add(ids, e)
	}

	return nil
}
