// Package dict maps decoder labels, such as characters or word pieces, to
// the integer tokens produced by an acoustic model.
package dict

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

var (
	ErrDuplicateEntry = errors.New("duplicate entry in dictionary")
	ErrMissingIndex   = errors.New("missing index in dictionary")
	ErrMissingEntry   = errors.New("missing entry in dictionary")
	ErrNegativeIndex  = errors.New("negative index in dictionary")
)

type Dict struct {
	entries map[string]int32
	indices map[int32]string
}

func New() *Dict {
	return &Dict{
		entries: make(map[string]int32),
		indices: make(map[int32]string),
	}
}

// Read parses the dictionary file at path.
func Read(path string) (*Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads one entry per line. Entries are numbered from zero in the
// order they appear. Surrounding whitespace is trimmed, so a line holding a
// single space is the empty entry.
func Parse(r io.Reader) (*Dict, error) {
	d := New()

	s := bufio.NewScanner(r)
	for s.Scan() {
		if _, err := d.Add(strings.TrimSpace(s.Text())); err != nil {
			return nil, err
		}
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	return d, nil
}

// FromEntries builds a dictionary with entries numbered in order.
func FromEntries(entries ...string) (*Dict, error) {
	d := New()
	for _, e := range entries {
		if _, err := d.Add(e); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *Dict) Len() int {
	return len(d.entries)
}

// Add inserts entry at the lowest free index that is not below Len and
// returns that index.
func (d *Dict) Add(entry string) (int32, error) {
	idx := int32(len(d.entries))
	for {
		if _, ok := d.indices[idx]; !ok {
			break
		}
		idx++
	}

	if err := d.AddAt(entry, idx); err != nil {
		return 0, err
	}

	return idx, nil
}

// AddAt inserts entry at idx, which must be non-negative.
func (d *Dict) AddAt(entry string, idx int32) error {
	if idx < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeIndex, idx)
	}

	if _, ok := d.entries[entry]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, entry)
	}

	if _, ok := d.indices[idx]; ok {
		return fmt.Errorf("%w: index %d", ErrDuplicateEntry, idx)
	}

	d.entries[entry] = idx
	d.indices[idx] = entry
	return nil
}

func (d *Dict) Entry(idx int32) (string, error) {
	e, ok := d.indices[idx]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrMissingIndex, idx)
	}

	return e, nil
}

func (d *Dict) Index(entry string) (int32, error) {
	idx, ok := d.entries[entry]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingEntry, entry)
	}

	return idx, nil
}

// MaxIndex is the largest index in use, or -1 for an empty dictionary.
func (d *Dict) MaxIndex() int32 {
	if len(d.indices) == 0 {
		return -1
	}

	return slices.Max(d.sortedIndices())
}

func (d *Dict) sortedIndices() []int32 {
	indices := make([]int32, 0, len(d.indices))
	for idx := range d.indices {
		indices = append(indices, idx)
	}
	slices.Sort(indices)
	return indices
}

// Range calls fn for every entry in index order until fn returns false.
func (d *Dict) Range(fn func(entry string, idx int32) bool) {
	for _, idx := range d.sortedIndices() {
		if !fn(d.indices[idx], idx) {
			return
		}
	}
}
