package lm

import (
	"fmt"
	"strings"
)

// Backend selects the in-memory representation of n-grams above order 1.
type Backend int

const (
	// BackendProbing stores n-grams in open addressing hash tables.
	BackendProbing Backend = iota

	// BackendSorted stores n-grams as fixed-stride records sorted by word
	// sequence and searches them with binary search. Binary model files
	// always use this backend.
	BackendSorted
)

func (b Backend) String() string {
	switch b {
	case BackendProbing:
		return "probing"
	case BackendSorted:
		return "sorted"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "probing", "hash":
		return BackendProbing, nil
	case "sorted", "trie":
		return BackendSorted, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

// Config controls how a model is loaded.
type Config struct {
	Backend Backend

	// MaxOrder rejects models of a higher order. Zero means MaxOrder.
	MaxOrder int

	// ProbingMultiplier is the ratio of hash table slots to entries for
	// BackendProbing. Values below 1.1 are raised to 1.1.
	ProbingMultiplier float64

	// Mmap maps binary model files into memory instead of reading them.
	Mmap bool

	// UnknownLogProb is the log10 probability given to <unk> when the
	// model does not define it.
	UnknownLogProb float32
}

func DefaultConfig() Config {
	return Config{
		Backend:           BackendProbing,
		MaxOrder:          MaxOrder,
		ProbingMultiplier: 1.5,
		Mmap:              true,
		UnknownLogProb:    -100,
	}
}

func (c Config) maxOrder() int {
	if c.MaxOrder <= 0 || c.MaxOrder > MaxOrder {
		return MaxOrder
	}

	return c.MaxOrder
}

func (c Config) probingMultiplier() float64 {
	if c.ProbingMultiplier < 1.1 {
		return 1.1
	}

	return c.ProbingMultiplier
}

func (c Config) unknownLogProb() float32 {
	if c.UnknownLogProb == 0 {
		return -100
	}

	return c.UnknownLogProb
}
