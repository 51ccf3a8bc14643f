package lm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// State is the context needed to score the next word: the longest suffix of
// the history that the model knows about, capped at MaxOrder-1 words.
//
// State is a value type and may be copied freely. Two states are equal when
// their word sequences are equal; compare them with Equal rather than ==.
type State struct {
	// words holds the context most recent first.
	words [MaxOrder - 1]WordIndex

	// backoff[i] is the backoff of the n-gram words[i], ..., words[0].
	backoff [MaxOrder - 1]float32

	length uint8

	// model identifies the model that produced the state.
	model uint32
}

// Len is the number of context words in the state.
func (s State) Len() int {
	return int(s.length)
}

// Words returns the context words, oldest first.
func (s State) Words() []WordIndex {
	words := make([]WordIndex, s.length)
	for i := range words {
		words[i] = s.words[int(s.length)-1-i]
	}
	return words
}

func (s State) Equal(other State) bool {
	return s.length == other.length && s.words == other.words
}

// Hash is a deterministic hash of the context words.
func (s State) Hash() uint64 {
	var buf [4 * (MaxOrder - 1)]byte
	for i := 0; i < int(s.length); i++ {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(s.words[i]))
	}
	return xxhash.Sum64(buf[:4*int(s.length)])
}

func (s State) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, w := range s.Words() {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d", w)
	}
	sb.WriteByte(']')
	return sb.String()
}
