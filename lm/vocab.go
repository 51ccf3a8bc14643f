package lm

const (
	UnknownWord       = "<unk>"
	BeginSentenceWord = "<s>"
	EndSentenceWord   = "</s>"
)

const (
	unknownIndex WordIndex = iota
	beginSentenceIndex
	endSentenceIndex
	numReserved
)

// Vocabulary maps words to indices. It is immutable once the model is
// loaded and safe for concurrent use.
type Vocabulary interface {
	// Index returns the index of word, or NotFound() if the word is not
	// in the vocabulary.
	Index(word string) WordIndex

	// Word returns the surface form of id, or "" if id is out of range.
	Word(id WordIndex) string

	BeginSentence() WordIndex
	EndSentence() WordIndex
	NotFound() WordIndex

	// Size is the number of words, including the reserved ones.
	Size() int
}

type vocabulary struct {
	words   []string
	indices map[string]WordIndex
}

func newVocabulary(capacity int) *vocabulary {
	v := &vocabulary{
		words:   make([]string, numReserved, max(capacity, int(numReserved))),
		indices: make(map[string]WordIndex, max(capacity, int(numReserved))),
	}

	v.words[unknownIndex] = UnknownWord
	v.words[beginSentenceIndex] = BeginSentenceWord
	v.words[endSentenceIndex] = EndSentenceWord
	for i, w := range v.words {
		v.indices[w] = WordIndex(i)
	}

	return v
}

// vocabularyFromWords rebuilds a vocabulary from its word list, as stored in
// binary model files.
func vocabularyFromWords(words []string) (*vocabulary, error) {
	if len(words) < int(numReserved) ||
		words[unknownIndex] != UnknownWord ||
		words[beginSentenceIndex] != BeginSentenceWord ||
		words[endSentenceIndex] != EndSentenceWord {
		return nil, formatErrorf(0, "vocabulary does not start with %s %s %s", UnknownWord, BeginSentenceWord, EndSentenceWord)
	}

	v := &vocabulary{
		words:   words,
		indices: make(map[string]WordIndex, len(words)),
	}

	for i, w := range words {
		if _, ok := v.indices[w]; ok {
			return nil, formatErrorf(0, "duplicate vocabulary word %q", w)
		}
		v.indices[w] = WordIndex(i)
	}

	return v, nil
}

// add inserts word and returns its index. The second result is false if the
// word was already present.
func (v *vocabulary) add(word string) (WordIndex, bool) {
	if id, ok := v.indices[word]; ok {
		return id, false
	}

	id := WordIndex(len(v.words))
	v.words = append(v.words, word)
	v.indices[word] = id
	return id, true
}

func (v *vocabulary) Index(word string) WordIndex {
	if id, ok := v.indices[word]; ok {
		return id
	}

	return unknownIndex
}

func (v *vocabulary) Word(id WordIndex) string {
	if int(id) >= len(v.words) {
		return ""
	}

	return v.words[id]
}

func (v *vocabulary) BeginSentence() WordIndex { return beginSentenceIndex }
func (v *vocabulary) EndSentence() WordIndex   { return endSentenceIndex }
func (v *vocabulary) NotFound() WordIndex      { return unknownIndex }
func (v *vocabulary) Size() int                { return len(v.words) }
