// Package lm implements back-off n-gram language model scoring.
//
// A model is loaded once from an ARPA text file or a packed binary file and
// is immutable afterwards. Scoring is incremental: callers start from
// BeginSentenceState or NullContextState and feed each returned State back
// in together with the next word.
package lm

// WordIndex identifies a word in a Vocabulary.
type WordIndex uint32

// MaxOrder is the highest n-gram order a model may have.
const MaxOrder = 6

// Entry is the stored value of a single n-gram. Probabilities and backoffs
// are log10, as written in ARPA files.
type Entry struct {
	Prob    float32
	Backoff float32
}

// FullScoreReturn describes the result of scoring one word.
type FullScoreReturn struct {
	// Prob is the log10 probability of the word given the state, including
	// any backoff penalties.
	Prob float32

	// NgramLength is the length of the longest n-gram that matched, which
	// is always at least 1.
	NgramLength int
}

// Model is a loaded n-gram language model. Implementations are safe for
// concurrent use by multiple goroutines.
type Model interface {
	Vocabulary() Vocabulary

	// Order is the highest n-gram order stored in the model.
	Order() int

	// Counts holds the number of n-grams per order, starting at unigrams.
	Counts() []uint64

	// BeginSentenceState is the context right after <s>.
	BeginSentenceState() State

	// NullContextState is the empty context.
	NullContextState() State

	// Score returns the log10 probability of word following in and the
	// state to use for the next word.
	Score(in State, word WordIndex) (float32, State, error)

	// FullScore is like Score but also reports the matched n-gram length.
	FullScore(in State, word WordIndex) (FullScoreReturn, State, error)

	// ContextState builds the state for the given context, oldest word
	// first, without scoring it.
	ContextState(context []WordIndex) (State, error)

	// Lookup returns the stored entry for an exact n-gram, oldest word
	// first. The second result is false when the n-gram is absent.
	Lookup(ngram []WordIndex) (Entry, bool)

	// Close releases the model. It waits for in-flight scoring calls and is
	// safe to call more than once.
	Close() error
}
