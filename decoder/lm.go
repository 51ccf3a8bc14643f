package decoder

// StateRef is a node in a trie of language model states keyed by token.
// Two hypotheses share a StateRef exactly when the language model saw the
// same token history, so pointer equality identifies them.
//
// A StateRef is not safe for concurrent use.
type StateRef[T any] struct {
	State T

	children []*StateRef[T]
}

func NewStateRef[T any](state T) *StateRef[T] {
	return &StateRef[T]{State: state}
}

// Child returns the node for token, creating it with state if it does not
// exist yet. n is the number of tokens; one extra slot is reserved for the
// end of sentence.
func (r *StateRef[T]) Child(token int32, n int, state T) *StateRef[T] {
	if r.children == nil {
		r.children = make([]*StateRef[T], n+1)
	}

	if c := r.children[token]; c != nil {
		return c
	}

	c := NewStateRef(state)
	r.children[token] = c
	return c
}

// Lookup returns an existing child.
func (r *StateRef[T]) Lookup(token int32) (*StateRef[T], bool) {
	if int(token) >= len(r.children) || r.children[token] == nil {
		return nil, false
	}

	return r.children[token], true
}

// LM scores token continuations during beam search.
type LM[T any] interface {
	// Start returns the root state for a new utterance.
	Start() (*StateRef[T], error)

	// Score returns the state after token and its log probability.
	Score(state *StateRef[T], token int32, n int) (*StateRef[T], float32, error)

	// Finish scores the end of the utterance.
	Finish(state *StateRef[T]) (*StateRef[T], float32, error)
}

// ZeroLM scores every token as zero.
type ZeroLM struct{}

func (ZeroLM) Start() (*StateRef[struct{}], error) {
	return NewStateRef(struct{}{}), nil
}

func (ZeroLM) Score(state *StateRef[struct{}], token int32, n int) (*StateRef[struct{}], float32, error) {
	return state.Child(token, n, struct{}{}), 0, nil
}

func (ZeroLM) Finish(state *StateRef[struct{}]) (*StateRef[struct{}], float32, error) {
	return state, 0, nil
}
