package decoder

import (
	"github.com/jmorganca/ngram/dict"
	"github.com/jmorganca/ngram/lm"
)

// NGramState is the language model state reached after a token together
// with the score of that token.
type NGramState struct {
	State lm.State
	Score float32
}

// NGramLM scores decoder tokens with an n-gram model. Tokens are mapped to
// model words through a dictionary; tokens without a dictionary entry and
// entries the model does not know score as <unk>.
type NGramLM struct {
	model  lm.Model
	labels []lm.WordIndex
}

func NewNGramLM(model lm.Model, d *dict.Dict) *NGramLM {
	vocab := model.Vocabulary()
	labels := make([]lm.WordIndex, d.MaxIndex()+1)
	for i := range labels {
		labels[i] = vocab.NotFound()
	}

	d.Range(func(entry string, idx int32) bool {
		labels[idx] = vocab.Index(entry)
		return true
	})

	return &NGramLM{model: model, labels: labels}
}

func (n *NGramLM) word(token int32) lm.WordIndex {
	if token < 0 || int(token) >= len(n.labels) {
		return n.model.Vocabulary().NotFound()
	}

	return n.labels[token]
}

func (n *NGramLM) Start() (*StateRef[NGramState], error) {
	return NewStateRef(NGramState{State: n.model.BeginSentenceState()}), nil
}

func (n *NGramLM) Score(state *StateRef[NGramState], token int32, size int) (*StateRef[NGramState], float32, error) {
	if c, ok := state.Lookup(token); ok {
		return c, c.State.Score, nil
	}

	prob, next, err := n.model.Score(state.State.State, n.word(token))
	if err != nil {
		return nil, 0, err
	}

	return state.Child(token, size, NGramState{State: next, Score: prob}), prob, nil
}

func (n *NGramLM) Finish(state *StateRef[NGramState]) (*StateRef[NGramState], float32, error) {
	prob, _, err := n.model.Score(state.State.State, n.model.Vocabulary().EndSentence())
	if err != nil {
		return nil, 0, err
	}

	return state, prob, nil
}
