package lm

import (
	"math"
)

// WordScore is the score of one word of a sentence.
type WordScore struct {
	Word        string
	Index       WordIndex
	Prob        float32
	NgramLength int
	OOV         bool
}

// SentenceScore is the result of ScoreSentence.
type SentenceScore struct {
	Words []WordScore

	// Total is the sum of the word log10 probabilities.
	Total float32
	OOVs  int
}

// ScoreSentence scores words in order. When bos is set the sentence starts
// from BeginSentenceState, otherwise from NullContextState. When eos is set
// </s> is scored after the last word.
func ScoreSentence(m Model, words []string, bos, eos bool) (SentenceScore, error) {
	vocab := m.Vocabulary()

	state := m.NullContextState()
	if bos {
		state = m.BeginSentenceState()
	}

	var result SentenceScore
	score := func(word string, id WordIndex) error {
		ret, next, err := m.FullScore(state, id)
		if err != nil {
			return err
		}

		ws := WordScore{
			Word:        word,
			Index:       id,
			Prob:        ret.Prob,
			NgramLength: ret.NgramLength,
			OOV:         id == vocab.NotFound(),
		}
		if ws.OOV {
			result.OOVs++
		}

		result.Words = append(result.Words, ws)
		result.Total += ret.Prob
		state = next
		return nil
	}

	for _, w := range words {
		if err := score(w, vocab.Index(w)); err != nil {
			return SentenceScore{}, err
		}
	}

	if eos {
		if err := score(EndSentenceWord, vocab.EndSentence()); err != nil {
			return SentenceScore{}, err
		}
	}

	return result, nil
}

// PerplexityStats accumulates sentence scores for corpus perplexity.
type PerplexityStats struct {
	Sentences int
	Words     int
	OOVs      int

	// LogProb is the total log10 probability of all scored tokens.
	LogProb float64

	// OOVLogProb is the part of LogProb contributed by OOV tokens.
	OOVLogProb float64
}

func (p *PerplexityStats) Add(s SentenceScore) {
	p.Sentences++
	for _, w := range s.Words {
		p.Words++
		p.LogProb += float64(w.Prob)
		if w.OOV {
			p.OOVs++
			p.OOVLogProb += float64(w.Prob)
		}
	}
}

// Perplexity is 10^(-LogProb/Words) over every scored token.
func (p PerplexityStats) Perplexity() float64 {
	if p.Words == 0 {
		return math.NaN()
	}

	return math.Pow(10, -p.LogProb/float64(p.Words))
}

// PerplexityExcludingOOVs leaves OOV tokens out of both the sum and the
// token count.
func (p PerplexityStats) PerplexityExcludingOOVs() float64 {
	n := p.Words - p.OOVs
	if n == 0 {
		return math.NaN()
	}

	return math.Pow(10, -(p.LogProb-p.OOVLogProb)/float64(n))
}
