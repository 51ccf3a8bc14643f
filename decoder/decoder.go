// Package decoder turns per-step token scores from a CTC acoustic model into
// token sequences, optionally guided by a language model.
package decoder

import (
	"errors"
	"fmt"
)

var ErrShape = errors.New("emission shape mismatch")

// Output is one decoded hypothesis.
type Output struct {
	Score float32 `json:"score"`

	// Tokens holds one token per emitted label. Repeated labels separated
	// by a blank appear twice. Blanks are never included.
	Tokens    []int32   `json:"tokens"`
	Timesteps []int     `json:"timesteps"`
	AMScores  []float32 `json:"am_scores"`
	LMScores  []float32 `json:"lm_scores"`
}

// ReducedTokens collapses consecutive repeats and removes blank. Tokens is
// already collapsed by the decoders, so this only applies to a per-step
// label sequence, such as one with a token at every step.
func (o Output) ReducedTokens(blank int32) []int32 {
	var out []int32
	last := blank
	for _, tok := range o.Tokens {
		if tok != last && tok != blank {
			out = append(out, tok)
		}
		last = tok
	}
	return out
}

// Decoder decodes a row-major steps x tokens matrix of log probabilities.
// Outputs are sorted by descending score.
type Decoder interface {
	Decode(data []float32, steps, tokens int, blank int32) ([]Output, error)
}

func checkShape(data []float32, steps, tokens int, blank int32) error {
	if steps < 0 || tokens <= 0 || len(data) != steps*tokens {
		return fmt.Errorf("%w: %d values for %d steps of %d tokens", ErrShape, len(data), steps, tokens)
	}

	if blank < 0 || int(blank) >= tokens {
		return fmt.Errorf("%w: blank %d out of range", ErrShape, blank)
	}

	return nil
}
