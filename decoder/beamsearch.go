package decoder

import (
	"cmp"
	"math"
	"slices"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
)

type BeamSearchOptions struct {
	// BeamSize is the number of hypotheses kept after each step.
	BeamSize int `mapstructure:"beam_size" json:"beam_size"`

	// BeamSizeToken is the number of best tokens considered at each step.
	BeamSizeToken int `mapstructure:"beam_size_token" json:"beam_size_token"`

	// BeamThreshold drops hypotheses scoring more than this below the best.
	BeamThreshold float32 `mapstructure:"beam_threshold" json:"beam_threshold"`

	// LMWeight scales language model scores before they are added to
	// acoustic scores.
	LMWeight float32 `mapstructure:"lm_weight" json:"lm_weight"`
}

func DefaultBeamSearchOptions() BeamSearchOptions {
	return BeamSearchOptions{
		BeamSize:      100,
		BeamSizeToken: math.MaxInt32,
		BeamThreshold: math.MaxFloat32,
		LMWeight:      0.5,
	}
}

type hypothesis[T any] struct {
	score     float32
	token     int32
	prevBlank bool
	amScore   float32
	lmScore   float32
	parent    int
	lmState   *StateRef[T]
}

type mergeKey[T any] struct {
	lmState   *StateRef[T]
	token     int32
	prevBlank bool
}

// BeamSearchDecoder is a CTC prefix beam search. A decoder holds per-call
// buffers and must not be used by more than one goroutine at a time.
type BeamSearchDecoder[T any] struct {
	opts BeamSearchOptions
	lm   LM[T]

	candidates []hypothesis[T]
	best       float32

	// hyps[t] holds the beam before step t.
	hyps [][]hypothesis[T]
}

func NewBeamSearchDecoder[T any](opts BeamSearchOptions, lm LM[T]) *BeamSearchDecoder[T] {
	return &BeamSearchDecoder[T]{opts: opts, lm: lm}
}

func (d *BeamSearchDecoder[T]) Decode(data []float32, steps, tokens int, blank int32) ([]Output, error) {
	if err := checkShape(data, steps, tokens, blank); err != nil {
		return nil, err
	}

	root, err := d.lm.Start()
	if err != nil {
		return nil, err
	}

	d.hyps = make([][]hypothesis[T], steps+2)
	d.hyps[0] = []hypothesis[T]{{token: blank, parent: -1, lmState: root}}

	targets := make([]int, tokens)
	for t := range steps {
		frame := data[t*tokens : (t+1)*tokens]
		for i := range targets {
			targets[i] = i
		}

		if k := d.opts.BeamSizeToken; k > 0 && tokens > k {
			slices.SortStableFunc(targets, func(a, b int) int {
				return cmp.Compare(frame[b], frame[a])
			})
			targets = targets[:k]
		}

		d.reset()
		for i, prev := range d.hyps[t] {
			for _, target := range targets {
				token := int32(target)
				am := frame[target]
				h := hypothesis[T]{
					score:   prev.score + am,
					token:   token,
					amScore: am,
					lmScore: prev.lmScore,
					parent:  i,
					lmState: prev.lmState,
				}

				switch {
				case token == blank:
					h.prevBlank = true
				case token != prev.token || prev.prevBlank:
					state, score, err := d.lm.Score(prev.lmState, token, tokens)
					if err != nil {
						return nil, err
					}
					h.lmState = state
					h.lmScore = score
					h.score += d.opts.LMWeight * score
				}

				d.add(h)
			}
		}

		d.hyps[t+1] = d.finalize()
		targets = targets[:tokens]
	}

	d.reset()
	for i, prev := range d.hyps[steps] {
		state, score, err := d.lm.Finish(prev.lmState)
		if err != nil {
			return nil, err
		}

		d.add(hypothesis[T]{
			score:   prev.score + d.opts.LMWeight*score,
			token:   blank,
			amScore: prev.amScore,
			lmScore: prev.lmScore + score,
			parent:  i,
			lmState: state,
		})
	}
	d.hyps[steps+1] = d.finalize()

	return d.outputs(steps, blank), nil
}

func (d *BeamSearchDecoder[T]) reset() {
	d.candidates = d.candidates[:0]
	d.best = -math.MaxFloat32
}

func (d *BeamSearchDecoder[T]) add(h hypothesis[T]) {
	if h.score > d.best {
		d.best = h.score
	}

	if h.score > d.best-d.opts.BeamThreshold {
		d.candidates = append(d.candidates, h)
	}
}

// finalize prunes the candidates of one step, merges hypotheses that are
// indistinguishable to the language model and keeps the best BeamSize.
func (d *BeamSearchDecoder[T]) finalize() []hypothesis[T] {
	groups := make(map[mergeKey[T]]int)
	var merged []hypothesis[T]
	for _, c := range d.candidates {
		if c.score <= d.best-d.opts.BeamThreshold {
			continue
		}

		key := mergeKey[T]{c.lmState, c.token, c.prevBlank}
		i, ok := groups[key]
		if !ok {
			groups[key] = len(merged)
			merged = append(merged, c)
			continue
		}

		// the merged hypothesis keeps the path of the better one
		m := &merged[i]
		hi, lo := max(m.score, c.score), min(m.score, c.score)
		if c.score > m.score {
			*m = c
		}
		m.score = hi + float32(math.Log1p(math.Exp(float64(lo-hi))))
	}

	size := max(d.opts.BeamSize, 1)
	if len(merged) <= size {
		slices.SortStableFunc(merged, func(a, b hypothesis[T]) int {
			return cmp.Compare(b.score, a.score)
		})
		return merged
	}

	// keep the best size hypotheses in a min-heap
	worst := heap.NewWith(func(a, b int) int {
		if c := cmp.Compare(merged[a].score, merged[b].score); c != 0 {
			return c
		}
		return cmp.Compare(b, a)
	})

	for i := range merged {
		worst.Push(i)
		if worst.Size() > size {
			worst.Pop()
		}
	}

	beam := make([]hypothesis[T], worst.Size())
	for i := len(beam) - 1; i >= 0; i-- {
		j, _ := worst.Pop()
		beam[i] = merged[j]
	}

	return beam
}

func (d *BeamSearchDecoder[T]) outputs(steps int, blank int32) []Output {
	final := d.hyps[steps+1]
	outputs := make([]Output, 0, len(final))
	for _, f := range final {
		h := f
		chain := make([]hypothesis[T], 0, steps+1)
		for i := steps; i >= 0; i-- {
			chain = append(chain, h)
			h = d.hyps[i][h.parent]
			if h.parent < 0 {
				break
			}
		}
		slices.Reverse(chain)

		out := Output{Score: f.score}
		last := blank
		for step, h := range chain {
			if h.token != last && h.token != blank {
				out.Tokens = append(out.Tokens, h.token)
				out.Timesteps = append(out.Timesteps, step)
				out.AMScores = append(out.AMScores, h.amScore)
				out.LMScores = append(out.LMScores, h.lmScore)
			}
			last = h.token
		}

		outputs = append(outputs, out)
	}

	slices.SortStableFunc(outputs, func(a, b Output) int {
		return cmp.Compare(b.Score, a.Score)
	})

	return outputs
}
