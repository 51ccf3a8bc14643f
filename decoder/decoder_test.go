package decoder

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorganca/ngram/dict"
	"github.com/jmorganca/ngram/lm"
)

var labels = []string{"'", " ", "a", "b", "c", "d", "_"}

// probabilities for 6 steps over labels
var emissions = []float32{
	0.06390443, 0.21124858, 0.27323887, 0.06870235, 0.03612540, 0.18184413, 0.16493624,
	0.03309247, 0.22866108, 0.24390638, 0.09699597, 0.31895462, 0.00948930, 0.06890021,
	0.21810400, 0.19992557, 0.18245131, 0.08503348, 0.14903535, 0.08424043, 0.08120984,
	0.12094152, 0.19162472, 0.01473646, 0.28045061, 0.24246305, 0.05206269, 0.09772094,
	0.13333870, 0.00550838, 0.00301669, 0.21745861, 0.20803985, 0.41317442, 0.01946335,
	0.16468227, 0.19806990, 0.19065450, 0.18963251, 0.19860937, 0.04377724, 0.01457421,
}

func logEmissions() []float32 {
	out := make([]float32, len(emissions))
	for i, p := range emissions {
		out[i] = float32(math.Log(float64(p)))
	}
	return out
}

func text(tokens []int32) string {
	var sb strings.Builder
	for _, tok := range tokens {
		sb.WriteString(labels[tok])
	}
	return sb.String()
}

func TestReducedTokens(t *testing.T) {
	out := Output{Tokens: []int32{1, 1, 3, 2, 3, 3, 2}}
	if diff := cmp.Diff([]int32{1, 2, 2}, out.ReducedTokens(3)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGreedy(t *testing.T) {
	data := logEmissions()
	outputs, err := GreedyDecoder{}.Decode(data, len(data)/len(labels), len(labels), 6)
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	assert.Equal(t, "ac'bdc", text(outputs[0].Tokens))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, outputs[0].Timesteps)
}

func TestRepeatAcrossBlank(t *testing.T) {
	// a - a over labels [-, a, b]
	data := []float32{
		-10, 0, -10,
		0, -10, -10,
		-10, 0, -10,
	}

	decoders := map[string]Decoder{
		"greedy": GreedyDecoder{},
		"beam":   NewBeamSearchDecoder(DefaultBeamSearchOptions(), LM[struct{}](ZeroLM{})),
	}

	for name, d := range decoders {
		t.Run(name, func(t *testing.T) {
			outputs, err := d.Decode(data, 3, 3, 0)
			require.NoError(t, err)
			require.NotEmpty(t, outputs)

			best := outputs[0]
			assert.Equal(t, []int32{1, 1}, best.Tokens)
			assert.Equal(t, []int{0, 2}, best.Timesteps)
		})
	}
}

func TestBeamSearch(t *testing.T) {
	opts := BeamSearchOptions{
		BeamSize:      1,
		BeamSizeToken: 10,
		BeamThreshold: math.MaxFloat32,
	}

	data := []float32{
		1, 0, 0, 0,
		1, 0, 0, 0,
		0, 2, 0, 0,
	}

	outputs, err := NewBeamSearchDecoder(opts, LM[struct{}](ZeroLM{})).Decode(data, 3, 4, 3)
	require.NoError(t, err)
	require.Len(t, outputs, 1)

	want := Output{
		Score:     4,
		Tokens:    []int32{0, 1},
		Timesteps: []int{0, 2},
		AMScores:  []float32{1, 2},
		LMScores:  []float32{0, 0},
	}
	if diff := cmp.Diff(want, outputs[0]); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestBeamSearchCTC(t *testing.T) {
	data := logEmissions()
	steps := len(data) / len(labels)

	cases := []struct {
		beam int
		want string
	}{
		{beam: 1, want: "ac'bdc"},
		{beam: 200, want: "acb"},
	}

	for _, tt := range cases {
		opts := BeamSearchOptions{
			BeamSize:      tt.beam,
			BeamSizeToken: 2000000,
			BeamThreshold: math.MaxFloat32,
		}

		outputs, err := NewBeamSearchDecoder(opts, LM[struct{}](ZeroLM{})).Decode(data, steps, len(labels), 6)
		require.NoError(t, err)
		require.NotEmpty(t, outputs)
		assert.LessOrEqual(t, len(outputs), tt.beam)
		assert.Equal(t, tt.want, text(outputs[0].Tokens), "beam %d", tt.beam)

		for i := 1; i < len(outputs); i++ {
			assert.GreaterOrEqual(t, outputs[i-1].Score, outputs[i].Score)
		}
	}
}

func TestBeamSizeToken(t *testing.T) {
	data := logEmissions()
	opts := DefaultBeamSearchOptions()
	opts.BeamSizeToken = 1
	opts.LMWeight = 0

	outputs, err := NewBeamSearchDecoder(opts, LM[struct{}](ZeroLM{})).Decode(data, len(data)/len(labels), len(labels), 6)
	require.NoError(t, err)

	// with one token per step there is a single path
	require.Len(t, outputs, 1)
	assert.Equal(t, "ac'bdc", text(outputs[0].Tokens))
}

func TestShape(t *testing.T) {
	_, err := GreedyDecoder{}.Decode(make([]float32, 5), 2, 3, 0)
	assert.ErrorIs(t, err, ErrShape)

	_, err = NewBeamSearchDecoder(DefaultBeamSearchOptions(), LM[struct{}](ZeroLM{})).Decode(make([]float32, 6), 2, 3, 3)
	assert.ErrorIs(t, err, ErrShape)
}

func TestStateRef(t *testing.T) {
	root, err := ZeroLM{}.Start()
	require.NoError(t, err)

	a, _, _ := ZeroLM{}.Score(root, 1, 4)
	b, _, _ := ZeroLM{}.Score(root, 1, 4)
	c, _, _ := ZeroLM{}.Score(root, 2, 4)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	_, ok := root.Lookup(3)
	assert.False(t, ok)
}

const wordsARPA = `\data\
ngram 1=6
ngram 2=4
ngram 3=2

\1-grams:
-1.5	<unk>
-99	<s>	-0.5
-1.2	</s>
-0.8	a	-0.3
-0.9	b	-0.2
-1.1	c	-0.1

\2-grams:
-0.4	<s> a	-0.25
-0.5	a b	-0.15
-0.6	b c	-0.05
-0.3	b </s>

\3-grams:
-0.2	<s> a b
-0.1	a b c

\end\
`

func TestNGramLM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.arpa")
	require.NoError(t, os.WriteFile(path, []byte(wordsARPA), 0o644))

	model, err := lm.LoadDefault(path)
	require.NoError(t, err)
	defer model.Close()

	d, err := dict.FromEntries("a", "b", "c", "_")
	require.NoError(t, err)

	data := []float32{
		0, -100, -100, -100,
		-100, 0, -100, -100,
		-100, -100, 0, -100,
	}

	opts := DefaultBeamSearchOptions()
	opts.BeamSize = 10
	opts.LMWeight = 1

	outputs, err := NewBeamSearchDecoder(opts, LM[NGramState](NewNGramLM(model, d))).Decode(data, 3, 4, 3)
	require.NoError(t, err)
	require.NotEmpty(t, outputs)

	best := outputs[0]
	assert.Equal(t, []int32{0, 1, 2}, best.Tokens)
	assert.InDeltaSlice(t, []float32{-0.4, -0.2, -0.1}, best.LMScores, 1e-5)
	assert.InDelta(t, -2.05, best.Score, 1e-3)
}

func TestNGramLMClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.arpa")
	require.NoError(t, os.WriteFile(path, []byte(wordsARPA), 0o644))

	model, err := lm.LoadDefault(path)
	require.NoError(t, err)

	d, err := dict.FromEntries("a", "b", "c", "_")
	require.NoError(t, err)

	require.NoError(t, model.Close())

	_, err = NewBeamSearchDecoder(DefaultBeamSearchOptions(), LM[NGramState](NewNGramLM(model, d))).Decode([]float32{0, -1, -1, -1}, 1, 4, 3)
	assert.ErrorIs(t, err, lm.ErrModelClosed)
}

func TestNGramLMSparseLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.arpa")
	require.NoError(t, os.WriteFile(path, []byte(wordsARPA), 0o644))

	model, err := lm.LoadDefault(path)
	require.NoError(t, err)
	defer model.Close()

	d := dict.New()
	require.NoError(t, d.AddAt("_", 0))
	require.NoError(t, d.AddAt("b", 5))
	require.ErrorIs(t, d.AddAt("a", -1), dict.ErrNegativeIndex)

	n := NewNGramLM(model, d)
	vocab := model.Vocabulary()
	assert.Equal(t, vocab.Index("b"), n.word(5))
	assert.Equal(t, vocab.NotFound(), n.word(0))
	assert.Equal(t, vocab.NotFound(), n.word(3))
	assert.Equal(t, vocab.NotFound(), n.word(-1))
}
