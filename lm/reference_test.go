package lm

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// refEntry holds the values parsed back from a generated model.
type refEntry struct {
	prob, backoff float64
}

// refModel scores with a direct back-off recursion over a map keyed by
// space-joined words.
type refModel struct {
	order   int
	entries map[string]refEntry
}

func (r refModel) prob(ctx []string, w string) float64 {
	if len(ctx) >= r.order {
		ctx = ctx[len(ctx)-r.order+1:]
	}

	if len(ctx) == 0 {
		if e, ok := r.entries[w]; ok {
			return e.prob
		}
		return r.entries[UnknownWord].prob
	}

	if e, ok := r.entries[strings.Join(append(slices.Clone(ctx), w), " ")]; ok {
		return e.prob
	}

	return r.entries[strings.Join(ctx, " ")].backoff + r.prob(ctx[1:], w)
}

// generateARPA builds a model of the given order from every n-gram in a
// random corpus, so each n-gram's prefix and suffix are also present.
func generateARPA(seed int64, order int) (string, refModel) {
	rng := rand.New(rand.NewSource(seed))

	vocab := make([]string, 12)
	for i := range vocab {
		vocab[i] = fmt.Sprintf("w%d", i)
	}

	grams := make([]map[string]bool, order)
	for i := range grams {
		grams[i] = make(map[string]bool)
	}

	for _, w := range vocab {
		grams[0][w] = true
	}

	for range 80 {
		sentence := []string{BeginSentenceWord}
		for range 1 + rng.Intn(10) {
			sentence = append(sentence, vocab[rng.Intn(len(vocab))])
		}
		sentence = append(sentence, EndSentenceWord)

		for i := range sentence {
			for k := 1; k <= order && i+k <= len(sentence); k++ {
				grams[k-1][strings.Join(sentence[i:i+k], " ")] = true
			}
		}
	}

	ref := refModel{order: order, entries: make(map[string]refEntry)}

	var sb strings.Builder
	sb.WriteString("\\data\\\n")
	// <unk> is written separately
	fmt.Fprintf(&sb, "ngram 1=%d\n", len(grams[0])+1)
	for k := 2; k <= order; k++ {
		fmt.Fprintf(&sb, "ngram %d=%d\n", k, len(grams[k-1]))
	}

	for k := 1; k <= order; k++ {
		fmt.Fprintf(&sb, "\n\\%d-grams:\n", k)
		if k == 1 {
			sb.WriteString("-2.0000\t<unk>\n")
			ref.entries[UnknownWord] = refEntry{prob: -2}
		}

		keys := make([]string, 0, len(grams[k-1]))
		for g := range grams[k-1] {
			keys = append(keys, g)
		}
		slices.Sort(keys)

		for _, g := range keys {
			e := refEntry{prob: -0.1 - 2.9*rng.Float64()}
			if g == BeginSentenceWord {
				e.prob = -99
			}

			line := fmt.Sprintf("%.4f\t%s", e.prob, g)
			if k < order && !strings.HasSuffix(g, EndSentenceWord) {
				e.backoff = -rng.Float64()
				line += fmt.Sprintf("\t%.4f", e.backoff)
			}

			// keep the reference on the exact values the reader parses
			fields := strings.Split(line, "\t")
			fmt.Sscan(fields[0], &e.prob)
			if len(fields) == 3 {
				fmt.Sscan(fields[2], &e.backoff)
			}

			ref.entries[g] = e
			sb.WriteString(line + "\n")
		}
	}

	sb.WriteString("\n\\end\\\n")
	return sb.String(), ref
}

func TestScoreMatchesBackoffRecursion(t *testing.T) {
	const order = 5
	arpa, ref := generateARPA(7, order)

	models := make(map[string]Model)
	for name, cfg := range configs() {
		models[name] = loadModel(t, arpa, cfg)
	}

	src := writeModel(t, "random.arpa", arpa)
	dst := filepath.Join(t.TempDir(), "random.nglm")
	require.NoError(t, Convert(src, dst, ConvertOptions{Quantization: QuantizationF32}))
	for _, mmap := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.Mmap = mmap

		m, err := Load(dst, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { m.Close() })
		models[fmt.Sprintf("binary mmap=%t", mmap)] = m
	}

	rng := rand.New(rand.NewSource(11))
	histories := make([][]string, 40)
	for i := range histories {
		for range 30 {
			w := fmt.Sprintf("w%d", rng.Intn(12))
			if rng.Intn(15) == 0 {
				w = "oov"
			}
			histories[i] = append(histories[i], w)
		}
		histories[i] = append(histories[i], EndSentenceWord)
	}

	for name, m := range models {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, order, m.Order())

			for _, history := range histories {
				state := m.BeginSentenceState()
				ctx := []string{BeginSentenceWord}
				for i, w := range history {
					got, next, err := m.Score(state, m.Vocabulary().Index(w))
					require.NoError(t, err)

					want := ref.prob(ctx, w)
					if !assert.InDeltaf(t, want, float64(got), 1e-4, "%s | %s (word %d)", strings.Join(ctx, " "), w, i) {
						return
					}

					state = next
					ctx = append(ctx, w)
				}
			}
		})
	}
}
