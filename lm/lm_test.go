package lm

import (
	"os"
	"path/filepath"
	"testing"
)

const toyARPA = `
\data\
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

const unigramARPA = `\data\
ngram 1=5

\1-grams:
-2	<unk>
-99	<s>
-1	</s>
-0.5	a
-0.7	b

\end\
`

const epsilon = 1e-5

func writeModel(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func loadModel(t *testing.T, content string, cfg Config) *NGram {
	t.Helper()
	m, err := Load(writeModel(t, "model.arpa", content), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func words(t *testing.T, m Model, ws ...string) []WordIndex {
	t.Helper()
	ids := make([]WordIndex, len(ws))
	for i, w := range ws {
		ids[i] = m.Vocabulary().Index(w)
	}
	return ids
}

func configs() map[string]Config {
	sorted := DefaultConfig()
	sorted.Backend = BackendSorted
	return map[string]Config{
		"probing": DefaultConfig(),
		"sorted":  sorted,
	}
}
