package lm

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadARPAErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
		line  int
		order bool
	}{
		{
			name:  "no data header",
			input: "ngram 1=1\n",
		},
		{
			name:  "no counts",
			input: "\\data\\\n\n\\1-grams:\n",
			line:  3,
		},
		{
			name:  "counts out of order",
			input: "\\data\\\nngram 2=1\n",
			line:  2,
		},
		{
			name:  "too few unigrams",
			input: "\\data\\\nngram 1=4\n\n\\1-grams:\n-1 <unk>\n-1 <s>\n-1 </s>\n\n\\end\\\n",
			line:  9,
		},
		{
			name:  "missing end",
			input: "\\data\\\nngram 1=3\n\n\\1-grams:\n-1 <unk>\n-1 <s>\n-1 </s>\n",
		},
		{
			name:  "missing begin sentence",
			input: "\\data\\\nngram 1=3\n\n\\1-grams:\n-1 <unk>\n-1 a\n-1 </s>\n\n\\end\\\n",
			line:  7,
		},
		{
			name:  "positive probability",
			input: "\\data\\\nngram 1=3\n\n\\1-grams:\n-1 <unk>\n0.5 <s>\n-1 </s>\n\n\\end\\\n",
			line:  6,
		},
		{
			name:  "malformed probability",
			input: "\\data\\\nngram 1=3\n\n\\1-grams:\n-1 <unk>\nx <s>\n-1 </s>\n\n\\end\\\n",
			line:  6,
		},
		{
			name:  "duplicate unigram",
			input: "\\data\\\nngram 1=4\n\n\\1-grams:\n-1 <unk>\n-1 <s>\n-1 </s>\n-1 <s>\n\n\\end\\\n",
			line:  8,
		},
		{
			name:  "unknown word in bigram",
			input: "\\data\\\nngram 1=3\nngram 2=1\n\n\\1-grams:\n-1 <unk>\n-1 <s>\n-1 </s>\n\n\\2-grams:\n-1 <s> a\n\n\\end\\\n",
			line:  11,
		},
		{
			name:  "backoff on highest order",
			input: "\\data\\\nngram 1=3\nngram 2=1\n\n\\1-grams:\n-1 <unk>\n-1 <s>\n-1 </s>\n\n\\2-grams:\n-1 <s> </s> -0.5\n\n\\end\\\n",
			line:  11,
		},
		{
			name:  "wrong section",
			input: "\\data\\\nngram 1=3\n\n\\2-grams:\n",
			line:  4,
		},
		{
			name:  "order too high",
			input: "\\data\\\nngram 1=1\nngram 2=1\nngram 3=1\nngram 4=1\nngram 5=1\nngram 6=1\nngram 7=1\n",
			order: true,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readARPA(strings.NewReader(tt.input), DefaultConfig())
			require.Error(t, err)

			if tt.order {
				assert.ErrorIs(t, err, ErrUnsupportedOrder)
				return
			}

			var ferr *FormatError
			require.ErrorAs(t, err, &ferr)
			if tt.line > 0 {
				assert.Equal(t, tt.line, ferr.Line, ferr.Error())
			}
		})
	}
}

func TestDuplicateNgram(t *testing.T) {
	const arpa = `\data\
ngram 1=4
ngram 2=2

\1-grams:
-1	<unk>
-1	<s>	-0.1
-1	</s>
-1	a	-0.1

\2-grams:
-0.5	<s> a
-0.5	<s> a

\end\
`
	for backend, cfg := range configs() {
		t.Run(backend, func(t *testing.T) {
			_, err := Load(writeModel(t, "dup.arpa", arpa), cfg)

			var ferr *FormatError
			require.ErrorAs(t, err, &ferr)
			assert.Contains(t, ferr.Msg, "<s> a")
		})
	}
}

func TestMaxOrderConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxOrder = 2

	_, err := Load(writeModel(t, "toy.arpa", toyARPA), cfg)
	assert.ErrorIs(t, err, ErrUnsupportedOrder)
}

func TestCompressedARPA(t *testing.T) {
	compressors := map[string]func(io.Writer) io.WriteCloser{
		"gzip": func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) },
		"zstd": func(w io.Writer) io.WriteCloser {
			zw, err := zstd.NewWriter(w)
			if err != nil {
				t.Fatal(err)
			}
			return zw
		},
		"lz4": func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) },
	}

	plain := loadModel(t, toyARPA, DefaultConfig())
	want, err := ScoreSentence(plain, []string{"a", "b", "c"}, true, true)
	require.NoError(t, err)

	for name, fn := range compressors {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			w := fn(&buf)
			_, err := io.WriteString(w, toyARPA)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			m, err := Load(writeModel(t, "toy.arpa."+name, buf.String()), DefaultConfig())
			require.NoError(t, err)
			defer m.Close()

			got, err := ScoreSentence(m, []string{"a", "b", "c"}, true, true)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCorruptGzip(t *testing.T) {
	_, err := Load(writeModel(t, "bad.gz", "\x1f\x8b\x00garbage"), DefaultConfig())

	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.False(t, errors.Is(err, ErrUnsupportedOrder))
}
