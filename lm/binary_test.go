package lm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convert(t *testing.T, q Quantization) string {
	t.Helper()
	src := writeModel(t, "toy.arpa", toyARPA)
	dst := filepath.Join(t.TempDir(), "toy.nglm")
	require.NoError(t, Convert(src, dst, ConvertOptions{Quantization: q}))
	return dst
}

func TestBinaryRoundTrip(t *testing.T) {
	sentences := [][]string{
		{"a", "b", "c"},
		{"c", "zzz", "a", "b"},
		{"b"},
	}

	plain := loadModel(t, toyARPA, DefaultConfig())

	cases := []struct {
		name  string
		quant Quantization
		mmap  bool
		tol   float64
	}{
		{name: "f32 mmap", quant: QuantizationF32, mmap: true},
		{name: "f32 read", quant: QuantizationF32, mmap: false},
		{name: "f16 mmap", quant: QuantizationF16, mmap: true, tol: 2e-2},
		{name: "f16 read", quant: QuantizationF16, mmap: false, tol: 2e-2},
		{name: "bf16 mmap", quant: QuantizationBF16, mmap: true, tol: 1e-1},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mmap = tt.mmap

			m, err := Load(convert(t, tt.quant), cfg)
			require.NoError(t, err)
			defer m.Close()

			assert.Equal(t, "binary", m.Format())
			assert.Equal(t, BackendSorted, m.Backend())
			assert.Equal(t, plain.Order(), m.Order())
			assert.Equal(t, plain.Counts(), m.Counts())
			assert.Equal(t, plain.Vocabulary().Size(), m.Vocabulary().Size())

			for _, s := range sentences {
				want, err := ScoreSentence(plain, s, true, true)
				require.NoError(t, err)
				got, err := ScoreSentence(m, s, true, true)
				require.NoError(t, err)

				if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tt.tol)); diff != "" {
					t.Errorf("%v mismatch (-want +got):\n%s", s, diff)
				}
			}
		})
	}
}

func TestBinaryCloseReleases(t *testing.T) {
	m, err := Load(convert(t, QuantizationF32), DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, _, err = m.Score(m.BeginSentenceState(), 3)
	assert.ErrorIs(t, err, ErrModelClosed)
}

func TestBinaryCorrupt(t *testing.T) {
	data, err := os.ReadFile(convert(t, QuantizationF32))
	require.NoError(t, err)

	cases := map[string][]byte{
		"truncated":   data[:len(data)-3],
		"short":       data[:10],
		"bad version": append(append([]byte(binaryMagic), 9, 0, 0, 0), data[8:]...),
		"bad header length": func() []byte {
			b := append([]byte(nil), data...)
			binary.LittleEndian.PutUint32(b[8:], 1<<30)
			return b
		}(),
	}

	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.nglm")
			require.NoError(t, os.WriteFile(path, b, 0o644))

			_, err := Load(path, DefaultConfig())
			var lerr *LoadError
			require.ErrorAs(t, err, &lerr)
		})
	}
}

func TestQuantization(t *testing.T) {
	for _, s := range []string{"f32", "F16", "float16", "bf16", ""} {
		_, err := ParseQuantization(s)
		assert.NoError(t, err, s)
	}

	_, err := ParseQuantization("q4")
	assert.Error(t, err)

	buf := make([]byte, 4)
	QuantizationF16.put(buf, -0.5)
	assert.Equal(t, float32(-0.5), QuantizationF16.get(buf))

	clear(buf)
	QuantizationBF16.put(buf, -99)
	assert.Equal(t, float32(-99), QuantizationBF16.get(buf))
	assert.Equal(t, []byte{0, 0}, buf[2:])
}
