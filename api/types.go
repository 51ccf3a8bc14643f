package api

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Duration is a keep alive duration. It is sent as a Go duration string and
// accepts either a duration string or a number of seconds. Negative values
// mean forever.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration < 0 {
		return []byte("-1"), nil
	}
	return []byte(`"` + d.Duration.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) (err error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	d.Duration = 5 * time.Minute

	switch t := v.(type) {
	case float64:
		if t < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		} else {
			d.Duration = time.Duration(t * float64(time.Second))
		}
	case string:
		d.Duration, err = time.ParseDuration(t)
		if err != nil {
			return err
		}
		if d.Duration < 0 {
			d.Duration = time.Duration(math.MaxInt64)
		}
	default:
		return fmt.Errorf("unsupported type: '%s'", t)
	}

	return nil
}

// ScoreRequest scores one sentence. Either Text, which is split on white
// space, or Words must be set.
type ScoreRequest struct {
	Model string   `json:"model"`
	Text  string   `json:"text,omitempty"`
	Words []string `json:"words,omitempty"`

	// BOS and EOS default to true.
	BOS *bool `json:"bos,omitempty"`
	EOS *bool `json:"eos,omitempty"`

	KeepAlive *Duration `json:"keep_alive,omitempty"`
}

type WordScore struct {
	Word        string  `json:"word"`
	Index       uint32  `json:"index"`
	LogProb     float32 `json:"logprob"`
	NgramLength int     `json:"ngram_length"`
	OOV         bool    `json:"oov,omitempty"`
}

type ScoreResponse struct {
	Model   string      `json:"model"`
	Words   []WordScore `json:"words"`
	LogProb float32     `json:"logprob"`
	OOVs    int         `json:"oovs"`

	// Perplexity of this sentence alone, or 0 if nothing was scored.
	Perplexity float64 `json:"perplexity"`
}

// PerplexityRequest scores a corpus of sentences, one per entry.
type PerplexityRequest struct {
	Model     string    `json:"model"`
	Sentences []string  `json:"sentences"`
	BOS       *bool     `json:"bos,omitempty"`
	EOS       *bool     `json:"eos,omitempty"`
	KeepAlive *Duration `json:"keep_alive,omitempty"`
}

type PerplexityResponse struct {
	Model     string  `json:"model"`
	Sentences int     `json:"sentences"`
	Words     int     `json:"words"`
	OOVs      int     `json:"oovs"`
	LogProb   float64 `json:"logprob"`

	// Perplexities are 0 when no token was scored.
	Perplexity              float64 `json:"perplexity"`
	PerplexityExcludingOOVs float64 `json:"perplexity_excluding_oovs"`
}

// DecodeRequest decodes CTC emissions. Emissions has one row per step and
// one log probability per label. Model is optional; without it the beam
// search runs without a language model.
type DecodeRequest struct {
	Model     string      `json:"model,omitempty"`
	Labels    []string    `json:"labels"`
	Blank     string      `json:"blank"`
	Emissions [][]float32 `json:"emissions"`

	// Decoder is "greedy" or "beam", the default.
	Decoder string `json:"decoder,omitempty"`

	// Options are passed to the beam search, e.g. beam_size, lm_weight.
	Options map[string]any `json:"options,omitempty"`

	KeepAlive *Duration `json:"keep_alive,omitempty"`
}

type Hypothesis struct {
	Text      string    `json:"text"`
	Tokens    []int32   `json:"tokens"`
	Score     float32   `json:"score"`
	Timesteps []int     `json:"timesteps"`
	AMScores  []float32 `json:"am_scores"`
	LMScores  []float32 `json:"lm_scores,omitempty"`
}

type DecodeResponse struct {
	Model      string       `json:"model,omitempty"`
	Hypotheses []Hypothesis `json:"hypotheses"`
}

type ShowRequest struct {
	Model string `json:"model"`
}

type ShowResponse struct {
	Model      string    `json:"model"`
	Format     string    `json:"format"`
	Backend    string    `json:"backend"`
	Order      int       `json:"order"`
	Counts     []uint64  `json:"counts"`
	VocabSize  int       `json:"vocab_size"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type ListModelResponse struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

type ListResponse struct {
	Models []ListModelResponse `json:"models"`
}

type ProcessModelResponse struct {
	Name      string    `json:"name"`
	Format    string    `json:"format"`
	Backend   string    `json:"backend"`
	Order     int       `json:"order"`
	Size      int64     `json:"size"`
	Refs      int       `json:"refs"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ProcessResponse struct {
	Models []ProcessModelResponse `json:"models"`
}

type VersionResponse struct {
	Version string `json:"version"`
}
