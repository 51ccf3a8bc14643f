package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ngram/decoder"
	"github.com/jmorganca/ngram/dict"
	"github.com/jmorganca/ngram/format"
)

func NewDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [MODEL]",
		Short: "Decode CTC emissions",
		Long: `Decode CTC emissions, optionally guided by a language model.

The labels file holds one label per line; its line number is the label id.
The emissions file is a JSON array with one array of log probabilities per
step and one value per label.`,
		Args: cobra.MaximumNArgs(1),
		RunE: decodeHandler,
	}

	defaults := decoder.DefaultBeamSearchOptions()
	cmd.Flags().String("labels", "", "Labels file")
	cmd.Flags().String("emissions", "", "Emissions file")
	cmd.Flags().String("blank", "", "Blank label (default the first label)")
	cmd.Flags().String("decoder", "beam", "Decoder, beam or greedy")
	cmd.Flags().Int("beam-size", defaults.BeamSize, "Hypotheses kept per step")
	cmd.Flags().Int("beam-size-token", defaults.BeamSizeToken, "Tokens considered per step")
	cmd.Flags().Float32("beam-threshold", defaults.BeamThreshold, "Drop hypotheses this far below the best")
	cmd.Flags().Float32("lm-weight", defaults.LMWeight, "Language model weight")
	cmd.Flags().Int("nbest", 1, "Number of hypotheses to print")
	_ = cmd.MarkFlagRequired("labels")
	_ = cmd.MarkFlagRequired("emissions")
	return cmd
}

func readEmissions(path string, tokens int) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var rows [][]float32
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}

	data := make([]float32, 0, len(rows)*tokens)
	for i, row := range rows {
		if len(row) != tokens {
			return nil, 0, fmt.Errorf("%s: step %d has %d values, expected %d", path, i, len(row), tokens)
		}
		data = append(data, row...)
	}

	return data, len(rows), nil
}

func labelText(labels *dict.Dict, tokens []int32) (string, error) {
	var sb strings.Builder
	for _, t := range tokens {
		entry, err := labels.Entry(t)
		if err != nil {
			return "", err
		}
		sb.WriteString(entry)
	}
	return sb.String(), nil
}

func decodeHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	labelsPath, _ := flags.GetString("labels")
	emissionsPath, _ := flags.GetString("emissions")
	blankLabel, _ := flags.GetString("blank")
	name, _ := flags.GetString("decoder")
	nbest, _ := flags.GetInt("nbest")

	if nbest < 1 {
		return errors.New("nbest must be positive")
	}

	labels, err := dict.Read(labelsPath)
	if err != nil {
		return err
	}

	if labels.Len() == 0 {
		return errors.New("no labels")
	}

	blank := int32(0)
	if blankLabel != "" {
		if blank, err = labels.Index(blankLabel); err != nil {
			return err
		}
	}

	tokens := int(labels.MaxIndex()) + 1
	data, steps, err := readEmissions(emissionsPath, tokens)
	if err != nil {
		return err
	}

	var d decoder.Decoder
	switch name {
	case "greedy":
		if len(args) > 0 {
			return errors.New("greedy decoding does not use a model")
		}
		d = decoder.GreedyDecoder{}
	case "beam":
		opts := decoder.DefaultBeamSearchOptions()
		opts.BeamSize, _ = flags.GetInt("beam-size")
		opts.BeamSizeToken, _ = flags.GetInt("beam-size-token")
		opts.BeamThreshold, _ = flags.GetFloat32("beam-threshold")
		opts.LMWeight, _ = flags.GetFloat32("lm-weight")
		if opts.BeamSize < 1 || opts.BeamSizeToken < 1 {
			return errors.New("beam sizes must be positive")
		}

		if len(args) == 0 {
			d = decoder.NewBeamSearchDecoder[struct{}](opts, decoder.ZeroLM{})
			break
		}

		m, err := loadModel(args[0])
		if err != nil {
			return err
		}
		defer m.Close()

		d = decoder.NewBeamSearchDecoder[decoder.NGramState](opts, decoder.NewNGramLM(m, labels))
	default:
		return fmt.Errorf("unknown decoder %q", name)
	}

	outputs, err := d.Decode(data, steps, tokens, blank)
	if err != nil {
		return err
	}

	var rows [][]string
	for i, o := range outputs[:min(nbest, len(outputs))] {
		text, err := labelText(labels, o.Tokens)
		if err != nil {
			return err
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), format.LogProb(o.Score), text})
	}

	table := newTable(cmd.OutOrStdout(), "RANK", "SCORE", "TEXT")
	table.AppendBulk(rows)
	table.Render()
	return nil
}
