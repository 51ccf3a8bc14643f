package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ngram/envconfig"
	"github.com/jmorganca/ngram/format"
	"github.com/jmorganca/ngram/lm"
	"github.com/jmorganca/ngram/progress"
)

func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "Convert an ARPA model to the binary format",
		Long:  "Convert an ARPA model, optionally gzip, zstd, lz4 or bzip2 compressed, to the binary format.",
		Args:  cobra.ExactArgs(2),
		RunE:  convertHandler,
	}

	cmd.Flags().StringP("quantize", "q", "f32", "Probability encoding, f32, f16 or bf16")
	return cmd
}

func convertHandler(cmd *cobra.Command, args []string) error {
	qs, err := cmd.Flags().GetString("quantize")
	if err != nil {
		return err
	}

	q, err := lm.ParseQuantization(qs)
	if err != nil {
		return err
	}

	spinner := progress.NewSpinner(fmt.Sprintf("converting %s", args[0]))
	defer spinner.Stop()
	if progress.IsTerminal(os.Stderr) {
		p := progress.NewProgress(os.Stderr)
		p.Add("", spinner)
		defer p.Stop()
	}

	start := time.Now()
	if err := lm.Convert(args[0], args[1], lm.ConvertOptions{Quantization: q, Config: envconfig.LoadConfig()}); err != nil {
		return err
	}

	fi, err := os.Stat(args[1])
	if err != nil {
		return err
	}

	spinner.SetMessage(fmt.Sprintf("wrote %s", args[1]))
	spinner.Stop()
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s) in %s\n", args[1], format.HumanBytes(fi.Size()), q, format.HumanDuration(time.Since(start)))
	return nil
}
