package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jmorganca/ngram/api"
	"github.com/jmorganca/ngram/envconfig"
	"github.com/jmorganca/ngram/lm"
	"github.com/jmorganca/ngram/progress"
	"github.com/jmorganca/ngram/server"
	"github.com/jmorganca/ngram/version"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ngram",
		Short:         "N-gram language model scorer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(envconfig.NewLogger(os.Stderr))
		},
	}

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		NewServeCmd(),
		NewScoreCmd(),
		NewPerplexityCmd(),
		NewInfoCmd(),
		NewConvertCmd(),
		NewDecodeCmd(),
		NewListCmd(),
		NewPsCmd(),
		NewConfigCmd(),
	)

	return rootCmd
}

func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	if err := client.Heartbeat(cmd.Context()); err != nil {
		return errors.New("could not connect to ngram server, run 'ngram serve' to start it")
	}

	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// resolveModel accepts either a path to a model file or the name of a model
// in the models directory.
func resolveModel(name string) (string, error) {
	if fi, err := os.Stat(name); err == nil && !fi.IsDir() {
		return name, nil
	}

	m, err := server.GetModel(name)
	if err != nil {
		return "", err
	}

	return m.Path, nil
}

// loadModel loads name with a spinner on interactive terminals.
func loadModel(name string) (*lm.NGram, error) {
	path, err := resolveModel(name)
	if err != nil {
		return nil, err
	}

	if progress.IsTerminal(os.Stderr) {
		p := progress.NewProgress(os.Stderr)
		defer p.StopAndClear()

		spinner := progress.NewSpinner(fmt.Sprintf("loading %s", name))
		p.Add("", spinner)
	}

	start := time.Now()
	m, err := lm.Load(path, envconfig.LoadConfig())
	if err != nil {
		return nil, err
	}

	slog.Debug("model ready", "model", name, "duration", time.Since(start))
	return m, nil
}
