package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ngram/envconfig"
)

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print an example configuration file",
		Args:  cobra.ExactArgs(0),
		RunE:  configHandler,
	}

	cmd.Flags().Bool("path", false, "Print the path of the loaded configuration file")
	return cmd
}

func configHandler(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetBool("path")
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if path {
		p := envconfig.ConfigFile()
		if p == "" {
			return errors.New("no configuration file found")
		}
		fmt.Fprintln(w, p)
		return nil
	}

	fmt.Fprint(w, envconfig.GenerateExampleConfig())
	return nil
}
