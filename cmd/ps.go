package cmd

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ngram/api"
	"github.com/jmorganca/ngram/format"
)

func NewPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ps [PREFIX]",
		Short:   "List loaded models",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    listRunningHandler,
	}
}

func listRunningHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	models, err := client.ListRunning(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, m := range models.Models {
		if len(args) == 0 || strings.HasPrefix(m.Name, args[0]) {
			var until string
			switch {
			case m.Refs > 0:
				until = "In use"
			case time.Since(m.ExpiresAt) > 0:
				until = "Stopping..."
			default:
				until = format.HumanTime(m.ExpiresAt, "Never")
			}
			data = append(data, []string{m.Name, m.Backend, strconv.Itoa(m.Order), format.HumanBytes(m.Size), until})
		}
	}

	table := newTable(cmd.OutOrStdout(), "NAME", "BACKEND", "ORDER", "SIZE", "UNTIL")
	table.AppendBulk(data)
	table.Render()

	return nil
}
