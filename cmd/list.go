package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ngram/api"
	"github.com/jmorganca/ngram/format"
)

func NewListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [PREFIX]",
		Aliases: []string{"ls"},
		Short:   "List models",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    listHandler,
	}
}

func listHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	models, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, m := range models.Models {
		if len(args) == 0 || strings.HasPrefix(m.Name, args[0]) {
			data = append(data, []string{m.Name, format.HumanBytes(m.Size), format.HumanTime(m.ModifiedAt, "Never")})
		}
	}

	table := newTable(cmd.OutOrStdout(), "NAME", "SIZE", "MODIFIED")
	table.AppendBulk(data)
	table.Render()

	return nil
}
