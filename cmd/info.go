package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jmorganca/ngram/format"
)

func NewInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "info MODEL",
		Aliases: []string{"show"},
		Short:   "Show information for a model",
		Args:    cobra.ExactArgs(1),
		RunE:    infoHandler,
	}
}

func infoHandler(cmd *cobra.Command, args []string) error {
	path, err := resolveModel(args[0])
	if err != nil {
		return err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	m, err := loadModel(path)
	if err != nil {
		return err
	}
	defer m.Close()

	w := cmd.OutOrStdout()
	table := newTable(w, "MODEL", "")
	table.AppendBulk([][]string{
		{"path", path},
		{"format", m.Format()},
		{"backend", m.Backend().String()},
		{"order", strconv.Itoa(m.Order())},
		{"vocabulary", format.HumanNumber(uint64(m.Vocabulary().Size()))},
		{"size", format.HumanBytes(fi.Size())},
		{"modified", format.HumanTime(fi.ModTime(), "Never")},
	})
	table.Render()
	fmt.Fprintln(w)

	table = newTable(w, "ORDER", "N-GRAMS")
	for i, n := range m.Counts() {
		table.Append([]string{strconv.Itoa(i + 1), strconv.FormatUint(n, 10)})
	}
	table.Render()

	return nil
}
