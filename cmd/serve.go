package cmd

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"github.com/jmorganca/ngram/envconfig"
	"github.com/jmorganca/ngram/server"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the scoring server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage())
	return cmd
}

func envUsage() string {
	vars := envconfig.AsMap()
	keys := maps.Keys(vars)
	slices.Sort(keys)

	var sb strings.Builder
	sb.WriteString("\nEnvironment Variables:\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "      %-24s %s\n", vars[k].Name, vars[k].Description)
	}
	return sb.String()
}

func RunServer(_ *cobra.Command, _ []string) error {
	host, err := envconfig.Host()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", host.Host)
	if err != nil {
		return err
	}

	return server.Serve(ln)
}
