package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Show how a query is parsed without reading any data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			plan, err := e.engine.Explain(strings.Join(args, " "))
			if err != nil {
				return err
			}
			p := &printer{format: formatTable, w: cmd.OutOrStdout()}
			pairs := [][2]string{{"query", plan.Query}}
			if plan.Source != "" {
				pairs = append(pairs, [2]string{"source", plan.Source})
			}
			for i, b := range plan.Blocks {
				pairs = append(pairs, [2]string{fmt.Sprintf("block %d", i+1), b.String()})
			}
			for i, s := range plan.Stages {
				pairs = append(pairs, [2]string{fmt.Sprintf("stage %d", i+1), s})
			}
			p.kv(pairs)
			return nil
		},
	}
}
