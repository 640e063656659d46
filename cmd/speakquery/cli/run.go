package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"speakquery/internal/query"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Run a query and print the result",
		Long: "Run a query and print the result. Arguments are joined with spaces,\n" +
			"so the query can be given unquoted where the shell allows.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			save, _ := cmd.Flags().GetBool("save")

			p, err := newPrinter(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			q := strings.Join(args, " ")
			res, err := e.engine.Run(ctx, q)
			if err != nil {
				return err
			}
			reportProblems(cmd, res)
			if err := p.dataset(res.Data); err != nil {
				return err
			}
			if save {
				id, err := e.jobs.Save(q, res.Data)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "saved job %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringP("format", "f", formatTable, "output format: table, csv, tsv, json, jsonl, yaml")
	cmd.Flags().Bool("save", false, "persist the result for loadjob")
	return cmd
}

// reportProblems prints non-fatal resolution warnings and directive
// failures to stderr.
func reportProblems(cmd *cobra.Command, res *query.Result) {
	w := cmd.ErrOrStderr()
	for _, warn := range res.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %v\n", warn)
	}
	for _, f := range res.Failures {
		_, _ = fmt.Fprintf(w, "directive failed: %v\n", f)
	}
}
