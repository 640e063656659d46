package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"speakquery/internal/jobstore"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage persisted query results",
	}
	cmd.AddCommand(newJobsListCmd(), newJobsShowCmd(), newJobsDeleteCmd(), newJobsPruneCmd())
	return cmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			infos, err := e.jobs.List()
			if err != nil {
				return err
			}
			rows := make([][]string, len(infos))
			for i, info := range infos {
				rows[i] = []string{
					info.ID.String(),
					info.Created.Format(time.RFC3339),
					strconv.Itoa(info.Rows),
					info.Query,
				}
			}
			p := &printer{format: formatTable, w: cmd.OutOrStdout()}
			p.table([]string{"ID", "CREATED", "ROWS", "QUERY"}, rows)
			return nil
		},
	}
}

func newJobsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			p, err := newPrinter(cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			id, err := jobstore.ParseID(args[0])
			if err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			ds, err := e.jobs.Load(id)
			if err != nil {
				return err
			}
			return p.dataset(ds)
		},
	}
	cmd.Flags().StringP("format", "f", formatTable, "output format: table, csv, tsv, json, jsonl, yaml")
	return cmd
}

func newJobsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := jobstore.ParseID(args[0])
			if err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			return e.jobs.Delete(id)
		},
	}
}

func newJobsPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete saved results older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			age, _ := cmd.Flags().GetDuration("older-than")
			if age <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			n, err := e.jobs.Prune(time.Now().Add(-age))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs\n", n)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 7*24*time.Hour, "minimum age of deleted results")
	return cmd
}
