package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"speakquery/internal/schedule"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled queries until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			once, _ := cmd.Flags().GetBool("once")

			f, err := schedule.LoadFile(file)
			if err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			runner, err := schedule.New(schedule.Config{
				Executor:  e.engine,
				Store:     e.jobs,
				Retention: f.Retention,
				Logger:    e.logger,
			})
			if err != nil {
				return err
			}
			for _, j := range f.Jobs {
				if err := runner.Add(j); err != nil {
					return err
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			if once {
				var errs []error
				for _, j := range f.Jobs {
					id, err := runner.RunNow(ctx, j.Name)
					if err != nil {
						errs = append(errs, err)
						continue
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", j.Name, id)
				}
				return errors.Join(errs...)
			}

			if err := e.lookups.Watch(); err != nil {
				e.logger.Warn("lookup watch unavailable", "error", err)
			}
			defer e.lookups.Close()

			runner.Start(ctx)
			<-ctx.Done()
			return runner.Stop()
		},
	}
	cmd.Flags().String("file", "schedules.yaml", "schedule definition file")
	cmd.Flags().Bool("once", false, "run every job once and exit")
	return cmd
}
