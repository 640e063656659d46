// Package cli implements the speakquery command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"speakquery/internal/query"
)

// NewRootCommand returns the root command with all subcommands wired in.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:          "speakquery",
		Short:        "Run SpeakQuery pipelines over table files",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	root.PersistentFlags().String("config", "", "config file (default: <home>/config.json or config.yaml)")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	directivesCmd := &cobra.Command{
		Use:   "directives",
		Short: "List pipeline directives",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range query.Directives() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}

	root.AddCommand(
		newRunCmd(),
		newParseCmd(),
		newScheduleCmd(),
		newJobsCmd(),
		directivesCmd,
		versionCmd,
	)
	return root
}
