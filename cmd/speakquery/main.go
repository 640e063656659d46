// Command speakquery runs SpeakQuery pipelines over table files.
//
// Logging:
//   - Base logger is created in the cli package from --log-level and --log-format
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"os"

	"speakquery/cmd/speakquery/cli"
)

var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		os.Exit(1)
	}
}
