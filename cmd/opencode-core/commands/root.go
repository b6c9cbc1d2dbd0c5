// Package commands provides the CLI commands for opencode-core.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode-core/internal/logging"
)

var (
	// Version information set at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "opencode-core",
	Short: "opencode-core - streaming event reconciliation core",
	Long: `opencode-core reconciles an unreliable stream of server-sent
session/message/part events into a consistent local store, with
optimistic local entities reconciled against their canonical
counterparts as they arrive.

Run 'opencode-core replay' to feed a newline-delimited envelope stream
through the core and inspect the resulting store state.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: printLogs,
		}
		if !printLogs {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.AddCommand(replayCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
