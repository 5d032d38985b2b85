// Package cmd wires the insight CLI: serve runs the HTTP API, detect runs a
// one-off detection pass, version prints build and configuration info.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/newnotes/insight/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Interest graph and recommendation engine",
	Long: `insight detects topics of interest from notes, tasks and chat activity,
organizes them into a broader-than hierarchy, and serves ranked topic
recommendations over HTTP.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called from main.
func Execute() error {
	slog.SetDefault(initLogger())
	return rootCmd.Execute()
}

// initLogger builds the process logger. DEBUG in the environment enables
// debug-level output; logs go to stderr.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}
