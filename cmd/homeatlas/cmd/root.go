// Package cmd implements the homeatlas command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/homeatlas/homeatlas"
	"github.com/homeatlas/homeatlas/internal/config"
	"github.com/homeatlas/homeatlas/pkg/logging"
)

var (
	flagDatabase string
	flagVerbose  bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "homeatlas",
	Short: "Data collection and entity reconciliation engine",
	Long: `homeatlas collects third-party data about builders, communities,
properties, and sales reps, reconciles it against the system of record,
and routes every proposed change through a reviewable, auditable
approval workflow.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "db", "", "path to the sqlite database (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the CLI with the given context.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// newEngine builds the engine from configuration plus global flags.
func newEngine(ctx context.Context) (*homeatlas.Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagDatabase != "" {
		cfg.DatabasePath = flagDatabase
	}
	if flagVerbose {
		cfg.LogLevel = "debug"
	}

	logging.Configure(&logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})

	return homeatlas.New(ctx, homeatlas.WithConfig(cfg))
}
