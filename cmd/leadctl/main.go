// Command leadctl runs pipeline jobs from a shell or a scheduler.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leadflow/backend/internal/app"
	"github.com/leadflow/backend/pkg/config"
	appLogger "github.com/leadflow/backend/pkg/logger"
)

var (
	rootCtx  context.Context
	pipeline *app.App
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "leadctl",
	Short: "Run lead discovery and outreach jobs",
	Long: `leadctl triggers the same jobs the API server exposes: discovery sweeps, newsroom
scans, drip steps and dialer sweeps. Results are printed as JSON.

Configuration is read from config.yaml and LEADFLOW_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the JSON result
		if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, "stderr"); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if logLevel != "" {
			if err := appLogger.SetLevel(logLevel); err != nil {
				return err
			}
		}

		pipeline, err = app.New(cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if pipeline != nil {
			pipeline.Close()
		}
		appLogger.Sync()
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if pipeline != nil {
			pipeline.Close()
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
