package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"querygate/internal/config"
	"querygate/internal/logging"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	timeout      time.Duration
	metricsAddr  string
	catalogFiles []string

	// Loaded in PersistentPreRunE
	cfg           *config.Config
	restoreStdLog func()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "querygate",
	Short: "querygate - validation gate for generated observability queries",
	Long: `querygate checks machine generated PromQL, LogQL, SearchDSL and GraphDSL
queries before they reach a backend.

Every query passes through three stages and stops at the first failure:
  1. Syntax:   the query parses under the language grammar
  2. Schema:   every referenced identifier exists in the namespace catalog
  3. Semantic: the query answers the stated intent (only when an intent is given)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		if metricsAddr != "" {
			loaded.Telemetry.MetricsAddr = metricsAddr
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		if err := logging.Initialize(logging.Options{
			Level:       loaded.Logging.Level,
			Format:      loaded.Logging.Format,
			File:        loaded.Logging.File,
			Development: loaded.Logging.Development,
			Categories:  loaded.Logging.Categories,
		}); err != nil {
			return err
		}
		restoreStdLog = zap.RedirectStdLog(logging.Base())
		logging.BootDebug("config %s: store=%s grammar_dir=%q", configPath, loaded.Store.Backend, loaded.Grammar.Dir)
		cfg = loaded
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if restoreStdLog != nil {
			restoreStdLog()
		}
		_ = logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "querygate.yaml", "Config file (missing file uses defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "serve-metrics", "", "Expose /metrics on this address while the command runs")
	rootCmd.PersistentFlags().StringSliceVar(&catalogFiles, "catalog-file", nil, "YAML namespace catalog loaded into the store before running")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(batchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errRejected) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// commandContext bounds a command by --timeout and cancels it on SIGINT/SIGTERM.
func commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}
