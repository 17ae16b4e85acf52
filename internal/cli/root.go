package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/statsync/internal/control"
	"github.com/vietddude/statsync/internal/core/config"
)

var (
	cfgPath    string
	isDebug    bool
	datasets   []string
	partitions []string
)

var rootCmd = &cobra.Command{
	Use:   "statsync",
	Short: "Statsync collection service",
	Long: `Statsync keeps a local store of sports statistics complete: it works out which
items have not been collected yet, fetches them politely from the remote API and
records every failure so nothing is lost or retried forever.`,
	RunE:          runCollector,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every pass in dependency order, repeating at the configured interval",
	RunE:  runCollector,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("statsync failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")

	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "limit the run to these datasets")
		cmd.Flags().StringSliceVar(&partitions, "partition", nil, "limit the run to these partitions")
	}
	rootCmd.AddCommand(runCmd)
}

// loadConfig loads configuration and installs the logger.
func loadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		return nil, err
	}

	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Logging.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		slogLevel = slog.LevelError
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg, nil
}

// openApp loads configuration and builds the app. The caller must close it.
func openApp(ctx context.Context) (*control.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize statsync: %w", err)
	}
	return app, nil
}

// stopApp releases the app's connections.
func stopApp(app *control.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return app.Stop(ctx)
}

// closeApp stops the app, logging instead of returning the error.
func closeApp(app *control.App) {
	if err := stopApp(app); err != nil {
		slog.Warn("Error during shutdown", "error", err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCollector(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		closeApp(app)
		return fmt.Errorf("failed to start statsync: %w", err)
	}
	slog.Info("Statsync started", "config", cfgPath)

	if err := app.Run(ctx, datasets, partitions); err != nil {
		slog.Error("Collector stopped", "error", err)
	}
	slog.Info("Shutting down...")

	if err := stopApp(app); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
