package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"projects2nas/internal/app"
	"projects2nas/internal/config"
	"projects2nas/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "projects2nas",
	Short: "Migrate classified project bundles to a tiered NAS archive",
	Long: `A concurrent, resumable migration engine that moves classified project
bundles from a source volume into a tiered archive, with a durable work
queue, per-item integrity verification, and crash-safe resumability.`,
	RunE: runMigration,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")

	// Path flags
	rootCmd.Flags().String("source-root", "", "Root directory of the source volume")
	rootCmd.Flags().String("archive-root", "", "Root directory of the tiered archive")
	rootCmd.Flags().String("registry", "./registry.db", "Registry database file")
	rootCmd.Flags().String("progress-file", "./progress.json", "Progress checkpoint file")
	rootCmd.Flags().String("report-dir", "./reports", "Directory for report artifacts")

	// Queue flags
	rootCmd.Flags().String("category", "", "Restrict the queue to one category")
	rootCmd.Flags().Int("limit", 0, "Maximum items to migrate this run (0 = unlimited)")
	rootCmd.Flags().Int("batch-size", 25, "Items fetched per batch")
	rootCmd.Flags().Int("concurrency", 4, "Number of concurrent workers")
	rootCmd.Flags().Bool("dry-run", false, "Run the full state machine without moving data")
	rootCmd.Flags().Int("transfer-retries", 2, "Retry attempts per item for I/O failures")
	rootCmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")
	rootCmd.Flags().Int("transfer-timeout-min", 30, "Per-item transfer timeout in minutes")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus listen address (empty = disabled)")

	// Safety flags
	rootCmd.Flags().Bool("backup", true, "Snapshot the registry before the run")
	rootCmd.Flags().Bool("delete-source", false, "Delete sources after verified migration")
	rootCmd.Flags().Bool("verify-checksum", true, "Verify transfers with content checksums")
	rootCmd.Flags().Bool("skip-corrupted", false, "Exclude items that exhausted their attempt cap")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
}

func runMigration(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	migrator, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	// Graceful shutdown: in-flight workers finish, no new batch is fetched.
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	err = migrator.Run(ctx)

	if closeErr := migrator.Close(); closeErr != nil {
		log.Error("Error closing migrator", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
