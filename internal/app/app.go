package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"projects2nas/internal/config"
	"projects2nas/internal/metrics"
	"projects2nas/internal/progress"
	"projects2nas/internal/registry"
	"projects2nas/internal/report"
	"projects2nas/internal/resolver"
	"projects2nas/internal/transfer"
	"projects2nas/internal/verify"
	"projects2nas/internal/worker"

	"go.uber.org/zap"
)

// Migrator drives the full migration run: environment validation, optional
// registry snapshot, batch-by-batch scheduling, and the final report.
type Migrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry registry.Store
	pool     *worker.Pool
	tracker  *progress.Tracker
	ckpt     *progress.CheckpointWriter
	metrics  *metrics.Collector
}

// New creates a migrator instance
func New(cfg *config.Config, logger *zap.Logger) (*Migrator, error) {
	store, err := registry.NewSQLiteStore(cfg.Paths.Registry, registry.Options{
		SkipCorrupted: cfg.Safety.SkipCorrupted,
		MaxAttempts:   cfg.Safety.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	tracker := progress.NewTracker()
	ckpt := progress.NewCheckpointWriter(cfg.Paths.ProgressFile)
	collector := metrics.New()

	onItemDone := func() {
		if err := ckpt.Write(tracker.GetStatus()); err != nil {
			logger.Warn("Failed to write progress checkpoint", zap.Error(err))
		}
	}

	processor := worker.NewItemProcessor(
		worker.Config{
			DryRun:          cfg.Migration.DryRun,
			TransferRetries: cfg.Migration.TransferRetries,
			RetryBackoffMs:  cfg.Migration.RetryBackoffMs,
			TransferTimeout: time.Duration(cfg.Migration.TransferTimeoutMin) * time.Minute,
			DeleteSource:    cfg.Safety.DeleteSource,
		},
		store,
		resolver.New(cfg.Paths.ArchiveRoot),
		transfer.NewExecutor(cfg.Migration.DryRun, logger),
		verify.New(cfg.Safety.VerifyChecksum),
		tracker,
		collector,
		logger,
		onItemDone,
	)

	return &Migrator{
		cfg:      cfg,
		logger:   logger,
		registry: store,
		pool:     worker.NewPool(cfg.Migration.Concurrency, processor, logger),
		tracker:  tracker,
		ckpt:     ckpt,
		metrics:  collector,
	}, nil
}

// Run executes the migration. The returned error reflects environment
// validation, never individual item outcomes.
func (m *Migrator) Run(ctx context.Context) error {
	start := time.Now()

	m.logger.Info("Starting migration",
		zap.String("source_root", m.cfg.Paths.SourceRoot),
		zap.String("archive_root", m.cfg.Paths.ArchiveRoot),
		zap.String("category", m.cfg.Migration.Category),
		zap.Int("limit", m.cfg.Migration.Limit),
		zap.Int("batch_size", m.cfg.Migration.BatchSize),
		zap.Int("concurrency", m.cfg.Migration.Concurrency),
		zap.Bool("dry_run", m.cfg.Migration.DryRun),
	)

	if err := m.validateEnvironment(ctx); err != nil {
		return err
	}

	m.snapshotRegistry()

	if addr := m.cfg.Migration.MetricsAddr; addr != "" {
		go func() {
			if err := m.metrics.StartServer(addr); err != nil {
				m.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	eligible, err := m.registry.CountEligible(ctx, m.cfg.Migration.Category)
	if err != nil {
		return fmt.Errorf("failed to count eligible items: %w", err)
	}

	planned := eligible
	if limit := m.cfg.Migration.Limit; limit > 0 && limit < planned {
		planned = limit
	}
	m.tracker.SetTotal(int64(planned))
	if err := m.ckpt.Write(m.tracker.GetStatus()); err != nil {
		m.logger.Warn("Failed to write progress checkpoint", zap.Error(err))
	}

	m.logger.Info("Eligible queue sized",
		zap.Int("eligible", eligible),
		zap.Int("planned", planned),
	)

	dispatched, err := m.drainQueue(ctx)
	if err != nil {
		return err
	}

	status := m.tracker.GetStatus()

	// The run context may already be cancelled by a graceful shutdown; the
	// summary still has to land, so the report reads use a fresh context.
	summary, err := report.Build(context.Background(), m.registry, report.RunStats{
		DryRun:         m.cfg.Migration.DryRun,
		CategoryFilter: m.cfg.Migration.Category,
		TotalEligible:  eligible,
		Dispatched:     dispatched,
		Migrated:       status.MigratedItems,
		Failed:         status.FailedItems,
		Elapsed:        time.Since(start),
	})
	if err != nil {
		// Item outcomes are already durable in the registry; a report
		// failure never changes the exit status.
		m.logger.Warn("Failed to build report", zap.Error(err))
	} else {
		if path, err := summary.Write(m.cfg.Paths.ReportDir); err != nil {
			m.logger.Warn("Failed to write report artifact", zap.Error(err))
		} else {
			m.logger.Info("Report written", zap.String("path", path))
		}

		fmt.Println(summary.Render())
	}

	m.logger.Info("Migration completed",
		zap.Int("dispatched", dispatched),
		zap.Int64("migrated", status.MigratedItems),
		zap.Int64("failed", status.FailedItems),
		zap.Duration("elapsed", time.Since(start)),
	)

	return nil
}

// drainQueue fetches fixed-size batches until the eligible queue is empty,
// the item ceiling is reached, or shutdown is requested. The cursor
// guarantees an item is offered at most once per run.
func (m *Migrator) drainQueue(ctx context.Context) (int, error) {
	var (
		cursor     *registry.Cursor
		dispatched int
	)

	for {
		if ctx.Err() != nil {
			m.logger.Info("Shutdown requested - not fetching further batches")
			break
		}

		batchSize := m.cfg.Migration.BatchSize
		if limit := m.cfg.Migration.Limit; limit > 0 && dispatched+batchSize > limit {
			batchSize = limit - dispatched
		}
		if batchSize <= 0 {
			break
		}

		items, err := m.registry.SelectPending(ctx, batchSize, m.cfg.Migration.Category, cursor)
		if err != nil {
			return dispatched, fmt.Errorf("registry unreachable: %w", err)
		}
		if len(items) == 0 {
			break
		}

		m.logger.Info("Dispatching batch", zap.Int("items", len(items)))
		dispatched += m.pool.RunBatch(ctx, items)

		last := items[len(items)-1]
		cursor = &registry.Cursor{Priority: last.Priority, ID: last.ID}

		if len(items) < batchSize {
			break
		}

		// Courtesy pause between batches to shed load from the volumes.
		select {
		case <-time.After(time.Duration(m.cfg.Migration.BatchPauseMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}

	return dispatched, nil
}

// validateEnvironment fails the run before any mutation when the volumes
// or the registry are unusable.
func (m *Migrator) validateEnvironment(ctx context.Context) error {
	if _, err := os.Stat(m.cfg.Paths.SourceRoot); err != nil {
		return fmt.Errorf("source root unavailable: %w", err)
	}

	info, err := os.Stat(m.cfg.Paths.ArchiveRoot)
	if err != nil {
		return fmt.Errorf("archive root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive root is not a directory: %s", m.cfg.Paths.ArchiveRoot)
	}

	// Writability probe, skipped in dry-run where the archive root must
	// stay untouched.
	if !m.cfg.Migration.DryRun {
		probe := filepath.Join(m.cfg.Paths.ArchiveRoot, ".projects2nas_probe")
		f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("archive root not writable: %w", err)
		}
		f.Close()
		os.Remove(probe)
	}

	if err := m.registry.Ping(ctx); err != nil {
		return fmt.Errorf("registry unreachable: %w", err)
	}

	return nil
}

// snapshotRegistry takes the best-effort pre-run backup
func (m *Migrator) snapshotRegistry() {
	if !m.cfg.Safety.Backup || m.cfg.Migration.DryRun {
		return
	}

	path := fmt.Sprintf("%s.bak.%s", m.cfg.Paths.Registry, time.Now().Format("20060102_150405"))
	if err := m.registry.Snapshot(path); err != nil {
		m.logger.Warn("Registry backup failed - proceeding without it", zap.Error(err))
		return
	}

	m.logger.Info("Registry backup created", zap.String("path", path))
}

// Close cleans up resources
func (m *Migrator) Close() error {
	if m.registry != nil {
		return m.registry.Close()
	}
	return nil
}
