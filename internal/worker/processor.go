package worker

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"projects2nas/internal/metrics"
	"projects2nas/internal/progress"
	"projects2nas/internal/registry"
	"projects2nas/internal/resolver"
	"projects2nas/internal/transfer"
	"projects2nas/internal/verify"

	"go.uber.org/zap"
)

// Config contains per-item processing configuration
type Config struct {
	DryRun          bool
	TransferRetries int
	RetryBackoffMs  int
	TransferTimeout time.Duration
	DeleteSource    bool
}

// ItemProcessor runs the transfer + verify + registry-update sequence for
// one item. Item-level failures are recorded and never propagate; one
// item's fate is independent of the rest of the batch.
type ItemProcessor struct {
	config   Config
	registry registry.Store
	resolver *resolver.Resolver
	executor *transfer.Executor
	verifier *verify.Verifier
	tracker  *progress.Tracker
	metrics  *metrics.Collector
	logger   *zap.Logger

	// onItemDone is called after each item's registry write has landed;
	// the scheduler uses it to rewrite the progress checkpoint.
	onItemDone func()
}

// NewItemProcessor creates an item processor
func NewItemProcessor(
	cfg Config,
	store registry.Store,
	res *resolver.Resolver,
	exec *transfer.Executor,
	ver *verify.Verifier,
	tracker *progress.Tracker,
	collector *metrics.Collector,
	logger *zap.Logger,
	onItemDone func(),
) *ItemProcessor {
	return &ItemProcessor{
		config:     cfg,
		registry:   store,
		resolver:   res,
		executor:   exec,
		verifier:   ver,
		tracker:    tracker,
		metrics:    collector,
		logger:     logger,
		onItemDone: onItemDone,
	}
}

// Process migrates a single item
func (p *ItemProcessor) Process(ctx context.Context, item *registry.Item) {
	start := time.Now()

	p.metrics.WorkerStarted()
	defer p.metrics.WorkerFinished()
	if p.onItemDone != nil {
		defer p.onItemDone()
	}

	targetDir := p.resolver.TargetDir(item.Category)

	if p.config.DryRun {
		// Full state machine, no filesystem writes under the archive root.
		planned := p.resolver.Plan(targetDir, item.DisplayName)
		p.executor.Transfer(ctx, item.SourcePath, planned)
		p.succeed(ctx, item, planned, 0, start)
		return
	}

	info, err := os.Lstat(item.SourcePath)
	if err != nil {
		p.fail(ctx, item, fmt.Sprintf("transfer failed: source unreadable: %v", err))
		return
	}

	if err := p.resolver.EnsureDir(targetDir); err != nil {
		p.fail(ctx, item, fmt.Sprintf("transfer failed: cannot create target dir: %v", err))
		return
	}

	target, err := p.resolver.Reserve(targetDir, item.DisplayName, info.IsDir())
	if err != nil {
		p.fail(ctx, item, fmt.Sprintf("transfer failed: %v", err))
		return
	}

	outcome := p.transferWithRetry(ctx, item, target)
	if !outcome.OK {
		p.fail(ctx, item, fmt.Sprintf("transfer failed: %v", outcome.Err))
		return
	}

	if ok, detail := p.verifier.Check(item.SourcePath, target); !ok {
		p.fail(ctx, item, fmt.Sprintf("integrity mismatch: %s", detail))
		return
	}

	p.succeed(ctx, item, target, outcome.Bytes, start)

	if p.config.DeleteSource {
		// Gated on the migrated mark having landed; irreversible.
		if err := p.executor.RemoveSource(item.SourcePath); err != nil {
			p.logger.Error("Failed to delete source after migration",
				zap.Int64("id", item.ID),
				zap.String("source", item.SourcePath),
				zap.Error(err),
			)
		}
	}
}

// transferWithRetry re-attempts I/O failures with exponential backoff.
// Cancellation and non-I/O failures are not retried.
func (p *ItemProcessor) transferWithRetry(ctx context.Context, item *registry.Item, target string) transfer.Outcome {
	var outcome transfer.Outcome

	for attempt := 0; attempt <= p.config.TransferRetries; attempt++ {
		tctx := ctx
		var cancel context.CancelFunc
		if p.config.TransferTimeout > 0 {
			tctx, cancel = context.WithTimeout(ctx, p.config.TransferTimeout)
		}

		outcome = p.executor.Transfer(tctx, item.SourcePath, target)
		if cancel != nil {
			cancel()
		}

		if outcome.OK || outcome.Kind != transfer.KindIO {
			return outcome
		}

		p.logger.Warn("Transfer attempt failed",
			zap.Int64("id", item.ID),
			zap.String("name", item.DisplayName),
			zap.Int("attempt", attempt+1),
			zap.Error(outcome.Err),
		)

		if attempt < p.config.TransferRetries {
			backoff := time.Duration(p.config.RetryBackoffMs) * time.Millisecond
			time.Sleep(backoff * time.Duration(math.Pow(2, float64(attempt))))
		}
	}

	return outcome
}

func (p *ItemProcessor) succeed(ctx context.Context, item *registry.Item, target string, bytes int64, start time.Time) {
	if err := p.registry.MarkMigrated(ctx, item.ID, target); err != nil {
		p.logger.Error("Failed to record migrated item",
			zap.Int64("id", item.ID),
			zap.Error(err),
		)
	}

	p.tracker.AddMigrated(item.DisplayName, bytes)
	p.metrics.IncMigrated(bytes)
	p.metrics.ObserveDuration(time.Since(start))

	p.logger.Info("Item migrated",
		zap.Int64("id", item.ID),
		zap.String("name", item.DisplayName),
		zap.String("target", target),
		zap.Duration("duration", time.Since(start)),
	)
}

func (p *ItemProcessor) fail(ctx context.Context, item *registry.Item, reason string) {
	if err := p.registry.MarkFailed(ctx, item.ID, reason); err != nil {
		p.logger.Error("Failed to record failed item",
			zap.Int64("id", item.ID),
			zap.Error(err),
		)
	}

	p.tracker.AddFailed(item.DisplayName)
	p.metrics.IncFailed()

	p.logger.Error("Item failed",
		zap.Int64("id", item.ID),
		zap.String("name", item.DisplayName),
		zap.String("reason", reason),
	)
}
