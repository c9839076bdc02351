package worker

import (
	"context"
	"sync"

	"projects2nas/internal/registry"

	"go.uber.org/zap"
)

// Processor handles one item end to end
type Processor interface {
	Process(ctx context.Context, item *registry.Item)
}

// Pool runs item processing on a bounded set of workers. Each batch is a
// full barrier: RunBatch does not return until every dispatched item has
// settled, so the registry writes for one batch always land before the
// next batch is fetched.
type Pool struct {
	size      int
	processor Processor
	logger    *zap.Logger
}

// NewPool creates a worker pool of the given width
func NewPool(size int, processor Processor, logger *zap.Logger) *Pool {
	return &Pool{
		size:      size,
		processor: processor,
		logger:    logger,
	}
}

// RunBatch offers items to the workers in slice order and joins the whole
// batch. Cancelling the context stops dispatching new items; in-flight
// items run to completion. Returns the number of items actually offered.
func (p *Pool) RunBatch(ctx context.Context, items []*registry.Item) int {
	if len(items) == 0 {
		return 0
	}

	width := p.size
	if len(items) < width {
		width = len(items)
	}

	tasks := make(chan *registry.Item)
	var wg sync.WaitGroup

	for i := 0; i < width; i++ {
		wg.Add(1)
		go p.worker(i, tasks, &wg)
	}

	for offered, item := range items {
		select {
		case tasks <- item:
		case <-ctx.Done():
			p.logger.Info("Stopped dispatching batch - shutdown requested")
			close(tasks)
			wg.Wait()
			return offered
		}
	}

	close(tasks)
	wg.Wait()
	return len(items)
}

func (p *Pool) worker(id int, tasks <-chan *registry.Item, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for item := range tasks {
		// Workers finish their current item even during shutdown, so the
		// processor gets a background context for registry writes.
		p.processor.Process(context.Background(), item)
	}

	logger.Debug("Worker finished - no more tasks")
}
