package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

type workerPool struct {
	workers []core.Worker
	queue   core.JobQueue
	runner  SyncRunner
	cfg     config.WorkerConfig
	logger  *logger.Logger

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewWorkerPool(queue core.JobQueue, runner SyncRunner, cfg config.WorkerConfig, log *logger.Logger) core.WorkerPool {
	return &workerPool{
		workers: make([]core.Worker, 0),
		queue:   queue,
		runner:  runner,
		cfg:     cfg,
		logger:  log.WithComponent("worker-pool"),
	}
}

func (p *workerPool) Start(ctx context.Context, workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx != nil {
		return fmt.Errorf("worker pool already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Infow("Starting worker pool", "workers", workerCount)

	for i := 0; i < workerCount; i++ {
		w := NewWorker(p.queue, p.runner, p.cfg, p.logger)

		if err := w.Start(p.ctx); err != nil {
			p.stopAll()
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}

		p.workers = append(p.workers, w)
	}

	p.logger.Infow("Worker pool started successfully", "workers", len(p.workers))
	return nil
}

func (p *workerPool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return fmt.Errorf("worker pool not started")
	}

	p.logger.Info("Stopping worker pool")
	p.cancel()

	return p.stopAll()
}

func (p *workerPool) Status() []*types.WorkerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]*types.WorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

func (p *workerPool) stopAll() error {
	g := new(errgroup.Group)

	for _, w := range p.workers {
		w := w
		g.Go(func() error {
			return w.Stop()
		})
	}

	err := g.Wait()
	p.workers = nil
	p.ctx = nil
	p.cancel = nil

	return err
}
