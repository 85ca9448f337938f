// Package worker runs the sync job consumers that drain the provider queue.
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

// SyncRunner executes provider syncs on behalf of a worker. The sync service
// satisfies this; tests substitute a stub.
type SyncRunner interface {
	SyncProvider(ctx context.Context, provider string) (int, error)
	SyncAll(ctx context.Context) (int, error)
}

// ProviderAll is the job provider value meaning "sync everything".
const ProviderAll = "all"

type worker struct {
	id       string
	hostname string
	queue    core.JobQueue
	runner   SyncRunner
	logger   *logger.Logger

	pollInterval time.Duration
	maxRetries   int

	status   types.WorkerStatus
	statusMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(queue core.JobQueue, runner SyncRunner, cfg config.WorkerConfig, log *logger.Logger) core.Worker {
	workerID := uuid.New().String()

	hostname := "unknown"
	if h, err := os.Hostname(); err == nil {
		hostname = h
	}

	pollInterval := cfg.QueuePollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &worker{
		id:       workerID,
		hostname: hostname,
		queue:    queue,
		runner:   runner,
		logger: log.WithComponent("worker").WithFields(
			"worker_id", workerID,
			"hostname", hostname,
		),
		pollInterval: pollInterval,
		maxRetries:   maxRetries,
		done:         make(chan struct{}),
		status: types.WorkerStatus{
			ID:     workerID,
			Status: "idle",
		},
	}
}

func (w *worker) ID() string {
	return w.id
}

func (w *worker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.updateStatus("active", "")

	w.logger.WithContext(ctx).Infow("Worker started")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.LogPanic(w.ctx, r, "worker.run")
			}
		}()
		w.run()
	}()

	return nil
}

func (w *worker) Stop() error {
	ctx := context.Background()
	w.logger.WithContext(ctx).Infow("Stopping worker",
		"current_status", w.Status().Status,
		"jobs_completed", w.Status().JobsComplete,
	)

	if w.cancel != nil {
		w.cancel()
	}

	stopTimeout := 30 * time.Second
	select {
	case <-w.done:
		w.logger.WithContext(ctx).Infow("Worker stopped gracefully")
	case <-time.After(stopTimeout):
		w.logger.WithContext(ctx).Warnw("Worker stop timeout, forcing shutdown",
			"timeout_ms", stopTimeout.Milliseconds())
	}

	w.updateStatus("stopped", "")
	return nil
}

func (w *worker) Status() *types.WorkerStatus {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()

	status := w.status
	status.ID = w.id
	status.LastActive = time.Now()
	return &status
}

func (w *worker) run() {
	start := time.Now()
	ctx, span := w.logger.StartOperation(w.ctx, "worker.run")
	defer func() {
		w.logger.FinishOperation(ctx, span, "worker.run", start, nil)
		close(w.done)
	}()

	// Health ticker logs throughput so a stuck worker is visible in the logs
	healthInterval := 30 * time.Second
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	jobsProcessed := 0
	errorCount := 0

	for {
		select {
		case <-w.ctx.Done():
			w.logger.WithContext(ctx).Infow("Worker shutting down",
				"total_jobs_processed", jobsProcessed,
				"total_errors", errorCount,
				"uptime_ms", time.Since(start).Milliseconds(),
			)
			return

		case <-ticker.C:
			status := w.Status()
			w.logger.WithContext(ctx).Debugw("Worker health",
				"status", status.Status,
				"jobs_complete", status.JobsComplete,
				"current_job", status.CurrentJob,
				"error_count", errorCount,
			)

		default:
			if err := w.processJob(); err != nil {
				errorCount++
				w.logger.LogError(ctx, err, "worker.processJob",
					"total_errors", errorCount)

				// Back off so a broken queue does not spin the loop
				select {
				case <-time.After(5 * time.Second):
				case <-w.ctx.Done():
				}
			} else {
				jobsProcessed++
			}
		}
	}
}

func (w *worker) processJob() error {
	start := time.Now()
	ctx, span := w.logger.StartOperation(w.ctx, "worker.processJob")
	defer func() {
		w.logger.FinishOperation(ctx, span, "worker.processJob", start, nil)
	}()

	job, err := w.queue.Pop(w.ctx, w.id)
	if err != nil {
		return fmt.Errorf("failed to pop job: %w", err)
	}

	if job == nil {
		select {
		case <-time.After(w.pollInterval):
		case <-w.ctx.Done():
		}
		return nil
	}

	w.updateStatus("processing", job.ID)

	jobCtx, jobSpan := w.logger.StartSpanWithAttributes(ctx,
		"worker.syncJob",
		[]attribute.KeyValue{
			attribute.String("job_id", job.ID),
			attribute.String("sync.provider", job.Provider),
			attribute.String("worker_id", w.id),
			attribute.Int("job_retries", job.Retries),
		},
	)
	defer jobSpan.End()

	w.logger.WithContext(jobCtx).Infow("Processing sync job",
		"job_id", job.ID,
		"provider", job.Provider,
		"retries", job.Retries,
	)

	execStart := time.Now()
	count, execErr := w.executeJob(jobCtx, job)
	execDuration := time.Since(execStart)

	if execErr != nil {
		w.logger.LogError(jobCtx, execErr, "worker.executeJob",
			"job_id", job.ID,
			"provider", job.Provider,
			"execution_duration_ms", execDuration.Milliseconds(),
		)
		jobSpan.RecordError(execErr)
		jobSpan.SetStatus(codes.Error, execErr.Error())

		if job.Retries < w.maxRetries {
			if retryErr := w.queue.Retry(w.ctx, job.ID); retryErr != nil {
				w.logger.LogError(jobCtx, retryErr, "worker.queue.retry", "job_id", job.ID)
			} else {
				w.logger.WithContext(jobCtx).Infow("Sync job scheduled for retry",
					"job_id", job.ID,
					"retry_attempt", job.Retries+1,
					"max_retries", w.maxRetries,
				)
			}
		} else {
			if failErr := w.queue.Fail(w.ctx, job.ID, execErr.Error()); failErr != nil {
				w.logger.LogError(jobCtx, failErr, "worker.queue.fail", "job_id", job.ID)
			} else {
				w.logger.WithContext(jobCtx).Warnw("Sync job failed after max retries",
					"job_id", job.ID,
					"max_retries", w.maxRetries,
					"error", execErr.Error(),
				)
			}
		}

		w.updateStatus("idle", "")
		return nil
	}

	jobSpan.SetStatus(codes.Ok, "completed")
	if completeErr := w.queue.Complete(w.ctx, job.ID); completeErr != nil {
		w.logger.LogError(jobCtx, completeErr, "worker.queue.complete", "job_id", job.ID)
	}

	w.incrementJobsComplete()
	w.updateStatus("idle", "")

	w.logger.WithContext(jobCtx).Infow("Sync job completed",
		"job_id", job.ID,
		"provider", job.Provider,
		"identities_synced", count,
		"execution_duration_ms", execDuration.Milliseconds(),
	)
	return nil
}

func (w *worker) executeJob(ctx context.Context, job *types.SyncJob) (int, error) {
	if job.Provider == "" {
		return 0, fmt.Errorf("invalid sync job %s: missing provider", job.ID)
	}

	if job.Provider == ProviderAll {
		return w.runner.SyncAll(ctx)
	}
	return w.runner.SyncProvider(ctx, job.Provider)
}

func (w *worker) updateStatus(status, currentJob string) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	w.status.Status = status
	w.status.CurrentJob = currentJob
	w.status.LastActive = time.Now()
}

func (w *worker) incrementJobsComplete() {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()

	w.status.JobsComplete++
}
