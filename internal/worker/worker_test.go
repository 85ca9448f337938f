package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

// fakeQueue hands out queued jobs once and records terminal transitions.
type fakeQueue struct {
	mu        sync.Mutex
	jobs      []*types.SyncJob
	completed []string
	retried   []string
	failed    map[string]string
}

func newFakeQueue(jobs ...*types.SyncJob) *fakeQueue {
	return &fakeQueue{jobs: jobs, failed: make(map[string]string)}
}

func (q *fakeQueue) Push(ctx context.Context, job *types.SyncJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Pop(ctx context.Context, workerID string) (*types.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *fakeQueue) Complete(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, jobID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = reason
	return nil
}

func (q *fakeQueue) Retry(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, jobID)
	return nil
}

func (q *fakeQueue) GetStatus(ctx context.Context, jobID string) (*types.SyncJob, error) {
	return nil, nil
}

func (q *fakeQueue) GetPending(ctx context.Context) ([]*types.SyncJob, error) { return nil, nil }

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) snapshot() (completed, retried []string, failed map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	failed = make(map[string]string, len(q.failed))
	for k, v := range q.failed {
		failed[k] = v
	}
	return append([]string(nil), q.completed...), append([]string(nil), q.retried...), failed
}

// fakeRunner records sync invocations.
type fakeRunner struct {
	mu        sync.Mutex
	providers []string
	allCalls  int
	err       error
}

func (r *fakeRunner) SyncProvider(ctx context.Context, provider string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, provider)
	return 1, r.err
}

func (r *fakeRunner) SyncAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allCalls++
	return 5, r.err
}

func (r *fakeRunner) calls() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.providers...), r.allCalls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{QueuePollInterval: 5 * time.Millisecond, MaxRetries: 3}
}

func TestWorkerCompletesProviderJob(t *testing.T) {
	queue := newFakeQueue(&types.SyncJob{ID: "job-1", Provider: "okta"})
	runner := &fakeRunner{}

	w := NewWorker(queue, runner, testWorkerConfig(), testLogger(t))
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	waitFor(t, func() bool {
		completed, _, _ := queue.snapshot()
		return len(completed) == 1
	})

	providers, _ := runner.calls()
	assert.Equal(t, []string{"okta"}, providers)

	completed, _, _ := queue.snapshot()
	assert.Equal(t, []string{"job-1"}, completed)
	assert.Equal(t, 1, w.Status().JobsComplete)
}

func TestWorkerRunsFullSweepForAllProvider(t *testing.T) {
	queue := newFakeQueue(&types.SyncJob{ID: "job-2", Provider: ProviderAll})
	runner := &fakeRunner{}

	w := NewWorker(queue, runner, testWorkerConfig(), testLogger(t))
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	waitFor(t, func() bool {
		_, allCalls := runner.calls()
		return allCalls == 1
	})
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	queue := newFakeQueue(&types.SyncJob{ID: "job-3", Provider: "aws", Retries: 1})
	runner := &fakeRunner{err: errors.New("provider down")}

	w := NewWorker(queue, runner, testWorkerConfig(), testLogger(t))
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	waitFor(t, func() bool {
		_, retried, _ := queue.snapshot()
		return len(retried) == 1
	})

	_, retried, failed := queue.snapshot()
	assert.Equal(t, []string{"job-3"}, retried)
	assert.Empty(t, failed)
}

func TestWorkerFailsJobAfterMaxRetries(t *testing.T) {
	queue := newFakeQueue(&types.SyncJob{ID: "job-4", Provider: "aws", Retries: 3})
	runner := &fakeRunner{err: errors.New("provider down")}

	w := NewWorker(queue, runner, testWorkerConfig(), testLogger(t))
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	waitFor(t, func() bool {
		_, _, failed := queue.snapshot()
		return len(failed) == 1
	})

	_, retried, failed := queue.snapshot()
	assert.Empty(t, retried)
	assert.Contains(t, failed["job-4"], "provider down")
}

func TestWorkerRejectsJobWithoutProvider(t *testing.T) {
	queue := newFakeQueue(&types.SyncJob{ID: "job-5", Retries: 3})
	runner := &fakeRunner{}

	w := NewWorker(queue, runner, testWorkerConfig(), testLogger(t))
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	waitFor(t, func() bool {
		_, _, failed := queue.snapshot()
		return len(failed) == 1
	})

	_, _, failed := queue.snapshot()
	assert.Contains(t, failed["job-5"], "missing provider")
}

func TestWorkerPoolLifecycle(t *testing.T) {
	queue := newFakeQueue()
	runner := &fakeRunner{}

	pool := NewWorkerPool(queue, runner, testWorkerConfig(), testLogger(t))

	require.NoError(t, pool.Start(context.Background(), 3))
	assert.Error(t, pool.Start(context.Background(), 1), "double start must fail")

	statuses := pool.Status()
	assert.Len(t, statuses, 3)
	for _, status := range statuses {
		assert.NotEmpty(t, status.ID)
	}

	require.NoError(t, pool.Stop())
	assert.Error(t, pool.Stop(), "stopping a stopped pool must fail")
	assert.Empty(t, pool.Status())
}
