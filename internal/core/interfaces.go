package core

import (
	"context"
	"errors"

	"github.com/beaconsec/identra/pkg/types"
)

// Sentinel errors shared across store implementations and API handlers.
var (
	// ErrIdentityNotFound is returned when an identity id has no record.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrStoreUnavailable marks a store that was configured but cannot be
	// reached. Read paths degrade to empty results; writes fail loudly.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// Connector pulls identities from one provider and normalizes them into the
// unified model.
type Connector interface {
	Provider() string
	Sync(ctx context.Context) ([]*types.UnifiedIdentity, error)
	Validate(ctx context.Context) error
}

// IdentityFilter narrows ListIdentities.
type IdentityFilter struct {
	Search    string
	Source    string
	RiskLevel string
	SortBy    string
	SortDesc  bool
	Limit     int
	Offset    int
}

// IdentityStore persists unified identities and sync history.
type IdentityStore interface {
	UpsertIdentities(ctx context.Context, identities []*types.UnifiedIdentity) error
	GetIdentity(ctx context.Context, id string) (*types.UnifiedIdentity, error)
	ListIdentities(ctx context.Context, filter IdentityFilter) ([]*types.UnifiedIdentity, int, error)
	DeleteBySource(ctx context.Context, source string) error

	SaveSyncRecord(ctx context.Context, record *types.SyncRecord) error
	ListSyncRecords(ctx context.Context, since *string, limit int) ([]types.SyncRecord, error)

	SaveAuditEvent(ctx context.Context, action, actor string, metadata map[string]string) error

	Close() error
}

// JobQueue schedules provider sync jobs for the worker pool.
type JobQueue interface {
	Push(ctx context.Context, job *types.SyncJob) error
	Pop(ctx context.Context, workerID string) (*types.SyncJob, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, reason string) error
	Retry(ctx context.Context, jobID string) error
	GetStatus(ctx context.Context, jobID string) (*types.SyncJob, error)
	GetPending(ctx context.Context) ([]*types.SyncJob, error)
	Close() error
}

type Worker interface {
	ID() string
	Start(ctx context.Context) error
	Stop() error
	Status() *types.WorkerStatus
}

type WorkerPool interface {
	Start(ctx context.Context, workers int) error
	Stop() error
	Status() []*types.WorkerStatus
}

// RateLimiter throttles outbound provider API calls.
type RateLimiter interface {
	Wait(ctx context.Context, provider string) error
	SetLimit(provider string, requestsPerSecond int)
}

// Telemetry records sync and analysis metrics.
type Telemetry interface {
	RecordSync(provider string, duration float64, success bool)
	RecordIdentities(provider string, count int)
	RecordAnalysis(operation string, duration float64)
	Close() error
}
