package connectors

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/pkg/types"
)

// memoryStore is an in-memory core.IdentityStore for sync service tests.
type memoryStore struct {
	mu          sync.Mutex
	identities  map[string]*types.UnifiedIdentity
	syncRecords []types.SyncRecord
	upsertErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{identities: make(map[string]*types.UnifiedIdentity)}
}

func (s *memoryStore) UpsertIdentities(ctx context.Context, identities []*types.UnifiedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, identity := range identities {
		s.identities[identity.ID] = identity
	}
	return nil
}

func (s *memoryStore) GetIdentity(ctx context.Context, id string) (*types.UnifiedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, core.ErrIdentityNotFound
	}
	return identity, nil
}

func (s *memoryStore) ListIdentities(ctx context.Context, filter core.IdentityFilter) ([]*types.UnifiedIdentity, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.UnifiedIdentity
	for _, identity := range s.identities {
		if filter.Source != "" && filter.Source != "all" && string(identity.Source) != filter.Source {
			continue
		}
		out = append(out, identity)
	}
	return out, len(out), nil
}

func (s *memoryStore) DeleteBySource(ctx context.Context, source string) error { return nil }

func (s *memoryStore) SaveSyncRecord(ctx context.Context, record *types.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncRecords = append(s.syncRecords, *record)
	return nil
}

func (s *memoryStore) ListSyncRecords(ctx context.Context, since *string, limit int) ([]types.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SyncRecord(nil), s.syncRecords...), nil
}

func (s *memoryStore) SaveAuditEvent(ctx context.Context, action, actor string, metadata map[string]string) error {
	return nil
}

func (s *memoryStore) Close() error { return nil }

type recordingTelemetry struct {
	mu         sync.Mutex
	syncs      []string
	identities map[string]int
}

func newRecordingTelemetry() *recordingTelemetry {
	return &recordingTelemetry{identities: make(map[string]int)}
}

func (t *recordingTelemetry) RecordSync(provider string, duration float64, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncs = append(t.syncs, provider)
}

func (t *recordingTelemetry) RecordIdentities(provider string, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.identities[provider] = count
}

func (t *recordingTelemetry) RecordAnalysis(operation string, duration float64) {}

func (t *recordingTelemetry) Close() error { return nil }

// stubConnector returns a fixed batch or error.
type stubConnector struct {
	provider   string
	identities []*types.UnifiedIdentity
	err        error
}

func (c *stubConnector) Provider() string { return c.provider }

func (c *stubConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.identities, c.err
}

func (c *stubConnector) Validate(ctx context.Context) error { return nil }

func newTestSyncService(t *testing.T, store *memoryStore, telem *recordingTelemetry, demo config.DemoConfig, conns ...core.Connector) *SyncService {
	t.Helper()
	registry := NewRegistry()
	for _, c := range conns {
		registry.Register(c)
	}
	return NewSyncService(registry, store, telem, testLogger(t), config.SyncConfig{Parallel: true}, demo)
}

func TestSyncProviderPersistsIdentitiesAndHistory(t *testing.T) {
	store := newMemoryStore()
	telem := newRecordingTelemetry()
	svc := newTestSyncService(t, store, telem, config.DemoConfig{},
		&stubConnector{provider: "github", identities: []*types.UnifiedIdentity{
			{ID: "github-1", Email: "a@acme.com", Source: types.SourceGitHub, RiskScore: 50, PrivilegeTier: types.TierHigh},
			{ID: "github-2", Email: "b@acme.com", Source: types.SourceGitHub, RiskScore: 30, PrivilegeTier: types.TierLow},
		}})

	count, err := svc.SyncProvider(context.Background(), "github")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, store.syncRecords, 1)
	record := store.syncRecords[0]
	assert.Equal(t, "github", record.Provider)
	assert.Equal(t, 2, record.TotalSynced)
	assert.Equal(t, 1, record.PrivilegedCount)
	assert.Equal(t, 40.0, record.AvgRisk)

	assert.Equal(t, 2, telem.identities["github"])
	assert.Equal(t, []string{"github"}, telem.syncs)
}

func TestSyncProviderUnknownProvider(t *testing.T) {
	svc := newTestSyncService(t, newMemoryStore(), newRecordingTelemetry(), config.DemoConfig{})

	_, err := svc.SyncProvider(context.Background(), "okta")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connector registered")
}

func TestSyncProviderConnectorFailure(t *testing.T) {
	store := newMemoryStore()
	svc := newTestSyncService(t, store, newRecordingTelemetry(), config.DemoConfig{},
		&stubConnector{provider: "okta", err: errors.New("api down")})

	_, err := svc.SyncProvider(context.Background(), "okta")
	require.Error(t, err)
	assert.Empty(t, store.syncRecords)
}

func TestSyncAllSeedsDemoForDisconnectedProviders(t *testing.T) {
	store := newMemoryStore()
	svc := newTestSyncService(t, store, newRecordingTelemetry(),
		config.DemoConfig{Enabled: true, BaseEmails: []string{"alice@acme.com"}},
		&stubConnector{provider: "okta", identities: []*types.UnifiedIdentity{
			{ID: "okta-1", Email: "alice@acme.com", Source: types.SourceOkta},
		}})

	total, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	// okta is connected, so demo records appear for aws, azure and gitlab only
	_, err = store.GetIdentity(context.Background(), "aws-alice-acme.com")
	require.NoError(t, err)
	_, err = store.GetIdentity(context.Background(), "azure-alice-acme.com")
	require.NoError(t, err)
	_, err = store.GetIdentity(context.Background(), "gitlab-alice-acme.com")
	require.NoError(t, err)
	_, err = store.GetIdentity(context.Background(), "okta-alice-acme.com")
	assert.ErrorIs(t, err, core.ErrIdentityNotFound)

	assert.GreaterOrEqual(t, total, 4)
}

func TestSyncAllUsesSyncedEmailsForDemoContext(t *testing.T) {
	store := newMemoryStore()
	svc := newTestSyncService(t, store, newRecordingTelemetry(),
		config.DemoConfig{Enabled: true},
		&stubConnector{provider: "github", identities: []*types.UnifiedIdentity{
			{ID: "github-1", Email: "carol@acme.com", Source: types.SourceGitHub},
		}})

	_, err := svc.SyncAll(context.Background())
	require.NoError(t, err)

	// the github email becomes the base for demo identities everywhere else
	_, err = store.GetIdentity(context.Background(), "okta-carol-acme.com")
	require.NoError(t, err)
}

func TestSyncAllSurvivesOneBrokenProvider(t *testing.T) {
	store := newMemoryStore()
	svc := newTestSyncService(t, store, newRecordingTelemetry(), config.DemoConfig{},
		&stubConnector{provider: "okta", err: errors.New("api down")},
		&stubConnector{provider: "github", identities: []*types.UnifiedIdentity{
			{ID: "github-1", Email: "a@acme.com", Source: types.SourceGitHub},
		}})

	total, err := svc.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSyncAllFailsWhenEverythingFails(t *testing.T) {
	svc := newTestSyncService(t, newMemoryStore(), newRecordingTelemetry(), config.DemoConfig{},
		&stubConnector{provider: "okta", err: errors.New("down")},
		&stubConnector{provider: "aws", err: errors.New("down")})

	_, err := svc.SyncAll(context.Background())
	require.Error(t, err)
}
