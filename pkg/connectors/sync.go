package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

// SyncService drives provider synchronization: it runs connectors, upserts
// the normalized identities, appends sync history for the trend charts, and
// injects demo data for disconnected providers.
type SyncService struct {
	registry  *Registry
	store     core.IdentityStore
	telemetry core.Telemetry
	log       *logger.Logger

	timeout  time.Duration
	parallel bool
	demo     config.DemoConfig
}

func NewSyncService(
	registry *Registry,
	store core.IdentityStore,
	telemetry core.Telemetry,
	log *logger.Logger,
	syncCfg config.SyncConfig,
	demoCfg config.DemoConfig,
) *SyncService {
	return &SyncService{
		registry:  registry,
		store:     store,
		telemetry: telemetry,
		log:       log.WithComponent("sync"),
		timeout:   syncCfg.Timeout,
		parallel:  syncCfg.Parallel,
		demo:      demoCfg,
	}
}

// SyncProvider syncs one provider end to end and returns the identity count.
func (s *SyncService) SyncProvider(ctx context.Context, provider string) (int, error) {
	connector, err := s.registry.Get(provider)
	if err != nil {
		return 0, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := s.log.WithProvider(provider)
	start := time.Now()

	identities, err := connector.Sync(ctx)
	if s.telemetry != nil {
		s.telemetry.RecordSync(provider, time.Since(start).Seconds(), err == nil)
	}
	if err != nil {
		log.Errorw("Provider sync failed", "error", err)
		return 0, fmt.Errorf("sync failed for %s: %w", provider, err)
	}

	if err := s.store.UpsertIdentities(ctx, identities); err != nil {
		return 0, fmt.Errorf("failed to persist %s identities: %w", provider, err)
	}

	if err := s.store.SaveSyncRecord(ctx, buildSyncRecord(provider, identities)); err != nil {
		log.Warnw("Failed to record sync history", "error", err)
	}

	if s.telemetry != nil {
		s.telemetry.RecordIdentities(provider, len(identities))
	}

	log.Infow("Provider sync complete",
		"identities", len(identities),
		"duration_ms", time.Since(start).Milliseconds())
	return len(identities), nil
}

// SyncAll syncs every registered provider, then seeds demo identities for the
// simulated providers that are not connected.
func (s *SyncService) SyncAll(ctx context.Context) (int, error) {
	providers := s.registry.Providers()
	s.log.Infow("Starting sync across all providers", "providers", providers)

	var mu sync.Mutex
	total := 0
	failures := 0

	runOne := func(provider string) {
		count, err := s.SyncProvider(ctx, provider)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			// One broken provider must not block the rest of the sweep.
			failures++
			return
		}
		total += count
	}

	if s.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, provider := range providers {
			provider := provider
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				runOne(provider)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}
	} else {
		for _, provider := range providers {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			runOne(provider)
		}
	}

	demoCount, err := s.seedDemoIdentities(ctx)
	if err != nil {
		s.log.Warnw("Demo identity seeding failed", "error", err)
	}
	total += demoCount

	if failures == len(providers) && len(providers) > 0 && total == 0 {
		return 0, fmt.Errorf("all %d provider syncs failed", failures)
	}

	s.log.Infow("Sync sweep complete",
		"total", total,
		"providers", len(providers),
		"failures", failures,
		"demo_identities", demoCount)
	return total, nil
}

// seedDemoIdentities injects deterministic demo records for the simulated
// providers that have no registered connector.
func (s *SyncService) seedDemoIdentities(ctx context.Context) (int, error) {
	if !s.demo.Enabled {
		return 0, nil
	}

	baseEmails := s.resolveBaseEmails(ctx)
	if len(baseEmails) == 0 {
		return 0, nil
	}

	connected := make(map[string]bool)
	for _, p := range s.registry.Providers() {
		connected[p] = true
	}

	count := 0
	for _, provider := range DemoProviders {
		if connected[provider] {
			continue
		}
		var batch []*types.UnifiedIdentity
		for _, email := range baseEmails {
			batch = append(batch, GenerateDemoIdentities(email, provider)...)
		}
		if len(batch) == 0 {
			continue
		}
		if err := s.store.UpsertIdentities(ctx, batch); err != nil {
			return count, fmt.Errorf("failed to persist demo identities for %s: %w", provider, err)
		}
		count += len(batch)
	}

	if count > 0 {
		s.log.Infow("Injected demo identities for disconnected providers",
			"count", count, "base_emails", len(baseEmails))
	}
	return count, nil
}

// resolveBaseEmails merges the configured base emails with real emails
// already synced from github and gcp, deduplicated in stable order.
func (s *SyncService) resolveBaseEmails(ctx context.Context) []string {
	seen := make(map[string]bool)
	var emails []string
	add := func(email string) {
		if email == "" || seen[email] {
			return
		}
		seen[email] = true
		emails = append(emails, email)
	}

	for _, email := range s.demo.BaseEmails {
		add(email)
	}

	for _, source := range []string{string(types.SourceGitHub), string(types.SourceGCP)} {
		identities, _, err := s.store.ListIdentities(ctx, core.IdentityFilter{Source: source, Limit: 20})
		if err != nil {
			s.log.Warnw("Failed to load synced emails for demo context", "source", source, "error", err)
			continue
		}
		for _, identity := range identities {
			add(identity.Email)
		}
	}

	return emails
}

func buildSyncRecord(provider string, identities []*types.UnifiedIdentity) *types.SyncRecord {
	scores := make([]float64, 0, len(identities))
	sum := 0.0
	privileged := 0
	for _, identity := range identities {
		scores = append(scores, identity.RiskScore)
		sum += identity.RiskScore
		if identity.PrivilegeTier == types.TierHigh || identity.PrivilegeTier == types.TierCritical {
			privileged++
		}
	}

	n := len(scores)
	if n == 0 {
		n = 1
	}
	return &types.SyncRecord{
		Provider:        provider,
		Timestamp:       time.Now().UTC(),
		TotalSynced:     len(identities),
		PrivilegedCount: privileged,
		RiskScores:      scores,
		AvgRisk:         sum / float64(n),
	}
}
