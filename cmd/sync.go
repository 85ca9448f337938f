package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/beaconsec/identra/internal/credentials"
	"github.com/beaconsec/identra/internal/jobs"
	"github.com/beaconsec/identra/internal/ratelimit"
	"github.com/beaconsec/identra/internal/telemetry"
	"github.com/beaconsec/identra/pkg/connectors"
	"github.com/beaconsec/identra/pkg/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync [provider]",
	Short: "Sync identities from providers",
	Long: `Sync identities from configured providers into the store.

With no argument, every registered provider is synced and demo data is
seeded for disconnected ones. With a provider name, only that provider
is synced.

Example:
  identra sync
  identra sync okta
  identra sync --enqueue       # push a job for the worker pool instead`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

var syncEnqueue bool

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncEnqueue, "enqueue", false, "Enqueue a sync job instead of running inline")
}

func runSync(cmd *cobra.Command, args []string) error {
	provider := "all"
	if len(args) == 1 {
		provider = args[0]
	}

	if syncEnqueue {
		return enqueueSyncJob(provider)
	}

	ctx := context.Background()
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Close()

	providers := cfg.Providers
	if os.Getenv(cfg.Credentials.MasterKeyEnv) != "" {
		vault, err := credentials.Open(cfg.Credentials, log)
		if err != nil {
			return fmt.Errorf("failed to open credential vault: %w", err)
		}
		vault.ApplyToProviders(&providers)
	}

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	registry := connectors.NewRegistryFromConfig(providers, limiter, log)
	syncService := connectors.NewSyncService(registry, store, tel, log, cfg.Sync, cfg.Demo)

	start := time.Now()
	var total int
	if provider == "all" {
		color.Cyan("Syncing all providers: %v\n", registry.Providers())
		total, err = syncService.SyncAll(ctx)
	} else {
		color.Cyan("Syncing provider %s\n", provider)
		total, err = syncService.SyncProvider(ctx, provider)
	}
	if err != nil {
		color.Red("Sync failed: %v\n", err)
		return err
	}

	color.Green("Synced %d identities in %s\n", total, time.Since(start).Round(time.Millisecond))
	return nil
}

func enqueueSyncJob(provider string) error {
	queue, err := jobs.NewRedisQueue(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to job queue: %w", err)
	}
	defer queue.Close()

	job := &types.SyncJob{
		ID:        uuid.New().String(),
		Provider:  provider,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := queue.Push(context.Background(), job); err != nil {
		return fmt.Errorf("failed to enqueue sync job: %w", err)
	}

	color.Green("Enqueued sync job %s for provider %s\n", job.ID, provider)
	return nil
}
