package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/beaconsec/identra/internal/credentials"
	"github.com/beaconsec/identra/internal/jobs"
	"github.com/beaconsec/identra/internal/ratelimit"
	"github.com/beaconsec/identra/internal/telemetry"
	"github.com/beaconsec/identra/internal/worker"
	"github.com/beaconsec/identra/pkg/connectors"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Manage the sync worker pool",
}

var workersStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start workers consuming the sync job queue",
	Long: `Start a pool of workers that pop provider-sync jobs from the redis
queue and execute them against the configured connectors.

Example:
  identra workers start --count 3`,
	RunE: runWorkersStart,
}

var workerCount int

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.AddCommand(workersStartCmd)

	workersStartCmd.Flags().IntVar(&workerCount, "count", 0, "Number of workers (defaults to worker.count)")
}

func runWorkersStart(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Close()

	queue, err := jobs.NewRedisQueue(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to job queue: %w", err)
	}
	defer queue.Close()

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

	pool := worker.NewWorkerPool(queue, syncService, cfg.Worker, log)

	count := workerCount
	if count <= 0 {
		count = cfg.Worker.Count
	}
	if count <= 0 {
		count = 3
	}

	if err := pool.Start(ctx, count); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	color.Green("Started %d workers, providers: %v\n", count, registry.Providers())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdown

	color.Yellow("\nReceived %s, stopping workers...\n", sig)
	if err := pool.Stop(); err != nil {
		return fmt.Errorf("failed to stop worker pool: %w", err)
	}
	color.Green("Worker pool stopped\n")
	return nil
}
