package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/beaconsec/identra/internal/api"
	"github.com/beaconsec/identra/internal/credentials"
	"github.com/beaconsec/identra/internal/ratelimit"
	"github.com/beaconsec/identra/internal/telemetry"
	"github.com/beaconsec/identra/pkg/connectors"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Identra HTTP API server",
	Long: `Start the HTTP API server.

Serves the identity risk intelligence endpoints: summary, identity
listing and drill-down, compliance and remediation reports, graph
exports, risk trends, and the force-sync trigger.

Example:
  identra serve --port 8080
  identra serve --host 127.0.0.1 --port 9090 --cors=false`,
	RunE: runServe,
}

var (
	serverPort int
	serverHost string
	enableCORS bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&serverPort, "port", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().BoolVar(&enableCORS, "cors", true, "Enable CORS for the dashboard")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := log.WithComponent("api-server")

	log.Infow("Starting Identra API server",
		"host", serverHost,
		"port", serverPort,
		"cors_enabled", enableCORS,
	)

	ctx := context.Background()
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Close()

	// Overlay vault-held provider credentials where config left gaps.
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

	log.Infow("Provider connectors registered", "providers", registry.Providers())

	apiKey := cfg.Security.APIKey
	if cfg.Security.EnableAuth && apiKey == "" {
		return fmt.Errorf("API key not configured: set IDENTRA_API_KEY or security.api_key")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.LoggingMiddleware(log))
	if enableCORS {
		router.Use(api.CORSMiddleware(cfg.Server.CORSOrigins))
	}

	v1 := router.Group("/api/v1")
	{
		if cfg.Security.EnableAuth {
			v1.Use(api.AuthMiddleware(apiKey, log))
		}
		v1.Use(api.RateLimitMiddleware(cfg.Security.RateLimit))

		api.RegisterIdentityRoutes(v1, store, syncService, tel, log)
	}

	addr := fmt.Sprintf("%s:%d", serverHost, serverPort)
	server := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("HTTP server listening", "address", addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("Received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Errorw("Failed to shutdown gracefully", "error", err)
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		log.Infow("Server shutdown complete")
	}

	return nil
}
