package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/database"
	"github.com/beaconsec/identra/internal/logger"
)

var (
	cfg   *config.Config
	log   *logger.Logger
	store core.IdentityStore
)

var rootCmd = &cobra.Command{
	Use:   "identra",
	Short: "Identity risk intelligence platform",
	Long: `Identra - Identity Risk Intelligence Platform

Aggregates identity records from cloud IAM, SaaS, and source-control
providers into a unified model and computes security risk over it:
per-identity risk scores, relationship-graph blast radius and attack
paths, compliance policy evaluation, and prioritized remediation.

COMMANDS:
  identra serve              - Start the HTTP API server
  identra sync [provider]    - Sync identities from providers
  identra analyze            - Run risk analysis against stored identities
  identra workers start      - Start the sync worker pool
  identra vault              - Manage encrypted provider credentials
  identra db status          - Show database migration status`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		// Commands that never touch the store skip database startup.
		switch cmd.Name() {
		case "help", "version", "vault", "set", "get", "list":
			return nil
		}

		store, err = database.NewStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync errors on stdout/stderr are expected on Linux.
			if err := log.Sync(); err != nil {
				if err.Error() != "sync /dev/stdout: invalid argument" && err.Error() != "sync /dev/stderr: invalid argument" {
					fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
				}
			}
		}
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to close database: %v\n", err)
			}
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindEnv("logger.level", "IDENTRA_LOG_LEVEL")
	viper.BindEnv("logger.format", "IDENTRA_LOG_FORMAT")

	rootCmd.PersistentFlags().String("db-driver", "sqlite3", "Database driver (sqlite3, postgres)")
	rootCmd.PersistentFlags().String("db-dsn", "identra.db", "Database connection string")
	rootCmd.PersistentFlags().Int("db-max-conns", 25, "Maximum database connections")
	viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindPFlag("database.max_connections", rootCmd.PersistentFlags().Lookup("db-max-conns"))
	viper.BindEnv("database.dsn", "IDENTRA_DATABASE_DSN")

	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis server address")
	rootCmd.PersistentFlags().String("redis-password", "", "Redis password")
	rootCmd.PersistentFlags().Int("redis-db", 0, "Redis database number")
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("redis.password", rootCmd.PersistentFlags().Lookup("redis-password"))
	viper.BindPFlag("redis.db", rootCmd.PersistentFlags().Lookup("redis-db"))

	viper.BindEnv("security.api_key", "IDENTRA_API_KEY")
	viper.BindEnv("providers.okta.api_token", "IDENTRA_OKTA_API_TOKEN")
	viper.BindEnv("providers.okta.domain", "IDENTRA_OKTA_DOMAIN")
	viper.BindEnv("providers.github.token", "IDENTRA_GITHUB_TOKEN")
	viper.BindEnv("providers.gitlab.token", "IDENTRA_GITLAB_TOKEN")
}

func initConfig() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("IDENTRA")

	// Flags and env vars overlay the programmatic defaults; no YAML needed,
	// but an explicit config file is honored when present.
	cfg = config.DefaultConfig()

	if cfgPath := os.Getenv("IDENTRA_CONFIG"); cfgPath != "" {
		viper.SetConfigFile(cfgPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgPath, err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg.Validate()
}

// GetConfig exposes the loaded configuration to subcommands.
func GetConfig() *config.Config {
	return cfg
}

// GetLogger exposes the root logger to subcommands.
func GetLogger() *logger.Logger {
	return log
}
