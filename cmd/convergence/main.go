// Command convergence is the operator CLI for the convergence trust service:
// identity registration, DGC signal ingestion, outcome recording, trust
// adjustment, policy management, the darwin tuning cycle, and witness chain
// inspection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sab-lab/convergence/internal/config"
	"github.com/sab-lab/convergence/internal/logging"
	"github.com/sab-lab/convergence/internal/service"
	"github.com/sab-lab/convergence/internal/storage"
	"github.com/sab-lab/convergence/internal/storage/postgres"
	"github.com/sab-lab/convergence/internal/storage/sqlite"
)

var (
	flagConfigFile string
	flagDBPath     string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "convergence",
	Short: "Agent trust scoring and convergence tracking",
	Long: `convergence ingests agent identity packets and DGC behavioral signals,
derives per-event trust scores with anti-gaming detection, revises them as
verified outcomes arrive, and keeps every mutation in a hash-chained witness
log.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "YAML config file overlay")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "sqlite database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
}

// openService builds the full stack from env, config file, and flags.
// The returned cleanup closes storage and flushes the logger.
func openService() (*service.Service, func(), error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if flagConfigFile != "" {
		if err := config.LoadFile(flagConfigFile, cfg); err != nil {
			return nil, nil, err
		}
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment != "production")
	if err != nil {
		return nil, nil, err
	}

	var store storage.Storage
	switch cfg.DBBackend {
	case config.BackendPostgres:
		store, err = postgres.New(postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
	default:
		store, err = sqlite.New(cfg.DBPath)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", cfg.DBBackend, err)
	}

	cleanup := func() {
		store.Close()
		_ = logger.Sync()
	}
	return service.New(store, cfg, logger.Named("convergence")), cleanup, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
