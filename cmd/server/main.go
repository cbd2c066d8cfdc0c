// Package main is the entry point of the stepguide server.
//
// COMMANDS:
//
//	stepguide serve   [--config stepguide.toml]   run the HTTP API
//	stepguide migrate [--config stepguide.toml]   apply schema migrations
//	stepguide migrate --status                    report the schema version
//
// All real work lives in internal/; main only reads configuration, builds
// the logger and hands both to the server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sakif/stepguide/internal/config"
	"github.com/sakif/stepguide/internal/repository/sqlite"
	"github.com/sakif/stepguide/internal/repository/sqlite/migrations"
	"github.com/sakif/stepguide/internal/server"
)

const defaultConfigPath = "stepguide.toml"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "stepguide",
	Short:        "Step-by-step guide authoring and sharing server",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger := newLogger(cfg)
		if err := ensureParentDir(cfg.DBPath); err != nil {
			return err
		}

		srv, err := server.New(cfg, logger)
		if err != nil {
			logger.Error("failed to create server", slog.String("error", err.Error()))
			return err
		}

		// Start blocks until SIGINT/SIGTERM.
		if err := srv.Start(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	},
}

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DBPath == "" {
			return fmt.Errorf("db_path is required")
		}
		logger := newLogger(cfg)
		if err := ensureParentDir(cfg.DBPath); err != nil {
			return err
		}

		db, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if migrateStatus {
			if err := migrations.CheckDBMigrationStatus(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
			return nil
		}

		if err := migrations.MigrateUp(db); err != nil {
			return err
		}
		latest, err := migrations.LatestVersion()
		if err != nil {
			return err
		}
		logger.Info("database migrated",
			slog.String("database", cfg.DBPath),
			slog.Int("version", int(latest)),
		)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the TOML config file")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "only report whether migrations are pending")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// loadConfig reads --config. The default path may be absent; an explicitly
// given one must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("config") {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return logger
}

// ensureParentDir creates the directory holding a database file (like
// `mkdir -p`).
func ensureParentDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}
