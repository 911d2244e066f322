// ABOUTME: Root Cobra command and global state for the agora CLI.
// ABOUTME: Loads config, configures logging, and opens the database and feed controller.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/2389-research/agora/internal/config"
	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/storage"
)

var globalConfig *config.Config
var globalLogger *log.Logger
var globalDB storage.Database
var globalController *feed.Controller

// Commands that never touch the database.
var offlineCommands = map[string]bool{
	"help":       true,
	"version":    true,
	"setup":      true,
	"roadmap":    true,
	"community":  true,
	"completion": true,
}

var (
	flagBackend  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "A realtime community feed for your terminal, agents, and browser",
	Long: `
 █████╗  ██████╗  ██████╗ ██████╗  █████╗
██╔══██╗██╔════╝ ██╔═══██╗██╔══██╗██╔══██╗
███████║██║  ███╗██║   ██║██████╔╝███████║
██╔══██║██║   ██║██║   ██║██╔══██╗██╔══██║
██║  ██║╚██████╔╝╚██████╔╝██║  ██║██║  ██║
╚═╝  ╚═╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝

Share posts, like, bookmark, and comment on a live community feed.
Backed by a hosted realtime database or a local SQLite file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if offlineCommands[cmd.Name()] || (cmd.HasParent() && offlineCommands[cmd.Parent().Name()]) {
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if flagBackend != "" {
			cfg.Database.Backend = flagBackend
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		globalConfig = cfg
		globalLogger = newLogger(cfg)

		db, err := openDatabase(cfg, globalLogger)
		if err != nil {
			return err
		}
		globalDB = db

		ctrl, err := openController(cmd.Context(), cfg, db, globalLogger)
		if err != nil {
			_ = db.Close()
			globalDB = nil
			return err
		}
		globalController = ctrl
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeGlobals()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Database backend: remote, sqlite, or memory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func closeGlobals() {
	if globalController != nil {
		_ = globalController.Close()
		globalController = nil
	}
	if globalDB != nil {
		_ = globalDB.Close()
		globalDB = nil
	}
}

// newLogger writes to stderr so stdout stays clean for command output and MCP.
func newLogger(cfg *config.Config) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := cfg.Level()
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func openDatabase(cfg *config.Config, logger log.FieldLogger) (storage.Database, error) {
	backend := cfg.ResolveBackend()
	logger.WithField("backend", backend).Debug("Opening database")

	switch backend {
	case config.BackendRemote:
		return storage.NewRemoteDB(cfg.Database.URL, cfg.Database.Secret, storage.WithRemoteLogger(logger)), nil
	case config.BackendMemory:
		return storage.NewMemoryDB(), nil
	default:
		path, err := cfg.GetSQLitePath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sqlite path: %w", err)
		}
		db, err := storage.NewSQLiteDB(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return db, nil
	}
}

func openController(ctx context.Context, cfg *config.Config, db storage.Database, logger log.FieldLogger) (*feed.Controller, error) {
	mode, err := models.ParseFilterMode(cfg.DefaultMode())
	if err != nil {
		return nil, fmt.Errorf("invalid feed.default_mode: %w", err)
	}

	localPath, err := config.LocalStoragePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local storage path: %w", err)
	}
	interactions := feed.NewLocalInteractions(storage.NewFileLocalStorage(localPath), logger)

	ctrl, err := feed.New(ctx, db, interactions,
		feed.WithLogger(logger),
		feed.WithPageSize(cfg.PageSize()),
		feed.WithMode(mode),
		feed.WithAuthor(cfg.Identity.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start feed: %w", err)
	}
	return ctrl, nil
}

// waitForFeed blocks until the first snapshot has been ingested.
func waitForFeed(ctx context.Context, ctrl *feed.Controller, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for ctrl.Loading() {
		select {
		case _, ok := <-ctrl.Changes():
			if !ok {
				return fmt.Errorf("feed closed before loading")
			}
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for posts: %w", ctx.Err())
		}
	}
	return nil
}
