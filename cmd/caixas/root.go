package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hcpa/caixas/internal/config"
	"github.com/hcpa/caixas/internal/db"
	"github.com/hcpa/caixas/internal/ledger"
	"github.com/hcpa/caixas/internal/logging"
	"github.com/hcpa/caixas/internal/store"
	"github.com/hcpa/caixas/internal/store/memstore"
	"github.com/hcpa/caixas/internal/store/sheets"
)

// app is what every subcommand needs once the config is loaded.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	ledger *ledger.Ledger
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:          "caixas",
		Short:        "Box pickup requests and collection history for the hospital wards",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path (YAML)")

	root.AddCommand(
		newServeCmd(&cfgFile),
		newNotifyCmd(&cfgFile),
		newPendingCmd(&cfgFile),
		newCollectCmd(&cfgFile),
	)
	return root
}

// withApp loads the config, builds the logger and store, and tears them
// down after run returns.
func withApp(cfgFile *string, run func(cmd *cobra.Command, args []string, a *app) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		st, closeStore, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				logger.Error("failed to close store", zap.Error(err))
			}
		}()

		a := &app{
			cfg:    cfg,
			logger: logger,
			ledger: ledger.New(st,
				ledger.WithLogger(logger),
				ledger.WithLocation(cfg.Location())),
		}
		return run(cmd, args, a)
	}
}

// openStore connects the backend selected by store.driver.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Store.Driver) {
	case "sheets":
		st, err := sheets.Open(ctx, sheets.Config{
			SpreadsheetID:    cfg.Sheets.SpreadsheetID,
			SpreadsheetTitle: cfg.Sheets.SpreadsheetTitle,
			CredentialsFile:  cfg.Sheets.CredentialsFile,
			CredentialsJSON:  cfg.Sheets.CredentialsJSON,
			PendingSheet:     cfg.Sheets.PendingSheet,
			HistorySheet:     cfg.Sheets.HistorySheet,
			Timeout:          cfg.Sheets.Timeout.Duration,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil

	case "sqlite":
		database, err := db.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return database, database.Close, nil

	case "memory":
		logger.Warn("using in-memory store, nothing will be persisted")
		return memstore.New(), noop, nil
	}

	return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}
