package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/melodydashora/vecto-pilot/internal/candidates"
	"github.com/melodydashora/vecto-pilot/internal/config"
	"github.com/melodydashora/vecto-pilot/internal/lock"
	"github.com/melodydashora/vecto-pilot/internal/logging"
	"github.com/melodydashora/vecto-pilot/internal/notify"
	"github.com/melodydashora/vecto-pilot/internal/pipeline"
	"github.com/melodydashora/vecto-pilot/internal/provider"
	"github.com/melodydashora/vecto-pilot/internal/ranking"
	"github.com/melodydashora/vecto-pilot/internal/server"
	"github.com/melodydashora/vecto-pilot/internal/store"
	"github.com/melodydashora/vecto-pilot/internal/watch"
)

var (
	configPath  string
	catalogPath string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vecto-pilot",
	Short: "Vecto Pilot - AI strategy pipeline for rideshare drivers",
	Long: `Vecto Pilot generates positioning strategy for rideshare drivers from an
immutable location snapshot: a fast strategist narrative first, researched
facts merged in behind it, and a deterministically ranked block list of
staging venues.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the strategy API server",
	Long: `Starts the HTTP API: snapshot intake, idempotent strategy generation,
status polling, and a server sent event stream for push updates.`,
	RunE: runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch [snapshot-id]",
	Short: "Poll a running strategy until it settles",
	Long: `Polls a remote strategy server with exponential backoff and prints each
observed state transition until the record reaches a terminal status.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		cmd.Print(string(data))
		return nil
	},
}

var watchServer string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vecto-pilot.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	serveCmd.Flags().StringVar(&catalogPath, "catalog", "data/venues.yaml", "venue catalog file")
	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:5000", "strategy server base URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Initialize(cfg.Logging.Directory, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()
	logging.Boot("%s %s starting", cfg.Name, cfg.Version)

	st, err := store.New(cfg.Store.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	locks, err := lock.New(st.DB(), cfg.GetLockTTL(), cfg.GetLockHeartbeat())
	if err != nil {
		return fmt.Errorf("failed to init lock coordinator: %w", err)
	}

	adapters, err := provider.BuildAdapters(cfg)
	if err != nil {
		return fmt.Errorf("failed to build provider adapters: %w", err)
	}

	source, err := candidates.NewStaticSource(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to load venue catalog: %w", err)
	}
	engine := ranking.NewEngine(source, cfg.Ranking)

	hub := notify.NewHub()
	defer hub.Close()

	orch := pipeline.New(cfg, st, locks, hub, adapters, engine)
	srv := server.New(cfg, st, orch, hub, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		parseDurationOr(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	orch.Wait()
	logging.Boot("%s stopped", cfg.Name)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	snapshotID := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := watch.New(&watch.HTTPFetcher{BaseURL: watchServer}, cfg)
	enc := json.NewEncoder(os.Stdout)
	for update := range watcher.Watch(ctx, snapshotID, nil) {
		if err := enc.Encode(update); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
