package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/parkingsync/internal/config"
	"github.com/MarkoPoloResearchLab/parkingsync/internal/database"
	"github.com/MarkoPoloResearchLab/parkingsync/internal/statusapi"
	"github.com/MarkoPoloResearchLab/parkingsync/internal/telemetry"
	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	envPrefix = "PARKINGSYNC"

	flagEnvFile          = "env-file"
	flagLogDev           = "log-dev"
	flagSourceURL        = "source-url"
	flagSourceEngine     = "source-engine"
	flagSinkURL          = "sink-url"
	flagSinkEngine       = "sink-engine"
	flagTargetURL        = "target-url"
	flagTargetEngine     = "target-engine"
	flagTickInterval     = "tick-interval"
	flagEnterProbability = "enter-probability"
	flagRandomSeed       = "random-seed"
	flagCycleInterval    = "cycle-interval"
	flagBatchSize        = "batch-size"
	flagRunJournal       = "run-journal"
	flagStatusAddr       = "status-addr"
	flagBreakerFailures  = "breaker-failures"
	flagBreakerCooldown  = "breaker-cooldown"
	flagRetryAttempts    = "retry-attempts"
	flagRetryBackoff     = "retry-backoff"
	flagRetryMaxBackoff  = "retry-max-backoff"
	flagRows             = "rows"
	flagClosedRatio      = "closed-ratio"
	flagWindow           = "window"
	flagJournal          = "journal"

	defaultEnvFile = ".env"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parkingsync: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "parkingsync",
		Short:         "Parking lot traffic generator and analytical replication engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, err := cmd.Flags().GetString(flagEnvFile)
			if err != nil {
				return err
			}
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().String(flagEnvFile, defaultEnvFile, "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().Bool(flagLogDev, false, "human-readable development logging")

	cmd.AddCommand(newGenerateCommand(), newReplicateCommand(), newSeedCommand(), newMigrateCommand())
	return cmd
}

func newGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Simulate vehicles entering and leaving against the operational store",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := bindSettings(cmd)
			if err != nil {
				return err
			}
			cfg := config.GeneratorConfig{
				Source:           config.StoreConfig{URL: settings.GetString(flagSourceURL), Engine: settings.GetString(flagSourceEngine)},
				TickInterval:     settings.GetDuration(flagTickInterval),
				EnterProbability: settings.GetFloat64(flagEnterProbability),
				Seed:             settings.GetUint64(flagRandomSeed),
				Retry:            retryConfig(settings),
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withLogger(settings, func(logger *zap.Logger) error {
				return runGenerator(ctx, cfg, settings.GetString(flagStatusAddr), logger)
			})
		},
	}
	addStoreFlags(cmd, flagSourceURL, flagSourceEngine, "operational store url")
	cmd.Flags().Duration(flagTickInterval, 200*time.Millisecond, "time between generator ticks")
	cmd.Flags().Float64(flagEnterProbability, 0.7, "probability that a tick is an arrival")
	cmd.Flags().Uint64(flagRandomSeed, 0, "fixed random seed, 0 for a clock-derived seed")
	cmd.Flags().String(flagStatusAddr, "", "serve /healthz and /metrics on this address")
	addRetryFlags(cmd)
	return cmd
}

func newReplicateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Copy the operational ledger into the analytical store on a fixed cadence",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := bindSettings(cmd)
			if err != nil {
				return err
			}
			cfg := config.ReplicatorConfig{
				Source:          config.StoreConfig{URL: settings.GetString(flagSourceURL), Engine: settings.GetString(flagSourceEngine)},
				Sink:            config.StoreConfig{URL: settings.GetString(flagSinkURL), Engine: settings.GetString(flagSinkEngine)},
				CycleInterval:   settings.GetDuration(flagCycleInterval),
				BatchSize:       settings.GetInt(flagBatchSize),
				RunJournal:      settings.GetBool(flagRunJournal),
				StatusAddr:      settings.GetString(flagStatusAddr),
				BreakerFailures: settings.GetUint32(flagBreakerFailures),
				BreakerCooldown: settings.GetDuration(flagBreakerCooldown),
				Retry:           retryConfig(settings),
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withLogger(settings, func(logger *zap.Logger) error {
				return runReplicator(ctx, cfg, logger)
			})
		},
	}
	addStoreFlags(cmd, flagSourceURL, flagSourceEngine, "operational store url")
	addStoreFlags(cmd, flagSinkURL, flagSinkEngine, "analytical store url")
	cmd.Flags().Duration(flagCycleInterval, 20*time.Second, "time between replication cycle starts")
	cmd.Flags().Int(flagBatchSize, 1000, "rows per upsert statement")
	cmd.Flags().Bool(flagRunJournal, false, "record each written cycle in replication_runs")
	cmd.Flags().String(flagStatusAddr, "", "serve /healthz, /status and /metrics on this address")
	cmd.Flags().Uint32(flagBreakerFailures, 0, "open the circuit after this many consecutive failed writes, 0 disables")
	cmd.Flags().Duration(flagBreakerCooldown, time.Minute, "how long the circuit stays open before a probe write")
	addRetryFlags(cmd)
	return cmd
}

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Bulk-load historical transactions into a store",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := bindSettings(cmd)
			if err != nil {
				return err
			}
			cfg := config.SeedConfig{
				Target:      config.StoreConfig{URL: settings.GetString(flagTargetURL), Engine: settings.GetString(flagTargetEngine)},
				Rows:        settings.GetInt(flagRows),
				BatchSize:   settings.GetInt(flagBatchSize),
				ClosedRatio: settings.GetFloat64(flagClosedRatio),
				Window:      settings.GetDuration(flagWindow),
				Seed:        settings.GetUint64(flagRandomSeed),
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withLogger(settings, func(logger *zap.Logger) error {
				return runSeed(ctx, cfg, logger)
			})
		},
	}
	addStoreFlags(cmd, flagTargetURL, flagTargetEngine, "store url to seed")
	cmd.Flags().Int(flagRows, 100000, "number of transactions to insert")
	cmd.Flags().Int(flagBatchSize, 5000, "rows per insert statement")
	cmd.Flags().Float64(flagClosedRatio, 0.8, "share of seeded transactions that are already closed")
	cmd.Flags().Duration(flagWindow, 30*24*time.Hour, "how far back entry times are spread")
	cmd.Flags().Uint64(flagRandomSeed, 0, "fixed random seed, 0 for a clock-derived seed")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the parking_transactions table, and replication_runs with --journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := bindSettings(cmd)
			if err != nil {
				return err
			}
			store := config.StoreConfig{URL: settings.GetString(flagTargetURL), Engine: settings.GetString(flagTargetEngine)}
			target, err := store.Validate("target")
			if err != nil {
				return err
			}
			return withLogger(settings, func(logger *zap.Logger) error {
				if err := database.PrepareSchema(cmd.Context(), target, database.Engine(store.Engine), settings.GetBool(flagJournal)); err != nil {
					return fmt.Errorf("prepare schema: %w", err)
				}
				logger.Info("schema ready", zap.String("driver", string(target.Driver)), zap.Bool("journal", settings.GetBool(flagJournal)))
				return nil
			})
		},
	}
	addStoreFlags(cmd, flagTargetURL, flagTargetEngine, "store url to migrate")
	cmd.Flags().Bool(flagJournal, false, "also create the replication_runs journal table")
	return cmd
}

func addStoreFlags(cmd *cobra.Command, urlFlag string, engineFlag string, usage string) {
	cmd.Flags().String(urlFlag, "", usage+" (mysql://, starrocks://, postgres://, sqlite:// or a file path)")
	cmd.Flags().String(engineFlag, string(database.EngineGorm), "client engine: gorm or pgx (postgres only)")
}

func addRetryFlags(cmd *cobra.Command) {
	cmd.Flags().Int(flagRetryAttempts, 1, "attempts per tick or cycle")
	cmd.Flags().Duration(flagRetryBackoff, 0, "initial backoff between attempts")
	cmd.Flags().Duration(flagRetryMaxBackoff, 0, "maximum backoff between attempts")
}

// bindSettings layers flags over PARKINGSYNC_* environment variables.
func bindSettings(cmd *cobra.Command) (*viper.Viper, error) {
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := settings.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, err
	}
	return settings, nil
}

func retryConfig(settings *viper.Viper) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:    settings.GetInt(flagRetryAttempts),
		InitialBackoff: settings.GetDuration(flagRetryBackoff),
		MaxBackoff:     settings.GetDuration(flagRetryMaxBackoff),
	}
}

func withLogger(settings *viper.Viper, run func(logger *zap.Logger) error) error {
	newLogger := zap.NewProduction
	if settings.GetBool(flagLogDev) {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	return run(logger)
}

func runGenerator(ctx context.Context, cfg config.GeneratorConfig, statusAddr string, logger *zap.Logger) error {
	target, err := cfg.Validate()
	if err != nil {
		return err
	}
	store, err := database.Open(ctx, target, database.Engine(cfg.Source.Engine), 0)
	if err != nil {
		return fmt.Errorf("operational store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("operational store close failed", zap.Error(closeErr))
		}
	}()

	metrics := telemetry.NewMetrics()
	options := []parking.GeneratorOption{
		parking.WithTickInterval(cfg.TickInterval),
		parking.WithEnterProbability(cfg.EnterProbability),
		parking.WithGeneratorRetry(cfg.Retry.Policy()),
		parking.WithGeneratorLogger(telemetry.Fanout(telemetry.NewZapOperationLogger(logger), metrics)),
	}
	if cfg.Seed != 0 {
		options = append(options, parking.WithRandom(parking.NewSeededRandom(cfg.Seed)))
	}
	generator, err := parking.NewGenerator(store, func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		return fmt.Errorf("generator init: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if statusAddr != "" {
		router := statusapi.NewRouter(nil, metrics.Handler())
		group.Go(func() error { return statusapi.Run(groupCtx, statusAddr, router, logger) })
	}
	group.Go(func() error {
		logger.Info("generator started", zap.String("driver", string(target.Driver)), zap.Duration("tick_interval", cfg.TickInterval))
		return generator.Run(groupCtx)
	})
	err = group.Wait()
	logger.Info("generator stopped")
	return err
}

func runReplicator(ctx context.Context, cfg config.ReplicatorConfig, logger *zap.Logger) error {
	source, sink, err := cfg.Validate()
	if err != nil {
		return err
	}
	metrics := telemetry.NewMetrics()
	tracker := statusapi.NewTracker()
	options := []parking.ReplicatorOption{
		parking.WithCycleInterval(cfg.CycleInterval),
		parking.WithReplicatorRetry(cfg.Retry.Policy()),
		parking.WithReplicatorLogger(telemetry.Fanout(telemetry.NewZapOperationLogger(logger), metrics)),
		parking.WithRunJournal(cfg.RunJournal),
		parking.WithCycleObserver(tracker.Observe),
		parking.WithCycleObserver(metrics.ObserveCycle),
	}
	if cfg.BreakerFailures > 0 {
		options = append(options, parking.WithCircuitBreaker(cfg.BreakerFailures, cfg.BreakerCooldown, func(from string, to string) {
			logger.Warn("analytical store circuit changed", zap.String("from", from), zap.String("to", to))
			metrics.BreakerStateChanged(from, to)
		}))
	}
	replicator, err := parking.NewReplicator(
		database.SourceDialer(source, database.Engine(cfg.Source.Engine)),
		database.SinkDialer(sink, database.Engine(cfg.Sink.Engine), cfg.BatchSize),
		func() time.Time { return time.Now().UTC() },
		options...,
	)
	if err != nil {
		return fmt.Errorf("replicator init: %w", err)
	}
	if err := replicator.Preflight(ctx); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.StatusAddr != "" {
		router := statusapi.NewRouter(tracker, metrics.Handler())
		group.Go(func() error { return statusapi.Run(groupCtx, cfg.StatusAddr, router, logger) })
	}
	group.Go(func() error {
		logger.Info("replicator started",
			zap.String("source_driver", string(source.Driver)),
			zap.String("sink_driver", string(sink.Driver)),
			zap.Duration("cycle_interval", cfg.CycleInterval),
		)
		return replicator.Run(groupCtx)
	})
	err = group.Wait()
	logger.Info("replicator stopped")
	return err
}

func runSeed(ctx context.Context, cfg config.SeedConfig, logger *zap.Logger) error {
	target, err := cfg.Validate()
	if err != nil {
		return err
	}
	store, err := database.Open(ctx, target, database.Engine(cfg.Target.Engine), cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("target store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("target store close failed", zap.Error(closeErr))
		}
	}()
	options := []parking.SeederOption{
		parking.WithSeedBatchSize(cfg.BatchSize),
		parking.WithSeedClosedRatio(cfg.ClosedRatio),
		parking.WithSeedWindow(cfg.Window),
		parking.WithSeedLogger(telemetry.NewZapOperationLogger(logger)),
	}
	if cfg.Seed != 0 {
		options = append(options, parking.WithSeedRandom(parking.NewSeededRandom(cfg.Seed)))
	}
	seeder, err := parking.NewSeeder(store, func() time.Time { return time.Now().UTC() }, options...)
	if err != nil {
		return fmt.Errorf("seeder init: %w", err)
	}
	report, err := seeder.Seed(ctx, cfg.Rows)
	logger.Info("seed finished",
		zap.Int("requested", report.Requested),
		zap.Int("inserted", report.Inserted),
		zap.Int("closed", report.Closed),
		zap.Int("batches", report.Batches),
		zap.Duration("elapsed", report.Elapsed),
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
