package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/parkingsync/internal/database"
	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
)

const (
	defaultStoreURL         = "sqlite://parking.db"
	defaultEngine           = string(database.EngineGorm)
	defaultTickInterval     = 200 * time.Millisecond
	defaultEnterProbability = 0.7
	defaultCycleInterval    = 20 * time.Second
	defaultUpsertBatchSize  = 1000
	defaultBreakerCooldown  = time.Minute
	defaultSeedRows         = 100000
	defaultSeedBatchSize    = 5000
	defaultSeedClosedRatio  = 0.8
	defaultSeedWindow       = 30 * 24 * time.Hour
	defaultRetryMaxAttempts = 1
	defaultRetryMaxBackoff  = 5 * time.Second
)

var errInvalidConfig = errors.New("invalid configuration")

// StoreConfig locates one store.
type StoreConfig struct {
	URL    string
	Engine string
}

// Validate fills defaults and resolves the URL.
func (cfg *StoreConfig) Validate(name string) (database.Target, error) {
	cfg.URL = defaultIfEmpty(cfg.URL, defaultStoreURL)
	cfg.Engine = strings.ToLower(defaultIfEmpty(cfg.Engine, defaultEngine))
	target, err := database.Resolve(cfg.URL)
	if err != nil {
		return database.Target{}, fmt.Errorf("%s store: %w", name, err)
	}
	if err := database.ValidateEngine(target, database.Engine(cfg.Engine)); err != nil {
		return database.Target{}, fmt.Errorf("%s store: %w", name, err)
	}
	return target, nil
}

// RetryConfig mirrors parking.RetryPolicy.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Validate fills defaults and rejects out-of-range values.
func (cfg *RetryConfig) Validate() error {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultRetryMaxAttempts
	}
	if cfg.InitialBackoff > 0 && cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = max(defaultRetryMaxBackoff, cfg.InitialBackoff)
	}
	if err := cfg.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", errInvalidConfig, err)
	}
	return nil
}

// Policy converts the config into a retry policy.
func (cfg RetryConfig) Policy() parking.RetryPolicy {
	return parking.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Retryable:      parking.IsRetryable,
	}
}

// GeneratorConfig aggregates runtime settings for the lifecycle generator.
type GeneratorConfig struct {
	Source           StoreConfig
	TickInterval     time.Duration
	EnterProbability float64
	// Seed fixes the random source; zero draws from the clock.
	Seed  uint64
	Retry RetryConfig
}

// Validate ensures the configuration contains sane values.
func (cfg *GeneratorConfig) Validate() (database.Target, error) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.TickInterval < 0 {
		return database.Target{}, fmt.Errorf("%w: tick interval must be positive", errInvalidConfig)
	}
	if cfg.EnterProbability == 0 {
		cfg.EnterProbability = defaultEnterProbability
	}
	if cfg.EnterProbability < 0 || cfg.EnterProbability > 1 {
		return database.Target{}, fmt.Errorf("%w: enter probability %v outside [0,1]", errInvalidConfig, cfg.EnterProbability)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return database.Target{}, err
	}
	return cfg.Source.Validate("source")
}

// ReplicatorConfig aggregates runtime settings for the replication engine.
type ReplicatorConfig struct {
	Source          StoreConfig
	Sink            StoreConfig
	CycleInterval   time.Duration
	BatchSize       int
	RunJournal      bool
	StatusAddr      string
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Retry           RetryConfig
}

// Validate ensures the configuration contains sane values and returns the resolved source and sink.
func (cfg *ReplicatorConfig) Validate() (database.Target, database.Target, error) {
	if cfg.CycleInterval == 0 {
		cfg.CycleInterval = defaultCycleInterval
	}
	if cfg.CycleInterval < 0 {
		return database.Target{}, database.Target{}, fmt.Errorf("%w: cycle interval must be positive", errInvalidConfig)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultUpsertBatchSize
	}
	if cfg.BatchSize < 0 {
		return database.Target{}, database.Target{}, fmt.Errorf("%w: batch size must be positive", errInvalidConfig)
	}
	if cfg.BreakerFailures > 0 && cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = defaultBreakerCooldown
	}
	cfg.StatusAddr = strings.TrimSpace(cfg.StatusAddr)
	if err := cfg.Retry.Validate(); err != nil {
		return database.Target{}, database.Target{}, err
	}
	source, err := cfg.Source.Validate("source")
	if err != nil {
		return database.Target{}, database.Target{}, err
	}
	if strings.TrimSpace(cfg.Sink.URL) == "" {
		return database.Target{}, database.Target{}, fmt.Errorf("%w: sink url is required", errInvalidConfig)
	}
	sink, err := cfg.Sink.Validate("sink")
	if err != nil {
		return database.Target{}, database.Target{}, err
	}
	if source == sink {
		return database.Target{}, database.Target{}, fmt.Errorf("%w: source and sink resolve to the same store", errInvalidConfig)
	}
	return source, sink, nil
}

// SeedConfig aggregates runtime settings for a bulk seed.
type SeedConfig struct {
	Target      StoreConfig
	Rows        int
	BatchSize   int
	ClosedRatio float64
	Window      time.Duration
	Seed        uint64
}

// Validate ensures the configuration contains sane values.
func (cfg *SeedConfig) Validate() (database.Target, error) {
	if cfg.Rows == 0 {
		cfg.Rows = defaultSeedRows
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultSeedBatchSize
	}
	if cfg.Window == 0 {
		cfg.Window = defaultSeedWindow
	}
	if cfg.ClosedRatio == 0 {
		cfg.ClosedRatio = defaultSeedClosedRatio
	}
	if cfg.Rows < 0 || cfg.BatchSize < 0 || cfg.Window < 0 {
		return database.Target{}, fmt.Errorf("%w: rows, batch size and window must be positive", errInvalidConfig)
	}
	if cfg.ClosedRatio < 0 || cfg.ClosedRatio > 1 {
		return database.Target{}, fmt.Errorf("%w: closed ratio %v outside [0,1]", errInvalidConfig, cfg.ClosedRatio)
	}
	return cfg.Target.Validate("target")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// IsInvalid reports whether err came from configuration validation.
func IsInvalid(err error) bool {
	return errors.Is(err, errInvalidConfig) || errors.Is(err, parking.ErrInvalidServiceConfig)
}
