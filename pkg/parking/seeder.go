package parking

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// SeedReport summarizes a bulk seed.
type SeedReport struct {
	Requested int
	Inserted  int
	Closed    int
	Batches   int
	Elapsed   time.Duration
}

// SeederOption configures a Seeder instance.
type SeederOption func(*Seeder)

// Seeder bulk-loads historical transactions so analytics have volume before the generator runs.
type Seeder struct {
	store          BulkInserter
	nowFn          func() time.Time
	random         *rand.Rand
	batchSize      int
	closedRatio    float64
	window         time.Duration
	tariffs        TariffSchedule
	vehicleTypes   []VehicleType
	locations      []Location
	paymentMethods []PaymentMethod
	logger         OperationLogger
}

// WithSeedBatchSize sets how many rows go into one insert statement.
func WithSeedBatchSize(batchSize int) SeederOption {
	return func(seeder *Seeder) {
		seeder.batchSize = batchSize
	}
}

// WithSeedClosedRatio sets the share of seeded rows that are already closed.
func WithSeedClosedRatio(ratio float64) SeederOption {
	return func(seeder *Seeder) {
		seeder.closedRatio = ratio
	}
}

// WithSeedWindow sets how far back entry times are spread.
func WithSeedWindow(window time.Duration) SeederOption {
	return func(seeder *Seeder) {
		seeder.window = window
	}
}

// WithSeedRandom replaces the random source.
func WithSeedRandom(random *rand.Rand) SeederOption {
	return func(seeder *Seeder) {
		seeder.random = random
	}
}

// WithSeedLogger wires a logger that receives one record per inserted batch.
func WithSeedLogger(logger OperationLogger) SeederOption {
	return func(seeder *Seeder) {
		seeder.logger = logger
	}
}

// NewSeeder wires a Seeder.
func NewSeeder(store BulkInserter, now func() time.Time, options ...SeederOption) (*Seeder, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errStoreIsNil)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errClockIsNil)
	}
	seeder := &Seeder{
		store:          store,
		nowFn:          now,
		random:         newRandom(),
		batchSize:      defaultSeedBatchSize,
		closedRatio:    defaultSeedClosedRatio,
		window:         defaultSeedWindow,
		tariffs:        DefaultTariffSchedule(),
		vehicleTypes:   defaultVehicleTypes,
		locations:      mustLocations(seedLocationNames),
		paymentMethods: seedPaymentMethods,
	}
	for _, option := range options {
		if option != nil {
			option(seeder)
		}
	}
	if seeder.random == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errRandomIsNil)
	}
	if seeder.batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidServiceConfig)
	}
	if seeder.closedRatio < 0 || seeder.closedRatio > 1 {
		return nil, fmt.Errorf("%w: closed ratio %v outside [0,1]", ErrInvalidServiceConfig, seeder.closedRatio)
	}
	if seeder.window <= 0 {
		return nil, fmt.Errorf("%w: seed window must be positive", ErrInvalidServiceConfig)
	}
	return seeder, nil
}

// Seed inserts total historical transactions in batches. Rows already inserted stay
// inserted when a later batch fails or ctx is cancelled.
func (seeder *Seeder) Seed(ctx context.Context, total int) (SeedReport, error) {
	startedAt := time.Now()
	report := SeedReport{Requested: total}
	if total <= 0 {
		return report, nil
	}
	buffer := make([]Transaction, 0, min(seeder.batchSize, total))
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		batchStartedAt := time.Now()
		inserted, err := seeder.store.InsertBatch(ctx, buffer)
		report.Inserted += inserted
		report.Batches++
		logOperation(ctx, seeder.logger, OperationLog{
			Operation:   OperationSeed,
			RowsWritten: inserted,
			Duration:    time.Since(batchStartedAt),
			Error:       err,
		})
		buffer = buffer[:0]
		return err
	}
	now := seeder.nowFn()
	for index := 0; index < total; index++ {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(startedAt)
			return report, err
		}
		transaction, err := seeder.historicalTransaction(now)
		if err != nil {
			return report, err
		}
		if transaction.Closing != nil {
			report.Closed++
		}
		buffer = append(buffer, transaction)
		if len(buffer) >= seeder.batchSize {
			if err := flush(); err != nil {
				report.Elapsed = time.Since(startedAt)
				return report, err
			}
		}
	}
	err := flush()
	report.Elapsed = time.Since(startedAt)
	return report, err
}

func (seeder *Seeder) historicalTransaction(now time.Time) (Transaction, error) {
	offset := time.Duration(seeder.random.Int64N(int64(seeder.window)))
	entryTime := now.Add(-offset).Truncate(time.Second)
	transaction, err := NewOpenTransaction(
		GeneratePlate(seeder.random),
		seeder.vehicleTypes[seeder.random.IntN(len(seeder.vehicleTypes))],
		seeder.locations[seeder.random.IntN(len(seeder.locations))],
		entryTime,
	)
	if err != nil {
		return Transaction{}, err
	}
	if seeder.random.Float64() >= seeder.closedRatio {
		return transaction, nil
	}
	durationMinutes := seedMinDurationMinutes + seeder.random.IntN(seedMaxDurationMinutes-seedMinDurationMinutes+1)
	exitTime := entryTime.Add(time.Duration(durationMinutes) * time.Minute)
	if exitTime.After(now) {
		return transaction, nil
	}
	method := seeder.paymentMethods[seeder.random.IntN(len(seeder.paymentMethods))]
	return transaction.Close(exitTime, method, seeder.tariffs)
}
