package parking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Action is what a generator tick decided to do.
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
)

const (
	plateSuffixLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	plateSuffixLength  = 3
	plateNumberMinimum = 1000
	plateNumberSpan    = 9000
)

var (
	plateRegions          = []string{"B", "D", "F", "L"}
	defaultVehicleTypes   = []VehicleType{VehicleMotor, VehicleCar}
	defaultPaymentMethods = []PaymentMethod{PaymentCash, PaymentQRIS, PaymentDebit}
	defaultLocationNames  = []string{"Mall A", "Mall B", "Office Park"}
	seedPaymentMethods    = []PaymentMethod{PaymentCash, PaymentQRIS, PaymentDebit, PaymentEWallet}
	seedLocationNames     = []string{"Mall A", "Mall B", "Office Park", "Pasar Modern"}

	errStoreIsNil  = errors.New("store dependency is nil")
	errClockIsNil  = errors.New("clock dependency is nil")
	errRandomIsNil = errors.New("random source is nil")
)

// TickResult describes the outcome of one generator tick.
type TickResult struct {
	Action      Action
	Transaction Transaction
	Skipped     bool
	Attempts    int
}

// GeneratorOption configures a Generator instance.
type GeneratorOption func(*Generator)

// Generator simulates arrivals and departures against the operational store.
// A Generator is driven by a single goroutine.
type Generator struct {
	store            OperationalStore
	nowFn            func() time.Time
	random           *rand.Rand
	enterProbability float64
	interval         time.Duration
	tariffs          TariffSchedule
	vehicleTypes     []VehicleType
	locations        []Location
	paymentMethods   []PaymentMethod
	retry            RetryPolicy
	logger           OperationLogger
}

// WithEnterProbability sets the chance that a tick is an arrival.
func WithEnterProbability(probability float64) GeneratorOption {
	return func(generator *Generator) {
		generator.enterProbability = probability
	}
}

// WithTickInterval sets the real-time spacing between ticks.
func WithTickInterval(interval time.Duration) GeneratorOption {
	return func(generator *Generator) {
		generator.interval = interval
	}
}

// WithRandom replaces the random source, mostly for deterministic tests.
func WithRandom(random *rand.Rand) GeneratorOption {
	return func(generator *Generator) {
		generator.random = random
	}
}

// WithTariffs replaces the default tariff schedule.
func WithTariffs(tariffs TariffSchedule) GeneratorOption {
	return func(generator *Generator) {
		generator.tariffs = tariffs
	}
}

// WithLocations replaces the set of lots vehicles arrive at.
func WithLocations(locations ...Location) GeneratorOption {
	return func(generator *Generator) {
		generator.locations = locations
	}
}

// WithPaymentMethods replaces the set of payment methods used on exit.
func WithPaymentMethods(methods ...PaymentMethod) GeneratorOption {
	return func(generator *Generator) {
		generator.paymentMethods = methods
	}
}

// WithGeneratorRetry sets the retry policy applied to each tick.
func WithGeneratorRetry(policy RetryPolicy) GeneratorOption {
	return func(generator *Generator) {
		generator.retry = policy
	}
}

// WithGeneratorLogger wires a logger that receives one record per tick.
func WithGeneratorLogger(logger OperationLogger) GeneratorOption {
	return func(generator *Generator) {
		generator.logger = logger
	}
}

// NewGenerator wires a Generator.
func NewGenerator(store OperationalStore, now func() time.Time, options ...GeneratorOption) (*Generator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errStoreIsNil)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errClockIsNil)
	}
	generator := &Generator{
		store:            store,
		nowFn:            now,
		random:           newRandom(),
		enterProbability: defaultEnterProbability,
		interval:         defaultTickInterval,
		tariffs:          DefaultTariffSchedule(),
		vehicleTypes:     defaultVehicleTypes,
		locations:        mustLocations(defaultLocationNames),
		paymentMethods:   defaultPaymentMethods,
		retry:            DefaultRetryPolicy(),
	}
	for _, option := range options {
		if option != nil {
			option(generator)
		}
	}
	if generator.random == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errRandomIsNil)
	}
	if generator.enterProbability < 0 || generator.enterProbability > 1 {
		return nil, fmt.Errorf("%w: enter probability %v outside [0,1]", ErrInvalidServiceConfig, generator.enterProbability)
	}
	if generator.interval <= 0 {
		return nil, fmt.Errorf("%w: tick interval must be positive", ErrInvalidServiceConfig)
	}
	if len(generator.locations) == 0 || len(generator.paymentMethods) == 0 {
		return nil, fmt.Errorf("%w: locations and payment methods are required", ErrInvalidServiceConfig)
	}
	if err := generator.retry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, err)
	}
	return generator, nil
}

// Run ticks on the configured interval until ctx is cancelled. Tick failures are
// reported through the operation logger and never stop the loop.
func (generator *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(generator.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = generator.Tick(ctx)
		}
	}
}

// Tick draws an action and applies it. An exit with nothing open is a skipped tick, not an error.
func (generator *Generator) Tick(ctx context.Context) (TickResult, error) {
	if generator.random.Float64() < generator.enterProbability {
		return generator.enter(ctx)
	}
	return generator.exit(ctx)
}

// Enter inserts a new open transaction for a synthesized vehicle.
func (generator *Generator) Enter(ctx context.Context) (Transaction, error) {
	result, err := generator.enter(ctx)
	return result.Transaction, err
}

// Exit closes a random open transaction.
func (generator *Generator) Exit(ctx context.Context) (Transaction, error) {
	result, err := generator.exit(ctx)
	if err == nil && result.Skipped {
		return Transaction{}, ErrNoOpenTransaction
	}
	return result.Transaction, err
}

func (generator *Generator) enter(ctx context.Context) (TickResult, error) {
	startedAt := time.Now()
	result := TickResult{Action: ActionEnter}
	plate := GeneratePlate(generator.random)
	vehicleType := generator.vehicleTypes[generator.random.IntN(len(generator.vehicleTypes))]
	location := generator.locations[generator.random.IntN(len(generator.locations))]
	attempts, operationError := generator.retry.Do(ctx, func(ctx context.Context) error {
		transaction, err := NewOpenTransaction(plate, vehicleType, location, generator.nowFn())
		if err != nil {
			return err
		}
		stored, err := generator.store.InsertTransaction(ctx, transaction)
		if err != nil {
			return err
		}
		result.Transaction = stored
		return nil
	})
	result.Attempts = attempts
	logOperation(ctx, generator.logger, OperationLog{
		Operation:     OperationEnter,
		TransactionID: result.Transaction.ID,
		Plate:         plate,
		VehicleType:   vehicleType,
		Location:      location,
		Attempts:      attempts,
		Duration:      time.Since(startedAt),
		Error:         operationError,
	})
	return result, operationError
}

func (generator *Generator) exit(ctx context.Context) (TickResult, error) {
	startedAt := time.Now()
	result := TickResult{Action: ActionExit}
	method := generator.paymentMethods[generator.random.IntN(len(generator.paymentMethods))]
	attempts, operationError := generator.retry.Do(ctx, func(ctx context.Context) error {
		open, err := generator.store.PickOpen(ctx)
		if err != nil {
			return err
		}
		exitTime := generator.nowFn()
		if exitTime.Before(open.EntryTime) {
			exitTime = open.EntryTime
		}
		closed, err := open.Close(exitTime, method, generator.tariffs)
		if err != nil {
			return err
		}
		if err := generator.store.CloseTransaction(ctx, closed); err != nil {
			return err
		}
		result.Transaction = closed
		return nil
	})
	result.Attempts = attempts
	status := ""
	if errors.Is(operationError, ErrNoOpenTransaction) {
		result.Skipped = true
		operationError = nil
		status = StatusSkipped
	}
	entry := OperationLog{
		Operation:     OperationExit,
		TransactionID: result.Transaction.ID,
		Plate:         result.Transaction.Plate,
		VehicleType:   result.Transaction.VehicleType,
		Location:      result.Transaction.Location,
		Attempts:      attempts,
		Duration:      time.Since(startedAt),
		Status:        status,
		Error:         operationError,
	}
	if result.Transaction.Closing != nil {
		entry.Amount = result.Transaction.Closing.Amount
	}
	logOperation(ctx, generator.logger, entry)
	return result, operationError
}

// GeneratePlate synthesizes a plate such as "B 1234 XYZ".
func GeneratePlate(random *rand.Rand) VehiclePlate {
	var suffix strings.Builder
	for index := 0; index < plateSuffixLength; index++ {
		suffix.WriteByte(plateSuffixLetters[random.IntN(len(plateSuffixLetters))])
	}
	raw := fmt.Sprintf("%s %d %s",
		plateRegions[random.IntN(len(plateRegions))],
		plateNumberMinimum+random.IntN(plateNumberSpan),
		suffix.String(),
	)
	return VehiclePlate{value: raw}
}

func newRandom() *rand.Rand {
	return NewSeededRandom(uint64(time.Now().UnixNano()))
}

// NewSeededRandom returns a deterministic random source.
func NewSeededRandom(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed>>17|1))
}

func mustLocations(names []string) []Location {
	locations := make([]Location, 0, len(names))
	for _, name := range names {
		location, err := NewLocation(name)
		if err != nil {
			panic(err)
		}
		locations = append(locations, location)
	}
	return locations
}
