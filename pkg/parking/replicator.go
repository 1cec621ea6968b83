package parking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const breakerName = "analytical-store"

var (
	errSourceDialerIsNil = errors.New("source dialer is nil")
	errSinkDialerIsNil   = errors.New("sink dialer is nil")
)

// CycleReport summarizes one replication cycle.
type CycleReport struct {
	CycleID     string
	StartedAt   time.Time
	FinishedAt  time.Time
	RowsRead    int
	RowsWritten int
	OpenRows    int
	ClosedRows  int
	Attempts    int
	Status      string
	Err         error
}

// Succeeded reports whether the cycle wrote its snapshot.
func (report CycleReport) Succeeded() bool {
	return report.Status == StatusOK
}

// Skipped reports whether the cycle ended without writing and without failing.
func (report CycleReport) Skipped() bool {
	return report.Status == StatusSkipped
}

// ReplicatorOption configures a Replicator instance.
type ReplicatorOption func(*Replicator)

// Replicator copies the whole operational ledger into the analytical store on a fixed cadence.
// Each cycle dials fresh sessions and closes them before returning.
type Replicator struct {
	source    SourceDialer
	sink      SinkDialer
	nowFn     func() time.Time
	newID     func() string
	interval  time.Duration
	retry     RetryPolicy
	breaker   *gobreaker.CircuitBreaker
	journal   bool
	logger    OperationLogger
	observers []func(CycleReport)
}

// WithCycleInterval sets the spacing between cycle starts.
func WithCycleInterval(interval time.Duration) ReplicatorOption {
	return func(replicator *Replicator) {
		replicator.interval = interval
	}
}

// WithReplicatorRetry sets the retry policy applied to each cycle.
func WithReplicatorRetry(policy RetryPolicy) ReplicatorOption {
	return func(replicator *Replicator) {
		replicator.retry = policy
	}
}

// WithReplicatorLogger wires a logger that receives one record per cycle.
func WithReplicatorLogger(logger OperationLogger) ReplicatorOption {
	return func(replicator *Replicator) {
		replicator.logger = logger
	}
}

// WithRunJournal records every written cycle when the sink implements RunJournal.
func WithRunJournal(enabled bool) ReplicatorOption {
	return func(replicator *Replicator) {
		replicator.journal = enabled
	}
}

// WithCycleObserver registers a callback invoked with every finished cycle report.
func WithCycleObserver(observer func(CycleReport)) ReplicatorOption {
	return func(replicator *Replicator) {
		if observer != nil {
			replicator.observers = append(replicator.observers, observer)
		}
	}
}

// WithCycleIDs replaces the cycle id generator.
func WithCycleIDs(newID func() string) ReplicatorOption {
	return func(replicator *Replicator) {
		replicator.newID = newID
	}
}

// WithCircuitBreaker stops writing to the analytical store after consecutiveFailures
// failed writes; cycles are skipped until cooldown elapses and a probe write succeeds.
// A threshold of zero disables the breaker.
func WithCircuitBreaker(consecutiveFailures uint32, cooldown time.Duration, onStateChange func(from string, to string)) ReplicatorOption {
	return func(replicator *Replicator) {
		if consecutiveFailures == 0 {
			replicator.breaker = nil
			return
		}
		replicator.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= consecutiveFailures
			},
			OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
				if onStateChange != nil {
					onStateChange(from.String(), to.String())
				}
			},
		})
	}
}

// NewReplicator wires a Replicator.
func NewReplicator(source SourceDialer, sink SinkDialer, now func() time.Time, options ...ReplicatorOption) (*Replicator, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errSourceDialerIsNil)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errSinkDialerIsNil)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, errClockIsNil)
	}
	replicator := &Replicator{
		source:   source,
		sink:     sink,
		nowFn:    now,
		newID:    uuid.NewString,
		interval: defaultCycleInterval,
		retry:    DefaultRetryPolicy(),
	}
	for _, option := range options {
		if option != nil {
			option(replicator)
		}
	}
	if replicator.interval <= 0 {
		return nil, fmt.Errorf("%w: cycle interval must be positive", ErrInvalidServiceConfig)
	}
	if replicator.newID == nil {
		return nil, fmt.Errorf("%w: cycle id generator is nil", ErrInvalidServiceConfig)
	}
	if err := replicator.retry.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidServiceConfig, err)
	}
	return replicator, nil
}

// Preflight dials both stores once so misconfiguration fails at startup instead of every cycle.
func (replicator *Replicator) Preflight(ctx context.Context) error {
	source, err := replicator.source(ctx)
	if err != nil {
		return ConnectionError(err)
	}
	sourceCloseError := source.Close()
	sink, err := replicator.sink(ctx)
	if err != nil {
		return ConnectionError(err)
	}
	return errors.Join(sourceCloseError, sink.Close())
}

// Run starts a cycle immediately and then every interval until ctx is cancelled.
// Failed cycles are reported and the schedule continues.
func (replicator *Replicator) Run(ctx context.Context) error {
	ticker := time.NewTicker(replicator.interval)
	defer ticker.Stop()
	for {
		replicator.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle reads the full operational ledger and upserts it into the analytical store.
func (replicator *Replicator) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		CycleID:   replicator.newID(),
		StartedAt: replicator.nowFn(),
	}
	attempts, cycleError := replicator.retry.Do(ctx, func(ctx context.Context) error {
		return replicator.replicateOnce(ctx, &report)
	})
	report.Attempts = attempts
	report.FinishedAt = replicator.nowFn()
	report.Err = cycleError
	switch {
	case errors.Is(cycleError, ErrCircuitOpen):
		report.Status = StatusSkipped
	case cycleError != nil:
		report.Status = StatusError
	case report.RowsRead == 0:
		report.Status = StatusSkipped
	default:
		report.Status = StatusOK
	}
	logOperation(ctx, replicator.logger, OperationLog{
		Operation:   OperationReplicate,
		CycleID:     report.CycleID,
		RowsRead:    report.RowsRead,
		RowsWritten: report.RowsWritten,
		Attempts:    report.Attempts,
		Duration:    report.FinishedAt.Sub(report.StartedAt),
		Status:      report.Status,
		Error:       report.Err,
	})
	for _, observer := range replicator.observers {
		observer(report)
	}
	return report
}

func (replicator *Replicator) replicateOnce(ctx context.Context, report *CycleReport) (cycleError error) {
	report.RowsRead, report.RowsWritten, report.OpenRows, report.ClosedRows = 0, 0, 0, 0

	source, err := replicator.source(ctx)
	if err != nil {
		return ConnectionError(err)
	}
	defer func() {
		cycleError = errors.Join(cycleError, source.Close())
	}()
	sink, err := replicator.sink(ctx)
	if err != nil {
		return ConnectionError(err)
	}
	defer func() {
		cycleError = errors.Join(cycleError, sink.Close())
	}()

	rows, err := source.Snapshot(ctx)
	if err != nil {
		return err
	}
	report.RowsRead = len(rows)
	for _, row := range rows {
		if row.State() == StateOpen {
			report.OpenRows++
		} else {
			report.ClosedRows++
		}
	}
	if len(rows) == 0 {
		return nil
	}

	written, err := replicator.write(ctx, sink, rows)
	if err != nil {
		return err
	}
	report.RowsWritten = written

	if !replicator.journal {
		return nil
	}
	journal, ok := sink.(RunJournal)
	if !ok {
		return nil
	}
	journalReport := *report
	journalReport.Status = StatusOK
	journalReport.FinishedAt = replicator.nowFn()
	return journal.RecordRun(ctx, journalReport)
}

func (replicator *Replicator) write(ctx context.Context, sink SinkSession, rows []Transaction) (int, error) {
	if replicator.breaker == nil {
		return sink.UpsertBatch(ctx, rows)
	}
	written, err := replicator.breaker.Execute(func() (interface{}, error) {
		return sink.UpsertBatch(ctx, rows)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	if err != nil {
		return 0, err
	}
	return written.(int), nil
}
