package parking

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

var baseTime = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

type memoryLedger struct {
	mu            sync.Mutex
	rows          map[TransactionID]Transaction
	nextID        TransactionID
	runs          []CycleReport
	insertError   error
	pickError     error
	closeError    error
	snapshotError error
	upsertError   error
	recordError   error
	failuresLeft  int
	upsertCalls   int
	sessionCloses int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{rows: map[TransactionID]Transaction{}}
}

func (ledger *memoryLedger) InsertTransaction(_ context.Context, transaction Transaction) (Transaction, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if err := ledger.takeFailure(ledger.insertError); err != nil {
		return Transaction{}, err
	}
	ledger.nextID++
	transaction.ID = ledger.nextID
	ledger.rows[transaction.ID] = cloneTransaction(transaction)
	return cloneTransaction(transaction), nil
}

func (ledger *memoryLedger) PickOpen(_ context.Context) (Transaction, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if err := ledger.takeFailure(ledger.pickError); err != nil {
		return Transaction{}, err
	}
	for _, row := range ledger.sortedLocked() {
		if row.State() == StateOpen {
			return row, nil
		}
	}
	return Transaction{}, ErrNoOpenTransaction
}

func (ledger *memoryLedger) CloseTransaction(_ context.Context, closed Transaction) error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if err := ledger.takeFailure(ledger.closeError); err != nil {
		return err
	}
	current, ok := ledger.rows[closed.ID]
	if !ok {
		return ErrUnknownTransaction
	}
	if current.Closing != nil {
		return ErrTransactionClosed
	}
	current.Closing = cloneClosing(closed.Closing)
	current.UpdatedAt = closed.UpdatedAt
	ledger.rows[closed.ID] = current
	return nil
}

func (ledger *memoryLedger) InsertBatch(ctx context.Context, transactions []Transaction) (int, error) {
	for index, transaction := range transactions {
		if _, err := ledger.InsertTransaction(ctx, transaction); err != nil {
			return index, err
		}
	}
	return len(transactions), nil
}

func (ledger *memoryLedger) Snapshot(_ context.Context) ([]Transaction, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if err := ledger.takeFailure(ledger.snapshotError); err != nil {
		return nil, err
	}
	return ledger.sortedLocked(), nil
}

func (ledger *memoryLedger) UpsertBatch(_ context.Context, transactions []Transaction) (int, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	ledger.upsertCalls++
	if err := ledger.takeFailure(ledger.upsertError); err != nil {
		return 0, err
	}
	for _, transaction := range transactions {
		ledger.rows[transaction.ID] = cloneTransaction(transaction)
	}
	return len(transactions), nil
}

func (ledger *memoryLedger) RecordRun(_ context.Context, report CycleReport) error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	if ledger.recordError != nil {
		return ledger.recordError
	}
	ledger.runs = append(ledger.runs, report)
	return nil
}

func (ledger *memoryLedger) Close() error {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	ledger.sessionCloses++
	return nil
}

func (ledger *memoryLedger) put(transaction Transaction) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	ledger.rows[transaction.ID] = cloneTransaction(transaction)
	if transaction.ID > ledger.nextID {
		ledger.nextID = transaction.ID
	}
}

func (ledger *memoryLedger) mustRow(test *testing.T, id TransactionID) Transaction {
	test.Helper()
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	row, ok := ledger.rows[id]
	if !ok {
		test.Fatalf("expected row %d", id)
	}
	return cloneTransaction(row)
}

func (ledger *memoryLedger) all() []Transaction {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	return ledger.sortedLocked()
}

// takeFailure returns err while failuresLeft is positive, or always when failuresLeft is zero.
func (ledger *memoryLedger) takeFailure(err error) error {
	if err == nil {
		return nil
	}
	if ledger.failuresLeft < 0 {
		return nil
	}
	if ledger.failuresLeft > 0 {
		ledger.failuresLeft--
		if ledger.failuresLeft == 0 {
			ledger.failuresLeft = -1
		}
	}
	return err
}

func (ledger *memoryLedger) sortedLocked() []Transaction {
	rows := make([]Transaction, 0, len(ledger.rows))
	for _, row := range ledger.rows {
		rows = append(rows, cloneTransaction(row))
	}
	sort.Slice(rows, func(left, right int) bool { return rows[left].ID < rows[right].ID })
	return rows
}

func cloneTransaction(transaction Transaction) Transaction {
	transaction.Closing = cloneClosing(transaction.Closing)
	return transaction
}

func cloneClosing(closing *Closing) *Closing {
	if closing == nil {
		return nil
	}
	copied := *closing
	return &copied
}

func sourceDialer(ledger *memoryLedger) SourceDialer {
	return func(context.Context) (SourceSession, error) { return ledger, nil }
}

func sinkDialer(ledger *memoryLedger) SinkDialer {
	return func(context.Context) (SinkSession, error) { return ledger, nil }
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (clock *manualClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *manualClock) Advance(step time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(step)
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) snapshot() []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

func mustPlate(test *testing.T, raw string) VehiclePlate {
	test.Helper()
	plate, err := NewVehiclePlate(raw)
	if err != nil {
		test.Fatalf("plate: %v", err)
	}
	return plate
}

func mustLocation(test *testing.T, raw string) Location {
	test.Helper()
	location, err := NewLocation(raw)
	if err != nil {
		test.Fatalf("location: %v", err)
	}
	return location
}

func mustOpenTransaction(test *testing.T, id int64, vehicleType VehicleType, entryTime time.Time) Transaction {
	test.Helper()
	transaction, err := NewOpenTransaction(mustPlate(test, "B 1234 XYZ"), vehicleType, mustLocation(test, "Mall A"), entryTime)
	if err != nil {
		test.Fatalf("open transaction: %v", err)
	}
	transactionID, err := NewTransactionID(id)
	if err != nil {
		test.Fatalf("transaction id: %v", err)
	}
	transaction.ID = transactionID
	return transaction
}

func mustClosedTransaction(test *testing.T, open Transaction, exitTime time.Time, method PaymentMethod) Transaction {
	test.Helper()
	closed, err := open.Close(exitTime, method, DefaultTariffSchedule())
	if err != nil {
		test.Fatalf("close transaction: %v", err)
	}
	return closed
}

func mustNewGenerator(test *testing.T, store OperationalStore, clock *manualClock, options ...GeneratorOption) *Generator {
	test.Helper()
	options = append([]GeneratorOption{WithRandom(NewSeededRandom(42))}, options...)
	generator, err := NewGenerator(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("generator init failed: %v", err)
	}
	return generator
}

func mustNewReplicator(test *testing.T, source SourceDialer, sink SinkDialer, options ...ReplicatorOption) *Replicator {
	test.Helper()
	counter := 0
	options = append([]ReplicatorOption{WithCycleIDs(func() string {
		counter++
		return "cycle-" + string(rune('a'+counter-1))
	})}, options...)
	replicator, err := NewReplicator(source, sink, func() time.Time { return baseTime }, options...)
	if err != nil {
		test.Fatalf("replicator init failed: %v", err)
	}
	return replicator
}
