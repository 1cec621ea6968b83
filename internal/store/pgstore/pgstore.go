package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultBatchSize        = 1000
	errorOperationStore     = "store"
	errorSubjectTransaction = "transaction"
	errorSubjectRun         = "run"
	errorSubjectSchema      = "schema"
	errorSubjectSession     = "session"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeConnect        = "connect"
	errorCodeClose          = "close"
	errorCodeCopy           = "copy"
	errorCodeCreate         = "create"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodePick           = "pick"
	errorCodeRecord         = "record"
	errorCodeSnapshot       = "snapshot"
	errorCodeUpsert         = "upsert"

	sqlCreateSchema = `
		create table if not exists parking_transactions (
			transaction_id bigserial primary key,
			entry_time timestamptz not null,
			vehicle_plate varchar(20) not null,
			vehicle_type varchar(10) not null,
			exit_time timestamptz,
			duration_minutes bigint,
			payment_method varchar(20),
			amount bigint,
			location varchar(50) not null,
			created_at timestamptz not null,
			updated_at timestamptz not null
		);
		create index if not exists idx_parking_exit_time on parking_transactions(exit_time);
		create table if not exists replication_runs (
			run_id varchar(36) primary key,
			started_at timestamptz not null,
			finished_at timestamptz not null,
			rows_read bigint not null,
			rows_written bigint not null,
			status varchar(16) not null,
			error text,
			details jsonb not null default '{}'
		);
	`

	sqlInsertTransaction = `
		insert into parking_transactions(
			entry_time, vehicle_plate, vehicle_type, exit_time, duration_minutes, payment_method, amount, location, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning transaction_id
	`

	sqlPickOpen = `
		select transaction_id, entry_time, vehicle_plate, vehicle_type, exit_time, duration_minutes, payment_method, amount, location, created_at, updated_at
		from parking_transactions
		where exit_time is null
		order by random()
		limit 1
	`

	sqlCloseTransaction = `
		update parking_transactions
		set exit_time = $2, duration_minutes = $3, payment_method = $4, amount = $5, updated_at = $6
		where transaction_id = $1 and exit_time is null
	`

	sqlTransactionExists = `select exists(select 1 from parking_transactions where transaction_id = $1)`

	sqlSnapshot = `
		select transaction_id, entry_time, vehicle_plate, vehicle_type, exit_time, duration_minutes, payment_method, amount, location, created_at, updated_at
		from parking_transactions
		order by transaction_id
	`

	sqlUpsertTransaction = `
		insert into parking_transactions(
			transaction_id, entry_time, vehicle_plate, vehicle_type, exit_time, duration_minutes, payment_method, amount, location, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		on conflict (transaction_id) do update set
			entry_time = excluded.entry_time,
			vehicle_plate = excluded.vehicle_plate,
			vehicle_type = excluded.vehicle_type,
			exit_time = excluded.exit_time,
			duration_minutes = excluded.duration_minutes,
			payment_method = excluded.payment_method,
			amount = excluded.amount,
			location = excluded.location,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`

	sqlInsertRun = `
		insert into replication_runs(run_id, started_at, finished_at, rows_read, rows_written, status, error, details)
		values($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		on conflict (run_id) do nothing
	`
)

var copyColumns = []string{
	"entry_time", "vehicle_plate", "vehicle_type", "exit_time", "duration_minutes",
	"payment_method", "amount", "location", "created_at", "updated_at",
}

// querier is satisfied by both *pgxpool.Pool and *pgx.Conn.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store implements the parking store contracts with raw SQL over pgx.
type Store struct {
	db        querier
	closeFn   func() error
	batchSize int
}

// New returns a Store backed by a pgx pool, for long-lived writers.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		db:        pool,
		closeFn:   func() error { pool.Close(); return nil },
		batchSize: defaultBatchSize,
	}
}

// NewConn returns a Store backed by a single connection, for one replication cycle.
func NewConn(conn *pgx.Conn) *Store {
	return &Store{
		db: conn,
		closeFn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return conn.Close(ctx)
		},
		batchSize: defaultBatchSize,
	}
}

// Dial opens a single-connection Store.
func Dial(ctx context.Context, dsn string) (*Store, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSession, errorCodeConnect, parking.ConnectionError(err))
	}
	return NewConn(conn), nil
}

// WithBatchSize caps the number of statements sent per pgx batch.
func (store *Store) WithBatchSize(batchSize int) *Store {
	if batchSize > 0 {
		store.batchSize = batchSize
	}
	return store
}

// EnsureSchema creates the ledger and journal tables when missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.db.Exec(ctx, sqlCreateSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeCreate, classify(err))
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction parking.Transaction) (parking.Transaction, error) {
	values := newRowValues(transaction)
	var transactionIDValue int64
	err := store.db.QueryRow(ctx, sqlInsertTransaction, values.insertArguments()...).Scan(&transactionIDValue)
	if err != nil {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, classify(err))
	}
	transactionID, err := parking.NewTransactionID(transactionIDValue)
	if err != nil {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	transaction.ID = transactionID
	return transaction, nil
}

func (store *Store) PickOpen(ctx context.Context) (parking.Transaction, error) {
	transaction, err := scanTransaction(store.db.QueryRow(ctx, sqlPickOpen))
	if errors.Is(err, pgx.ErrNoRows) {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodePick, parking.ErrNoOpenTransaction)
	}
	if err != nil {
		return parking.Transaction{}, wrapScanError(errorCodePick, err)
	}
	return transaction, nil
}

func (store *Store) CloseTransaction(ctx context.Context, closed parking.Transaction) error {
	if closed.Closing == nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, parking.ErrInvalidClosing)
	}
	closing := closed.Closing
	tag, err := store.db.Exec(ctx, sqlCloseTransaction,
		closed.ID.Int64(),
		closing.ExitTime,
		closing.DurationMinutes,
		closing.PaymentMethod.String(),
		closing.Amount.Int64(),
		closed.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, classify(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, store.missingOrClosed(ctx, closed.ID))
	}
	return nil
}

func (store *Store) missingOrClosed(ctx context.Context, transactionID parking.TransactionID) error {
	var exists bool
	if err := store.db.QueryRow(ctx, sqlTransactionExists, transactionID.Int64()).Scan(&exists); err != nil {
		return classify(err)
	}
	if !exists {
		return fmt.Errorf("%w: id %d", parking.ErrUnknownTransaction, transactionID)
	}
	return parking.ErrTransactionClosed
}

// InsertBatch streams rows through COPY; ids are assigned by the sequence.
func (store *Store) InsertBatch(ctx context.Context, transactions []parking.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}
	copied, err := store.db.CopyFrom(ctx, pgx.Identifier{"parking_transactions"}, copyColumns,
		pgx.CopyFromSlice(len(transactions), func(index int) ([]any, error) {
			return newRowValues(transactions[index]).insertArguments(), nil
		}))
	if err != nil {
		return int(copied), wrapStoreError(errorSubjectTransaction, errorCodeCopy, classify(err))
	}
	return int(copied), nil
}

func (store *Store) Snapshot(ctx context.Context) ([]parking.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlSnapshot)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeSnapshot, classify(err))
	}
	defer rows.Close()
	transactions := make([]parking.Transaction, 0)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapScanError(errorCodeSnapshot, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeSnapshot, classify(err))
	}
	return transactions, nil
}

// UpsertBatch overwrites or inserts every row inside one transaction.
func (store *Store) UpsertBatch(ctx context.Context, transactions []parking.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}
	tx, err := store.db.Begin(ctx)
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeBegin, classify(err))
	}
	for start := 0; start < len(transactions); start += store.batchSize {
		end := min(start+store.batchSize, len(transactions))
		batch := &pgx.Batch{}
		for _, transaction := range transactions[start:end] {
			batch.Queue(sqlUpsertTransaction, newRowValues(transaction).upsertArguments()...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			_ = tx.Rollback(ctx)
			return 0, wrapStoreError(errorSubjectTransaction, errorCodeUpsert, classify(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCommit, classify(err))
	}
	return len(transactions), nil
}

func (store *Store) RecordRun(ctx context.Context, report parking.CycleReport) error {
	details, err := json.Marshal(map[string]int{
		"open_rows":   report.OpenRows,
		"closed_rows": report.ClosedRows,
		"attempts":    report.Attempts,
	})
	if err != nil {
		return wrapStoreError(errorSubjectRun, errorCodeInvalid, err)
	}
	var runError *string
	if report.Err != nil {
		message := report.Err.Error()
		runError = &message
	}
	_, err = store.db.Exec(ctx, sqlInsertRun,
		report.CycleID,
		report.StartedAt,
		report.FinishedAt,
		int64(report.RowsRead),
		int64(report.RowsWritten),
		report.Status,
		runError,
		string(details),
	)
	if err != nil {
		return wrapStoreError(errorSubjectRun, errorCodeRecord, classify(err))
	}
	return nil
}

// Close releases the pool or connection behind the Store.
func (store *Store) Close() error {
	if err := store.closeFn(); err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeClose, parking.ConnectionError(err))
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return parking.WrapError(errorOperationStore, subject, code, err)
}

func wrapScanError(code string, err error) error {
	if errors.Is(err, parking.ErrInvalidClosing) || errors.Is(err, parking.ErrInvalidTransactionID) {
		return wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return wrapStoreError(errorSubjectTransaction, code, classify(err))
}

// classify separates server-side statement failures from transport failures.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return parking.StatementError(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return parking.ConnectionError(err)
}

type rowValues struct {
	transactionID   int64
	entryTime       time.Time
	vehiclePlate    string
	vehicleType     string
	exitTime        *time.Time
	durationMinutes *int64
	paymentMethod   *string
	amount          *int64
	location        string
	createdAt       time.Time
	updatedAt       time.Time
}

func newRowValues(transaction parking.Transaction) rowValues {
	values := rowValues{
		transactionID: transaction.ID.Int64(),
		entryTime:     transaction.EntryTime,
		vehiclePlate:  transaction.Plate.String(),
		vehicleType:   transaction.VehicleType.String(),
		location:      transaction.Location.String(),
		createdAt:     transaction.CreatedAt,
		updatedAt:     transaction.UpdatedAt,
	}
	if closing := transaction.Closing; closing != nil {
		exitTime := closing.ExitTime
		durationMinutes := closing.DurationMinutes
		paymentMethod := closing.PaymentMethod.String()
		amount := closing.Amount.Int64()
		values.exitTime = &exitTime
		values.durationMinutes = &durationMinutes
		values.paymentMethod = &paymentMethod
		values.amount = &amount
	}
	return values
}

func (values rowValues) insertArguments() []any {
	return []any{
		values.entryTime, values.vehiclePlate, values.vehicleType, values.exitTime, values.durationMinutes,
		values.paymentMethod, values.amount, values.location, values.createdAt, values.updatedAt,
	}
}

func (values rowValues) upsertArguments() []any {
	return append([]any{values.transactionID}, values.insertArguments()...)
}

func scanTransaction(row pgx.Row) (parking.Transaction, error) {
	var values rowValues
	err := row.Scan(
		&values.transactionID,
		&values.entryTime,
		&values.vehiclePlate,
		&values.vehicleType,
		&values.exitTime,
		&values.durationMinutes,
		&values.paymentMethod,
		&values.amount,
		&values.location,
		&values.createdAt,
		&values.updatedAt,
	)
	if err != nil {
		return parking.Transaction{}, err
	}
	return values.transaction()
}

func (values rowValues) transaction() (parking.Transaction, error) {
	transactionID, err := parking.NewTransactionID(values.transactionID)
	if err != nil {
		return parking.Transaction{}, err
	}
	transaction := parking.Transaction{
		ID:          transactionID,
		EntryTime:   values.entryTime.UTC(),
		Plate:       parking.RestoreVehiclePlate(values.vehiclePlate),
		VehicleType: parking.VehicleType(values.vehicleType),
		Location:    parking.RestoreLocation(values.location),
		CreatedAt:   values.createdAt.UTC(),
		UpdatedAt:   values.updatedAt.UTC(),
	}
	switch {
	case values.exitTime == nil && values.durationMinutes == nil && values.paymentMethod == nil && values.amount == nil:
		return transaction, nil
	case values.exitTime != nil && values.durationMinutes != nil && values.paymentMethod != nil && values.amount != nil:
		transaction.Closing = &parking.Closing{
			ExitTime:        values.exitTime.UTC(),
			DurationMinutes: *values.durationMinutes,
			PaymentMethod:   parking.PaymentMethod(*values.paymentMethod),
			Amount:          parking.Amount(*values.amount),
		}
		return transaction, nil
	default:
		return parking.Transaction{}, fmt.Errorf("%w: transaction %d has a partial closing", parking.ErrInvalidClosing, values.transactionID)
	}
}
