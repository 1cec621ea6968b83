package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnTransactionID     = "transaction_id"
	dialectMySQL            = "mysql"
	randomOrderMySQL        = "RAND()"
	randomOrderDefault      = "RANDOM()"
	defaultBatchSize        = 1000
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectTransaction = "transaction"
	errorSubjectRun         = "run"
	errorCodeInsert         = "insert"
	errorCodePick           = "pick"
	errorCodeClose          = "close"
	errorCodeSnapshot       = "snapshot"
	errorCodeUpsert         = "upsert"
	errorCodeRecord         = "record"
	errorCodeInvalid        = "invalid"
	errorCodeCloseSession   = "close_session"
)

// replicatedColumns are overwritten on conflict: every column except the key.
var replicatedColumns = []string{
	"entry_time",
	"vehicle_plate",
	"vehicle_type",
	"exit_time",
	"duration_minutes",
	"payment_method",
	"amount",
	"location",
	"created_at",
	"updated_at",
}

// UpsertMode selects how UpsertBatch resolves existing keys.
type UpsertMode string

const (
	// UpsertOnConflict emits ON CONFLICT / ON DUPLICATE KEY UPDATE inside one transaction.
	UpsertOnConflict UpsertMode = "on_conflict"
	// UpsertPlainInsert relies on the target table replacing rows by primary key, as
	// StarRocks primary-key tables do, and skips the wrapping transaction.
	UpsertPlainInsert UpsertMode = "insert"
)

// Option configures a Store.
type Option func(*Store)

// WithUpsertMode selects the upsert strategy.
func WithUpsertMode(mode UpsertMode) Option {
	return func(store *Store) {
		store.upsertMode = mode
	}
}

// WithBatchSize caps the number of rows per insert statement.
func WithBatchSize(batchSize int) Option {
	return func(store *Store) {
		if batchSize > 0 {
			store.batchSize = batchSize
		}
	}
}

// Store implements the parking store contracts using GORM.
type Store struct {
	db          *gorm.DB
	upsertMode  UpsertMode
	batchSize   int
	randomOrder string
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, options ...Option) *Store {
	store := &Store{
		db:          db,
		upsertMode:  UpsertOnConflict,
		batchSize:   defaultBatchSize,
		randomOrder: randomOrderDefault,
	}
	if db.Dialector != nil && db.Dialector.Name() == dialectMySQL {
		store.randomOrder = randomOrderMySQL
	}
	for _, option := range options {
		if option != nil {
			option(store)
		}
	}
	return store
}

func (store *Store) InsertTransaction(ctx context.Context, transaction parking.Transaction) (parking.Transaction, error) {
	row := newParkingTransaction(transaction)
	row.TransactionID = 0
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, parking.StatementError(err))
	}
	transactionID, err := parking.NewTransactionID(row.TransactionID)
	if err != nil {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	transaction.ID = transactionID
	return transaction, nil
}

func (store *Store) PickOpen(ctx context.Context) (parking.Transaction, error) {
	var row ParkingTransaction
	err := store.db.WithContext(ctx).
		Where("exit_time IS NULL").
		Order(store.randomOrder).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodePick, parking.ErrNoOpenTransaction)
	}
	if err != nil {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodePick, parking.StatementError(err))
	}
	transaction, err := mapParkingTransaction(row)
	if err != nil {
		return parking.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

// CloseTransaction writes all closing fields in one UPDATE guarded on the row still being open.
func (store *Store) CloseTransaction(ctx context.Context, closed parking.Transaction) error {
	if closed.Closing == nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, parking.ErrInvalidClosing)
	}
	closing := closed.Closing
	result := store.db.WithContext(ctx).
		Model(&ParkingTransaction{}).
		Where("transaction_id = ? AND exit_time IS NULL", closed.ID.Int64()).
		Updates(map[string]interface{}{
			"exit_time":        closing.ExitTime,
			"duration_minutes": closing.DurationMinutes,
			"payment_method":   closing.PaymentMethod.String(),
			"amount":           closing.Amount.Int64(),
			"updated_at":       closed.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, parking.StatementError(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeClose, store.missingOrClosed(ctx, closed.ID))
	}
	return nil
}

// missingOrClosed explains an UPDATE that matched nothing.
func (store *Store) missingOrClosed(ctx context.Context, transactionID parking.TransactionID) error {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&ParkingTransaction{}).
		Where("transaction_id = ?", transactionID.Int64()).
		Count(&count).Error
	if err != nil {
		return parking.StatementError(err)
	}
	if count == 0 {
		return fmt.Errorf("%w: id %d", parking.ErrUnknownTransaction, transactionID)
	}
	return parking.ErrTransactionClosed
}

// InsertBatch stores prebuilt transactions with store-assigned ids.
func (store *Store) InsertBatch(ctx context.Context, transactions []parking.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}
	rows := make([]ParkingTransaction, 0, len(transactions))
	for _, transaction := range transactions {
		row := newParkingTransaction(transaction)
		row.TransactionID = 0
		rows = append(rows, row)
	}
	if err := store.db.WithContext(ctx).CreateInBatches(&rows, store.batchSize).Error; err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeInsert, parking.StatementError(err))
	}
	return len(rows), nil
}

// Snapshot reads every row ordered by transaction id.
func (store *Store) Snapshot(ctx context.Context) ([]parking.Transaction, error) {
	var rows []ParkingTransaction
	if err := store.db.WithContext(ctx).Order(columnTransactionID).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeSnapshot, parking.StatementError(err))
	}
	transactions := make([]parking.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapParkingTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// UpsertBatch overwrites or inserts every row keyed by transaction id.
func (store *Store) UpsertBatch(ctx context.Context, transactions []parking.Transaction) (int, error) {
	if len(transactions) == 0 {
		return 0, nil
	}
	rows := make([]ParkingTransaction, 0, len(transactions))
	for _, transaction := range transactions {
		rows = append(rows, newParkingTransaction(transaction))
	}
	statement := store.db.WithContext(ctx)
	switch store.upsertMode {
	case UpsertPlainInsert:
		statement = statement.Session(&gorm.Session{SkipDefaultTransaction: true})
	default:
		statement = statement.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnTransactionID}},
			DoUpdates: clause.AssignmentColumns(replicatedColumns),
		})
	}
	if err := statement.CreateInBatches(&rows, store.batchSize).Error; err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeUpsert, parking.StatementError(err))
	}
	return len(rows), nil
}

// RecordRun appends a cycle to the replication_runs journal. Recording the same cycle twice is a no-op.
func (store *Store) RecordRun(ctx context.Context, report parking.CycleReport) error {
	details, err := json.Marshal(runDetails{
		OpenRows:   report.OpenRows,
		ClosedRows: report.ClosedRows,
		Attempts:   report.Attempts,
	})
	if err != nil {
		return wrapStoreError(errorSubjectRun, errorCodeInvalid, err)
	}
	run := ReplicationRun{
		RunID:       report.CycleID,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		RowsRead:    int64(report.RowsRead),
		RowsWritten: int64(report.RowsWritten),
		Status:      report.Status,
		Details:     datatypes.JSON(details),
	}
	if report.Err != nil {
		message := report.Err.Error()
		run.Error = &message
	}
	err = store.db.WithContext(ctx).Create(&run).Error
	if isDuplicateKey(err) {
		return nil
	}
	if err != nil {
		return wrapStoreError(errorSubjectRun, errorCodeRecord, parking.StatementError(err))
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *Store) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCloseSession, err)
	}
	if err := sqlDB.Close(); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCloseSession, parking.ConnectionError(err))
	}
	return nil
}

type runDetails struct {
	OpenRows   int `json:"open_rows"`
	ClosedRows int `json:"closed_rows"`
	Attempts   int `json:"attempts"`
}

func wrapStoreError(subject string, code string, err error) error {
	return parking.WrapError(errorOperationStore, subject, code, err)
}

func newParkingTransaction(transaction parking.Transaction) ParkingTransaction {
	row := ParkingTransaction{
		TransactionID: transaction.ID.Int64(),
		EntryTime:     transaction.EntryTime,
		VehiclePlate:  transaction.Plate.String(),
		VehicleType:   transaction.VehicleType.String(),
		Location:      transaction.Location.String(),
		CreatedAt:     transaction.CreatedAt,
		UpdatedAt:     transaction.UpdatedAt,
	}
	if closing := transaction.Closing; closing != nil {
		exitTime := closing.ExitTime
		durationMinutes := closing.DurationMinutes
		paymentMethod := closing.PaymentMethod.String()
		amount := closing.Amount.Int64()
		row.ExitTime = &exitTime
		row.DurationMinutes = &durationMinutes
		row.PaymentMethod = &paymentMethod
		row.Amount = &amount
	}
	return row
}

func mapParkingTransaction(row ParkingTransaction) (parking.Transaction, error) {
	transactionID, err := parking.NewTransactionID(row.TransactionID)
	if err != nil {
		return parking.Transaction{}, err
	}
	transaction := parking.Transaction{
		ID:          transactionID,
		EntryTime:   row.EntryTime.UTC(),
		Plate:       parking.RestoreVehiclePlate(row.VehiclePlate),
		VehicleType: parking.VehicleType(row.VehicleType),
		Location:    parking.RestoreLocation(row.Location),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	closingFields := 0
	for _, present := range []bool{row.ExitTime != nil, row.DurationMinutes != nil, row.PaymentMethod != nil, row.Amount != nil} {
		if present {
			closingFields++
		}
	}
	switch closingFields {
	case 0:
		return transaction, nil
	case 4:
		transaction.Closing = &parking.Closing{
			ExitTime:        row.ExitTime.UTC(),
			DurationMinutes: *row.DurationMinutes,
			PaymentMethod:   parking.PaymentMethod(*row.PaymentMethod),
			Amount:          parking.Amount(*row.Amount),
		}
		return transaction, nil
	default:
		return parking.Transaction{}, fmt.Errorf("%w: transaction %d has %d of 4 closing fields", parking.ErrInvalidClosing, row.TransactionID, closingFields)
	}
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
