package parking

import "context"

// OperationalStore is the persistence contract used by Generator.
type OperationalStore interface {
	// InsertTransaction stores an open transaction and returns it with its assigned id.
	InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
	// PickOpen returns a random open transaction or ErrNoOpenTransaction.
	PickOpen(ctx context.Context) (Transaction, error)
	// CloseTransaction writes every closing field of a still-open row in one statement.
	CloseTransaction(ctx context.Context, closed Transaction) error
}

// BulkInserter stores prebuilt transactions, used by Seeder.
type BulkInserter interface {
	InsertBatch(ctx context.Context, transactions []Transaction) (int, error)
}

// SnapshotReader reads the whole ledger.
type SnapshotReader interface {
	Snapshot(ctx context.Context) ([]Transaction, error)
}

// UpsertWriter overwrites or inserts rows keyed by transaction id as one unit.
type UpsertWriter interface {
	UpsertBatch(ctx context.Context, transactions []Transaction) (int, error)
}

// RunJournal records completed replication cycles next to the replicated data.
type RunJournal interface {
	RecordRun(ctx context.Context, report CycleReport) error
}

// SourceSession is a read connection to the operational store that lives for one cycle.
type SourceSession interface {
	SnapshotReader
	Close() error
}

// SinkSession is a write connection to the analytical store that lives for one cycle.
type SinkSession interface {
	UpsertWriter
	Close() error
}

// SourceDialer opens a fresh SourceSession.
type SourceDialer func(ctx context.Context) (SourceSession, error)

// SinkDialer opens a fresh SinkSession.
type SinkDialer func(ctx context.Context) (SinkSession, error)
