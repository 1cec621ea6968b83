package parking

import (
	"context"
	"time"
)

// OperationLogger records domain-level events emitted by the generator, seeder and replicator.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one tick action, seed batch or replication cycle.
type OperationLog struct {
	Operation     string
	TransactionID TransactionID
	Plate         VehiclePlate
	VehicleType   VehicleType
	Location      Location
	Amount        Amount
	CycleID       string
	RowsRead      int
	RowsWritten   int
	Attempts      int
	Duration      time.Duration
	Status        string
	Error         error
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = StatusError
		} else {
			entry.Status = StatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
