// Package telemetry renders parking operation records as structured logs and prometheus metrics.
package telemetry

import (
	"context"

	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	"go.uber.org/zap"
)

// ZapOperationLogger writes one structured line per operation record.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry parking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.Duration("duration", entry.Duration),
	}
	if entry.Attempts > 1 {
		fields = append(fields, zap.Int("attempts", entry.Attempts))
	}
	switch entry.Operation {
	case parking.OperationEnter, parking.OperationExit:
		if entry.TransactionID.Assigned() {
			fields = append(fields, zap.Int64("transaction_id", entry.TransactionID.Int64()))
		}
		if plate := entry.Plate.String(); plate != "" {
			fields = append(fields,
				zap.String("plate", plate),
				zap.String("vehicle_type", entry.VehicleType.String()),
				zap.String("location", entry.Location.String()),
			)
		}
		if entry.Amount > 0 {
			fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
		}
	case parking.OperationReplicate:
		fields = append(fields,
			zap.String("cycle_id", entry.CycleID),
			zap.Int("rows_read", entry.RowsRead),
			zap.Int("rows_written", entry.RowsWritten),
		)
	case parking.OperationSeed:
		fields = append(fields, zap.Int("rows_written", entry.RowsWritten))
	}
	if entry.Error != nil {
		operationLogger.logger.Error("parking operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("parking operation", fields...)
}
