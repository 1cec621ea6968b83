package telemetry

import (
	"context"

	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
)

type fanout []parking.OperationLogger

// Fanout forwards every record to each non-nil logger in order.
func Fanout(loggers ...parking.OperationLogger) parking.OperationLogger {
	targets := make(fanout, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			targets = append(targets, logger)
		}
	}
	return targets
}

func (targets fanout) LogOperation(ctx context.Context, entry parking.OperationLog) {
	for _, logger := range targets {
		logger.LogOperation(ctx, entry)
	}
}
