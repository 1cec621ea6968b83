package parking

import "time"

// Operation names carried by OperationLog.
const (
	OperationEnter     = "enter"
	OperationExit      = "exit"
	OperationReplicate = "replicate"
	OperationSeed      = "seed"
)

// Statuses carried by OperationLog and CycleReport.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

const (
	billingBlockMinutes    = 60
	minimumDurationMinutes = 1

	defaultEnterProbability = 0.7
	defaultTickInterval     = 200 * time.Millisecond
	defaultCycleInterval    = 20 * time.Second

	defaultSeedBatchSize   = 5000
	defaultSeedClosedRatio = 0.8
	defaultSeedWindow      = 30 * 24 * time.Hour
	seedMinDurationMinutes = 10
	seedMaxDurationMinutes = 300
)
