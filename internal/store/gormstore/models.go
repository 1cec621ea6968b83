package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// ParkingTransaction mirrors the parking_transactions table. Bookkeeping timestamps are
// written explicitly so a replicated row carries the source values unchanged.
type ParkingTransaction struct {
	TransactionID   int64      `gorm:"column:transaction_id;primaryKey;autoIncrement"`
	EntryTime       time.Time  `gorm:"not null;index:idx_parking_entry_time"`
	VehiclePlate    string     `gorm:"size:20;not null"`
	VehicleType     string     `gorm:"size:10;not null"`
	ExitTime        *time.Time `gorm:"index:idx_parking_exit_time"`
	DurationMinutes *int64
	PaymentMethod   *string `gorm:"size:20"`
	Amount          *int64
	Location        string    `gorm:"size:50;not null"`
	CreatedAt       time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (ParkingTransaction) TableName() string { return "parking_transactions" }

// ReplicationRun mirrors the replication_runs journal table.
type ReplicationRun struct {
	RunID       string    `gorm:"size:36;primaryKey"`
	StartedAt   time.Time `gorm:"not null;index:idx_replication_runs_started"`
	FinishedAt  time.Time `gorm:"not null"`
	RowsRead    int64     `gorm:"not null"`
	RowsWritten int64     `gorm:"not null"`
	Status      string    `gorm:"size:16;not null"`
	Error       *string
	Details     datatypes.JSON `gorm:"not null"`
}

func (ReplicationRun) TableName() string { return "replication_runs" }
