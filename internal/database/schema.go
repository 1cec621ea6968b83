package database

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/parkingsync/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/parkingsync/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
)

// StarRocks needs a primary-key table for INSERT to replace rows by key; gorm cannot express that DDL.
const (
	sqlStarRocksTransactions = `
		CREATE TABLE IF NOT EXISTS parking_transactions (
			transaction_id BIGINT NOT NULL,
			entry_time DATETIME NOT NULL,
			vehicle_plate VARCHAR(20) NOT NULL,
			vehicle_type VARCHAR(10) NOT NULL,
			exit_time DATETIME NULL,
			duration_minutes BIGINT NULL,
			payment_method VARCHAR(20) NULL,
			amount BIGINT NULL,
			location VARCHAR(50) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)
		PRIMARY KEY (transaction_id)
		DISTRIBUTED BY HASH (transaction_id)
	`
	sqlStarRocksRuns = `
		CREATE TABLE IF NOT EXISTS replication_runs (
			run_id VARCHAR(36) NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			rows_read BIGINT NOT NULL,
			rows_written BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			error STRING NULL,
			details JSON NOT NULL
		)
		PRIMARY KEY (run_id)
		DISTRIBUTED BY HASH (run_id)
	`
)

// PrepareSchema creates the ledger table, and the run journal when withJournal is set.
func PrepareSchema(ctx context.Context, target Target, engine Engine, withJournal bool) error {
	if err := ValidateEngine(target, engine); err != nil {
		return err
	}
	if engine == EnginePgx {
		store, err := pgstore.Dial(ctx, target.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.EnsureSchema(ctx)
	}
	db, err := OpenGorm(ctx, target)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return parking.ConnectionError(err)
	}
	defer sqlDB.Close()

	if target.Driver == DriverStarRocks {
		statements := []string{sqlStarRocksTransactions}
		if withJournal {
			statements = append(statements, sqlStarRocksRuns)
		}
		for _, statement := range statements {
			if err := db.WithContext(ctx).Exec(statement).Error; err != nil {
				return fmt.Errorf("create starrocks table: %w", parking.StatementError(err))
			}
		}
		return nil
	}
	models := []interface{}{&gormstore.ParkingTransaction{}}
	if withJournal {
		models = append(models, &gormstore.ReplicationRun{})
	}
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", parking.StatementError(err))
	}
	return nil
}
