package pgstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifySeparatesStatementAndConnectionErrors(test *testing.T) {
	test.Parallel()
	statement := classify(&pgconn.PgError{Code: "23505"})
	if !errors.Is(statement, parking.ErrStatement) {
		test.Fatalf("expected statement error, got %v", statement)
	}
	connection := classify(errors.New("read tcp: connection reset by peer"))
	if !errors.Is(connection, parking.ErrConnection) {
		test.Fatalf("expected connection error, got %v", connection)
	}
	if cancelled := classify(context.Canceled); !errors.Is(cancelled, context.Canceled) || errors.Is(cancelled, parking.ErrConnection) {
		test.Fatalf("expected bare cancellation, got %v", cancelled)
	}
}

func TestRowValuesRoundTrip(test *testing.T) {
	test.Parallel()
	entryTime := time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	open := parking.Transaction{
		ID:          9,
		EntryTime:   entryTime,
		Plate:       parking.RestoreVehiclePlate("B 1234 XYZ"),
		VehicleType: parking.VehicleType("Mobil"),
		Location:    parking.RestoreLocation("Mall B"),
		CreatedAt:   entryTime,
		UpdatedAt:   entryTime,
	}
	closed, err := open.Close(entryTime.Add(120*time.Minute), parking.PaymentDebit, parking.DefaultTariffSchedule())
	if err != nil {
		test.Fatalf("close: %v", err)
	}
	for _, transaction := range []parking.Transaction{open, closed} {
		values := newRowValues(transaction)
		if got := len(values.upsertArguments()); got != 11 {
			test.Fatalf("expected 11 upsert arguments, got %d", got)
		}
		restored, err := values.transaction()
		if err != nil {
			test.Fatalf("restore: %v", err)
		}
		if restored.ID != transaction.ID || restored.VehicleType != transaction.VehicleType || restored.State() != transaction.State() {
			test.Fatalf("unexpected restore %+v", restored)
		}
	}
	if closed.Closing.Amount != 2*parking.DefaultCarRate {
		test.Fatalf("expected Mobil billed as Car, got %d", closed.Closing.Amount)
	}
}

func TestRowValuesRejectPartialClosing(test *testing.T) {
	test.Parallel()
	exitTime := time.Now()
	values := rowValues{transactionID: 1, exitTime: &exitTime}
	if _, err := values.transaction(); !errors.Is(err, parking.ErrInvalidClosing) {
		test.Fatalf("expected ErrInvalidClosing, got %v", err)
	}
}
