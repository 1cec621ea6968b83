package parking

import (
	"errors"
	"testing"
	"time"
)

func TestChargeBillsWholeHourBlocks(test *testing.T) {
	test.Parallel()
	schedule := DefaultTariffSchedule()
	testCases := []struct {
		name            string
		vehicleType     VehicleType
		durationMinutes int64
		want            Amount
	}{
		{name: "motor one minute", vehicleType: VehicleMotor, durationMinutes: 1, want: 2000},
		{name: "motor exact hour", vehicleType: VehicleMotor, durationMinutes: 60, want: 2000},
		{name: "motor ninety five minutes", vehicleType: VehicleMotor, durationMinutes: 95, want: 4000},
		{name: "car sixty one minutes", vehicleType: VehicleCar, durationMinutes: 61, want: 10000},
		{name: "car legacy alias", vehicleType: VehicleType("Mobil"), durationMinutes: 180, want: 15000},
		{name: "zero clamps to one block", vehicleType: VehicleCar, durationMinutes: 0, want: 5000},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			got, err := schedule.Charge(testCase.vehicleType, testCase.durationMinutes)
			if err != nil {
				test.Fatalf("charge: %v", err)
			}
			if got != testCase.want {
				test.Fatalf("expected %d, got %d", testCase.want, got)
			}
		})
	}
}

func TestChargeRejectsUnknownVehicleType(test *testing.T) {
	test.Parallel()
	if _, err := DefaultTariffSchedule().Charge(VehicleType("Bus"), 10); !errors.Is(err, ErrInvalidVehicleType) {
		test.Fatalf("expected ErrInvalidVehicleType, got %v", err)
	}
	motorOnly, err := NewTariffSchedule(map[VehicleType]Amount{VehicleMotor: 1500})
	if err != nil {
		test.Fatalf("schedule: %v", err)
	}
	if _, err := motorOnly.Charge(VehicleCar, 10); !errors.Is(err, ErrInvalidVehicleType) {
		test.Fatalf("expected ErrInvalidVehicleType for missing rate, got %v", err)
	}
}

func TestNewTariffScheduleValidatesRates(test *testing.T) {
	test.Parallel()
	if _, err := NewTariffSchedule(nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
	if _, err := NewTariffSchedule(map[VehicleType]Amount{VehicleCar: 0}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}

func TestDurationMinutesFloorsAndClamps(test *testing.T) {
	test.Parallel()
	if got := DurationMinutes(baseTime, baseTime.Add(95*time.Minute+59*time.Second)); got != 95 {
		test.Fatalf("expected 95, got %d", got)
	}
	if got := DurationMinutes(baseTime, baseTime.Add(30*time.Second)); got != 1 {
		test.Fatalf("expected clamp to 1, got %d", got)
	}
	if got := BillingBlocks(120); got != 2 {
		test.Fatalf("expected 2 blocks, got %d", got)
	}
}
