package parking

import (
	"fmt"
	"time"
)

// Default per-block rates.
const (
	DefaultMotorRate Amount = 2000
	DefaultCarRate   Amount = 5000
)

// TariffSchedule maps vehicle types to the price of one billing block.
type TariffSchedule struct {
	rates map[VehicleType]Amount
}

// DefaultTariffSchedule returns the Motor/Car schedule used by the lots.
func DefaultTariffSchedule() TariffSchedule {
	return TariffSchedule{rates: map[VehicleType]Amount{
		VehicleMotor: DefaultMotorRate,
		VehicleCar:   DefaultCarRate,
	}}
}

// NewTariffSchedule validates a custom schedule.
func NewTariffSchedule(rates map[VehicleType]Amount) (TariffSchedule, error) {
	if len(rates) == 0 {
		return TariffSchedule{}, fmt.Errorf("%w: tariff schedule is empty", ErrInvalidServiceConfig)
	}
	normalized := make(map[VehicleType]Amount, len(rates))
	for vehicleType, rate := range rates {
		parsed, err := ParseVehicleType(vehicleType.String())
		if err != nil {
			return TariffSchedule{}, err
		}
		if rate <= 0 {
			return TariffSchedule{}, fmt.Errorf("%w: rate for %s must be positive", ErrInvalidServiceConfig, parsed)
		}
		normalized[parsed] = rate
	}
	return TariffSchedule{rates: normalized}, nil
}

// Rate returns the price of one billing block for vehicleType.
func (schedule TariffSchedule) Rate(vehicleType VehicleType) (Amount, error) {
	parsed, err := ParseVehicleType(vehicleType.String())
	if err != nil {
		return 0, err
	}
	rate, ok := schedule.rates[parsed]
	if !ok {
		return 0, fmt.Errorf("%w: no tariff for %s", ErrInvalidVehicleType, parsed)
	}
	return rate, nil
}

// Charge bills durationMinutes in whole blocks, a partial block counting as a full one.
func (schedule TariffSchedule) Charge(vehicleType VehicleType, durationMinutes int64) (Amount, error) {
	rate, err := schedule.Rate(vehicleType)
	if err != nil {
		return 0, err
	}
	return rate * Amount(BillingBlocks(durationMinutes)), nil
}

// BillingBlocks rounds a duration up to whole hours, never less than one.
func BillingBlocks(durationMinutes int64) int64 {
	if durationMinutes < minimumDurationMinutes {
		durationMinutes = minimumDurationMinutes
	}
	return (durationMinutes + billingBlockMinutes - 1) / billingBlockMinutes
}

// DurationMinutes returns the whole minutes between entry and exit, clamped to at least one.
func DurationMinutes(entryTime time.Time, exitTime time.Time) int64 {
	minutes := int64(exitTime.Sub(entryTime) / time.Minute)
	if minutes < minimumDurationMinutes {
		return minimumDurationMinutes
	}
	return minutes
}
