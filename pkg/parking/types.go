package parking

import (
	"fmt"
	"strings"
	"time"
)

// TransactionID is the identity the operational store assigns to a transaction.
type TransactionID int64

// NewTransactionID validates a store-assigned identifier.
func NewTransactionID(raw int64) (TransactionID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidTransactionID)
	}
	return TransactionID(raw), nil
}

// Int64 exposes the raw identifier.
func (id TransactionID) Int64() int64 {
	return int64(id)
}

// Assigned reports whether the store has assigned the identifier yet.
func (id TransactionID) Assigned() bool {
	return id > 0
}

// Amount is an integer currency amount.
type Amount int64

// Int64 exposes the raw amount.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// VehiclePlate is a normalized registration plate.
type VehiclePlate struct {
	value string
}

// NewVehiclePlate validates and normalizes a plate.
func NewVehiclePlate(raw string) (VehiclePlate, error) {
	normalized := strings.Join(strings.Fields(strings.ToUpper(raw)), " ")
	if normalized == "" {
		return VehiclePlate{}, fmt.Errorf("%w: empty value", ErrInvalidPlate)
	}
	return VehiclePlate{value: normalized}, nil
}

// RestoreVehiclePlate rebuilds a plate read back from a store without normalizing it,
// so replicated rows keep the exact stored text.
func RestoreVehiclePlate(stored string) VehiclePlate {
	return VehiclePlate{value: stored}
}

// String returns the normalized plate.
func (plate VehiclePlate) String() string {
	return plate.value
}

// Location names the lot a transaction happened at.
type Location struct {
	value string
}

// NewLocation validates and normalizes a location name.
func NewLocation(raw string) (Location, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Location{}, fmt.Errorf("%w: empty value", ErrInvalidLocation)
	}
	return Location{value: trimmed}, nil
}

// RestoreLocation rebuilds a location read back from a store.
func RestoreLocation(stored string) Location {
	return Location{value: stored}
}

// String returns the location name.
func (location Location) String() string {
	return location.value
}

// VehicleType drives tariff selection.
type VehicleType string

const (
	VehicleMotor VehicleType = "Motor"
	VehicleCar   VehicleType = "Car"
)

// vehicleCarAlias is how older feeders recorded cars.
const vehicleCarAlias = "mobil"

// ParseVehicleType validates a vehicle type, accepting the legacy "Mobil" spelling for cars.
func ParseVehicleType(raw string) (VehicleType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "motor":
		return VehicleMotor, nil
	case "car", vehicleCarAlias:
		return VehicleCar, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVehicleType, raw)
	}
}

// String returns the stored representation.
func (vehicleType VehicleType) String() string {
	return string(vehicleType)
}

// PaymentMethod records how a closed transaction was paid.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "Cash"
	PaymentQRIS    PaymentMethod = "QRIS"
	PaymentDebit   PaymentMethod = "Debit"
	PaymentEWallet PaymentMethod = "E-Wallet"
)

// ParsePaymentMethod validates a payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash":
		return PaymentCash, nil
	case "qris":
		return PaymentQRIS, nil
	case "debit":
		return PaymentDebit, nil
	case "e-wallet", "ewallet":
		return PaymentEWallet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
}

// String returns the stored representation.
func (method PaymentMethod) String() string {
	return string(method)
}

// TransactionState is derived from whether the exit time is set.
type TransactionState string

const (
	StateOpen   TransactionState = "open"
	StateClosed TransactionState = "closed"
)

// Closing holds the fields written together when a vehicle leaves.
type Closing struct {
	ExitTime        time.Time
	DurationMinutes int64
	PaymentMethod   PaymentMethod
	Amount          Amount
}

// Transaction is one row of the parking ledger.
type Transaction struct {
	ID          TransactionID
	EntryTime   time.Time
	Plate       VehiclePlate
	VehicleType VehicleType
	Location    Location
	Closing     *Closing
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOpenTransaction builds a transaction for a vehicle entering at entryTime.
func NewOpenTransaction(plate VehiclePlate, vehicleType VehicleType, location Location, entryTime time.Time) (Transaction, error) {
	if plate.String() == "" {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidPlate)
	}
	if _, err := ParseVehicleType(vehicleType.String()); err != nil {
		return Transaction{}, err
	}
	if location.String() == "" {
		return Transaction{}, fmt.Errorf("%w: empty value", ErrInvalidLocation)
	}
	if entryTime.IsZero() {
		return Transaction{}, fmt.Errorf("%w: entry time is required", ErrInvalidTransaction)
	}
	return Transaction{
		EntryTime:   entryTime,
		Plate:       plate,
		VehicleType: vehicleType,
		Location:    location,
		CreatedAt:   entryTime,
		UpdatedAt:   entryTime,
	}, nil
}

// State reports whether the transaction is open or closed.
func (transaction Transaction) State() TransactionState {
	if transaction.Closing == nil {
		return StateOpen
	}
	return StateClosed
}

// Close returns a copy of the transaction closed at exitTime and billed with tariffs.
func (transaction Transaction) Close(exitTime time.Time, method PaymentMethod, tariffs TariffSchedule) (Transaction, error) {
	if transaction.Closing != nil {
		return Transaction{}, fmt.Errorf("%w: id %d", ErrTransactionClosed, transaction.ID)
	}
	if exitTime.Before(transaction.EntryTime) {
		return Transaction{}, fmt.Errorf("%w: exit time precedes entry time", ErrInvalidClosing)
	}
	if _, err := ParsePaymentMethod(method.String()); err != nil {
		return Transaction{}, err
	}
	durationMinutes := DurationMinutes(transaction.EntryTime, exitTime)
	amount, err := tariffs.Charge(transaction.VehicleType, durationMinutes)
	if err != nil {
		return Transaction{}, err
	}
	closed := transaction
	closed.Closing = &Closing{
		ExitTime:        exitTime,
		DurationMinutes: durationMinutes,
		PaymentMethod:   method,
		Amount:          amount,
	}
	closed.UpdatedAt = exitTime
	return closed, nil
}

// Validate checks the ledger invariants for a single row.
func (transaction Transaction) Validate(tariffs TariffSchedule) error {
	if transaction.Plate.String() == "" {
		return fmt.Errorf("%w: empty plate", ErrInvalidTransaction)
	}
	if transaction.Location.String() == "" {
		return fmt.Errorf("%w: empty location", ErrInvalidTransaction)
	}
	if transaction.Closing == nil {
		return nil
	}
	closing := transaction.Closing
	if closing.ExitTime.Before(transaction.EntryTime) {
		return fmt.Errorf("%w: exit time precedes entry time", ErrInvalidClosing)
	}
	if closing.DurationMinutes < minimumDurationMinutes {
		return fmt.Errorf("%w: duration %d below minimum", ErrInvalidClosing, closing.DurationMinutes)
	}
	if closing.PaymentMethod == "" {
		return fmt.Errorf("%w: payment method missing", ErrInvalidClosing)
	}
	expected, err := tariffs.Charge(transaction.VehicleType, closing.DurationMinutes)
	if err != nil {
		return err
	}
	if closing.Amount != expected {
		return fmt.Errorf("%w: amount %d, expected %d", ErrInvalidClosing, closing.Amount, expected)
	}
	return nil
}
