package parking

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the parking package.
var (
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidPlate         = errors.New("invalid vehicle plate")
	ErrInvalidVehicleType   = errors.New("invalid vehicle type")
	ErrInvalidLocation      = errors.New("invalid location")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidClosing       = errors.New("invalid closing")
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrInvalidRetryPolicy   = errors.New("invalid retry policy")
	ErrNoOpenTransaction    = errors.New("no open transaction")
	ErrTransactionClosed    = errors.New("transaction already closed")
	ErrUnknownTransaction   = errors.New("unknown transaction")
	ErrConnection           = errors.New("store connection failed")
	ErrStatement            = errors.New("store statement failed")
	ErrCircuitOpen          = errors.New("analytical store circuit open")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// ConnectionError marks err as a store connection failure while keeping the cause inspectable.
func ConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

// StatementError marks err as a failed query or write.
func StatementError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStatement) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStatement, err)
}
