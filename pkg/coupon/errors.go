package coupon

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the coupon service.
var (
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrCouponIDTaken        = errors.New("coupon id already taken")
	ErrIDSpaceExhausted     = errors.New("identifier space exhausted")
	ErrPartialWrite         = errors.New("partial ledger write")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidCouponID      = errors.New("invalid coupon id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidStatus        = errors.New("invalid coupon status")
	ErrInvalidKind          = errors.New("invalid transaction kind")
	ErrInvalidExpiration    = errors.New("invalid expiration date")
	ErrInvalidDraft         = errors.New("invalid coupon draft")
	ErrEmptyPatch           = errors.New("empty coupon patch")
	ErrInvalidServiceConfig = errors.New("invalid service config")
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
