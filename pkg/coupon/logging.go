package coupon

import (
	"context"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing coupon operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	CouponID  CouponID
	Amount    decimal.Decimal
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithAllocator replaces the default id allocator.
func WithAllocator(allocator *IDAllocator) ServiceOption {
	return func(service *Service) {
		service.allocator = allocator
	}
}
