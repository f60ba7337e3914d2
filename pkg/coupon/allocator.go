package coupon

import (
	"context"
	"fmt"
	"math/rand"
)

const (
	defaultAllocatorFloor    = 1000
	defaultAllocatorCeiling  = 10000
	defaultAllocatorAttempts = 100
)

// ExistenceProbe answers whether a coupon id is already taken. Store
// implementations satisfy it.
type ExistenceProbe interface {
	CouponExists(ctx context.Context, id CouponID) (bool, error)
}

// IDAllocator draws collision-free coupon identifiers by probing the store
// with fresh uniform candidates. Identifiers are random rather than
// sequential so they cannot be enumerated; the bounded retry keeps worst-case
// latency finite at the cost of a hard failure on a saturated range.
type IDAllocator struct {
	probe       ExistenceProbe
	intn        func(n int) int
	floor       int64
	ceiling     int64
	maxAttempts int
}

// AllocatorOption configures an IDAllocator.
type AllocatorOption func(*IDAllocator)

// WithRandIntn replaces the random source (tests use a deterministic one).
func WithRandIntn(intn func(n int) int) AllocatorOption {
	return func(allocator *IDAllocator) {
		allocator.intn = intn
	}
}

// WithIDRange overrides the candidate range [floor, ceiling).
func WithIDRange(floor int64, ceiling int64) AllocatorOption {
	return func(allocator *IDAllocator) {
		allocator.floor = floor
		allocator.ceiling = ceiling
	}
}

// WithMaxAttempts overrides the probe bound.
func WithMaxAttempts(maxAttempts int) AllocatorOption {
	return func(allocator *IDAllocator) {
		allocator.maxAttempts = maxAttempts
	}
}

// NewIDAllocator wires an IDAllocator.
func NewIDAllocator(probe ExistenceProbe, options ...AllocatorOption) (*IDAllocator, error) {
	if probe == nil {
		return nil, fmt.Errorf("%w: existence probe is nil", ErrInvalidServiceConfig)
	}
	allocator := &IDAllocator{
		probe:       probe,
		intn:        rand.Intn,
		floor:       defaultAllocatorFloor,
		ceiling:     defaultAllocatorCeiling,
		maxAttempts: defaultAllocatorAttempts,
	}
	for _, option := range options {
		if option != nil {
			option(allocator)
		}
	}
	if allocator.floor <= 0 || allocator.ceiling <= allocator.floor {
		return nil, fmt.Errorf("%w: id range [%d, %d)", ErrInvalidServiceConfig, allocator.floor, allocator.ceiling)
	}
	if allocator.maxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts %d", ErrInvalidServiceConfig, allocator.maxAttempts)
	}
	return allocator, nil
}

// Allocate returns a coupon id not present in the store. Each collision draws
// a fresh candidate; after maxAttempts collisions it fails with
// ErrIDSpaceExhausted. No reservation is taken: the id is only claimed once
// the coupon row is inserted, and a concurrent insert of the same candidate
// surfaces as ErrCouponIDTaken from the store.
func (allocator *IDAllocator) Allocate(ctx context.Context) (CouponID, error) {
	span := int(allocator.ceiling - allocator.floor)
	for attempt := 0; attempt < allocator.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		candidate := allocator.floor + int64(allocator.intn(span))
		taken, err := allocator.probe.CouponExists(ctx, CouponID(candidate))
		if err != nil {
			return 0, WrapError("allocator", "coupon_id", "probe", err)
		}
		if !taken {
			return CouponID(candidate), nil
		}
	}
	return 0, fmt.Errorf("%w: no free id after %d attempts", ErrIDSpaceExhausted, allocator.maxAttempts)
}
