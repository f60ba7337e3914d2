package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Service contains the domain logic over a Store.
type Service struct {
	store     Store
	allocator *IDAllocator
	nowFn     func() time.Time
	logger    OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.allocator == nil {
		allocator, err := NewIDAllocator(store)
		if err != nil {
			return nil, err
		}
		service.allocator = allocator
	}
	return service, nil
}

// CreateCoupon allocates an id, persists the coupon with server-assigned
// defaults, and upserts the initial recharge row. The coupon row is
// authoritative: a failed recharge upsert is logged and swallowed so a
// user-visible create never blocks on the audit trail.
func (service *Service) CreateCoupon(ctx context.Context, userID UserID, draft Draft) (Coupon, error) {
	record, operationError := service.createCoupon(ctx, userID, draft)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreate,
		UserID:    userID,
		CouponID:  record.ID,
		Amount:    draft.Value,
		Error:     operationError,
	})
	return record, operationError
}

func (service *Service) createCoupon(ctx context.Context, userID UserID, draft Draft) (Coupon, error) {
	if err := draft.Validate(); err != nil {
		return Coupon{}, err
	}
	id, err := service.allocator.Allocate(ctx)
	if err != nil {
		return Coupon{}, err
	}
	record := Coupon{
		ID:            id,
		UserID:        userID,
		Company:       draft.Company,
		Code:          draft.Code,
		Description:   draft.Description,
		CVV:           draft.CVV,
		CardExp:       draft.CardExp,
		Value:         draft.Value,
		Cost:          draft.Cost,
		UsedValue:     decimal.Zero,
		Status:        StatusActive,
		IsForSale:     draft.IsForSale,
		ExcludeSaving: draft.ExcludeSaving,
		IsOneTime:     draft.IsOneTime,
		IsAvailable:   true,
		BuyMeURL:      draft.BuyMeURL,
		StraussURL:    draft.StraussURL,
		XtraURL:       draft.XtraURL,
		XGiftCardURL:  draft.XGiftCardURL,
		Expiration:    draft.Expiration,
		DateAdded:     service.nowFn(),
	}
	created, err := service.store.InsertCoupon(ctx, record)
	if err != nil {
		return Coupon{}, err
	}
	if rechargeErr := service.store.UpsertInitialRecharge(ctx, created.ID, created.Value, InitialRechargeDetails); rechargeErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationInitialRecharge,
			UserID:    userID,
			CouponID:  created.ID,
			Amount:    created.Value,
			Error:     WrapError("ledger", "recharge", "upsert", rechargeErr),
		})
	}
	return created, nil
}

// UpdateCoupon applies a typed partial update. A face-value change re-upserts
// the initial recharge row so ledger and coupon stay consistent; like on
// create, that secondary write is logged and swallowed on failure.
func (service *Service) UpdateCoupon(ctx context.Context, id CouponID, patch Patch) (Coupon, error) {
	record, operationError := service.updateCoupon(ctx, id, patch)
	logEntry := OperationLog{
		Operation: operationUpdate,
		UserID:    record.UserID,
		CouponID:  id,
		Error:     operationError,
	}
	if patch.Value != nil {
		logEntry.Amount = *patch.Value
	}
	service.logOperation(ctx, logEntry)
	return record, operationError
}

func (service *Service) updateCoupon(ctx context.Context, id CouponID, patch Patch) (Coupon, error) {
	if err := patch.Validate(); err != nil {
		return Coupon{}, err
	}
	if err := service.store.UpdateCoupon(ctx, id, patch); err != nil {
		return Coupon{}, err
	}
	if patch.Value != nil {
		if rechargeErr := service.store.UpsertInitialRecharge(ctx, id, *patch.Value, InitialRechargeDetails); rechargeErr != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationInitialRecharge,
				CouponID:  id,
				Amount:    *patch.Value,
				Error:     WrapError("ledger", "recharge", "upsert", rechargeErr),
			})
		}
	}
	return service.store.GetCoupon(ctx, id)
}

// RecordUsage increments the coupon's consumed value and appends an immutable
// usage transaction. The increment is a single guarded statement server-side;
// no upper clamp is applied here so over-reported usage is kept, not lost.
// A failed usage-row append after a landed increment surfaces as
// ErrPartialWrite with the updated coupon still returned.
func (service *Service) RecordUsage(ctx context.Context, id CouponID, amount decimal.Decimal, details string) (Coupon, error) {
	record, operationError := service.recordUsage(ctx, id, amount, details)
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordUsage,
		UserID:    record.UserID,
		CouponID:  id,
		Amount:    amount,
		Error:     operationError,
	})
	return record, operationError
}

func (service *Service) recordUsage(ctx context.Context, id CouponID, amount decimal.Decimal, details string) (Coupon, error) {
	if !amount.IsPositive() {
		return Coupon{}, fmt.Errorf("%w: usage amount must be positive", ErrInvalidAmount)
	}
	updated, err := service.store.AddUsedValue(ctx, id, amount)
	if err != nil {
		return Coupon{}, err
	}
	if details == "" {
		details = DefaultUsageDetails
	}
	transaction := Transaction{
		CouponID:  id,
		Kind:      KindUsage,
		Amount:    amount,
		Details:   details,
		CreatedAt: service.nowFn(),
	}
	if err := service.store.InsertTransaction(ctx, transaction); err != nil {
		return updated, fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}
	return updated, nil
}

// ConsolidatedView returns the coupon's recharge and usage rows
// time-descending, signed, with a trailing synthetic summary row carrying the
// net balance. Read-only projection, recomputed per call.
func (service *Service) ConsolidatedView(ctx context.Context, id CouponID) ([]LedgerRow, error) {
	transactions, err := service.store.ListTransactions(ctx, id)
	if err != nil {
		return nil, WrapError("ledger", "transactions", "list", err)
	}
	rows := make([]LedgerRow, 0, len(transactions)+1)
	net := decimal.Zero
	for _, transaction := range transactions {
		row := LedgerRow{
			Details:   transaction.Details,
			CreatedAt: transaction.CreatedAt,
		}
		switch transaction.Kind {
		case KindRecharge:
			row.Kind = RowRecharge
			row.Amount = transaction.Amount
		case KindUsage:
			row.Kind = RowUsage
			row.Amount = transaction.Amount.Neg()
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidKind, transaction.Kind)
		}
		net = net.Add(row.Amount)
		rows = append(rows, row)
	}
	rows = append(rows, LedgerRow{
		Kind:      RowSummary,
		Amount:    net,
		Details:   summaryRowDetails,
		CreatedAt: service.nowFn(),
	})
	return rows, nil
}

// DeleteCoupon removes the coupon row. Ledger rows are left in place; they
// orphan but stay inert.
func (service *Service) DeleteCoupon(ctx context.Context, id CouponID) error {
	operationError := service.store.DeleteCoupon(ctx, id)
	service.logOperation(ctx, OperationLog{
		Operation: operationDelete,
		CouponID:  id,
		Error:     operationError,
	})
	return operationError
}

// GetCoupon fetches one coupon with sensitive fields already decrypted by the
// store.
func (service *Service) GetCoupon(ctx context.Context, id CouponID) (Coupon, error) {
	return service.store.GetCoupon(ctx, id)
}

// ListCoupons returns all coupons owned by one user.
func (service *Service) ListCoupons(ctx context.Context, userID UserID) ([]Coupon, error) {
	return service.store.ListCoupons(ctx, userID)
}

// Wallet aggregates the user's spendable total across all owned coupons.
func (service *Service) Wallet(ctx context.Context, userID UserID) (WalletSummary, error) {
	records, err := service.store.ListCoupons(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	return WalletSummary{
		Total:       WalletTotal(records),
		CouponCount: len(records),
	}, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
