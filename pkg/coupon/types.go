package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CouponID is the allocated numeric identifier of a coupon.
type CouponID int64

// NewCouponID validates a raw identifier.
func NewCouponID(raw int64) (CouponID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidCouponID)
	}
	return CouponID(raw), nil
}

// Int64 returns the raw identifier.
func (id CouponID) Int64() int64 {
	return int64(id)
}

// UserID identifies a coupon owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// Status defines the coupon lifecycle.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusConsumed Status = "consumed"
	StatusForSale  Status = "for_sale"
)

// ParseStatus converts a stored status token into a Status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusActive, StatusExpired, StatusConsumed, StatusForSale:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the serialized status token.
func (status Status) String() string {
	return string(status)
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	KindRecharge TransactionKind = "recharge"
	KindUsage    TransactionKind = "usage"
)

// ParseTransactionKind converts a stored kind token into a TransactionKind.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindRecharge, KindUsage:
		return TransactionKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
}

// String returns the serialized kind token.
func (kind TransactionKind) String() string {
	return string(kind)
}

// Coupon is a redeemable value record. Sensitive fields (Code, Description,
// CVV, CardExp, partner URLs) are plaintext here; the store encrypts them at
// rest and decrypts them on read.
type Coupon struct {
	ID            CouponID
	UserID        UserID
	Company       string
	Code          string
	Description   string
	CVV           string
	CardExp       string
	Value         decimal.Decimal
	Cost          decimal.Decimal
	UsedValue     decimal.Decimal
	Status        Status
	IsForSale     bool
	ExcludeSaving bool
	IsOneTime     bool
	IsAvailable   bool
	BuyMeURL      string
	StraussURL    string
	XtraURL       string
	XGiftCardURL  string
	Expiration    string // YYYY-MM-DD, empty when open-ended
	DateAdded     time.Time
}

// Draft carries the fields a caller supplies when creating a coupon.
type Draft struct {
	Company       string
	Code          string
	Description   string
	CVV           string
	CardExp       string
	Value         decimal.Decimal
	Cost          decimal.Decimal
	IsForSale     bool
	ExcludeSaving bool
	IsOneTime     bool
	BuyMeURL      string
	StraussURL    string
	XtraURL       string
	XGiftCardURL  string
	Expiration    string
}

// Validate checks a draft before persistence.
func (draft Draft) Validate() error {
	if strings.TrimSpace(draft.Company) == "" {
		return fmt.Errorf("%w: company is required", ErrInvalidDraft)
	}
	if draft.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidAmount)
	}
	if draft.Cost.IsNegative() {
		return fmt.Errorf("%w: cost must not be negative", ErrInvalidAmount)
	}
	if draft.Expiration != "" {
		if _, err := time.Parse(expirationLayout, draft.Expiration); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidExpiration, draft.Expiration)
		}
	}
	return nil
}

// Patch is a typed partial update; nil fields are left untouched.
type Patch struct {
	Company       *string
	Code          *string
	Description   *string
	CVV           *string
	CardExp       *string
	Value         *decimal.Decimal
	Cost          *decimal.Decimal
	Status        *Status
	IsForSale     *bool
	ExcludeSaving *bool
	IsOneTime     *bool
	IsAvailable   *bool
	BuyMeURL      *string
	StraussURL    *string
	XtraURL       *string
	XGiftCardURL  *string
	Expiration    *string
}

// IsEmpty reports whether the patch touches no field.
func (patch Patch) IsEmpty() bool {
	return patch == Patch{}
}

// Validate checks the populated fields of a patch.
func (patch Patch) Validate() error {
	if patch.IsEmpty() {
		return ErrEmptyPatch
	}
	if patch.Value != nil && patch.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidAmount)
	}
	if patch.Cost != nil && patch.Cost.IsNegative() {
		return fmt.Errorf("%w: cost must not be negative", ErrInvalidAmount)
	}
	if patch.Status != nil {
		if _, err := ParseStatus(patch.Status.String()); err != nil {
			return err
		}
	}
	if patch.Expiration != nil && *patch.Expiration != "" {
		if _, err := time.Parse(expirationLayout, *patch.Expiration); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidExpiration, *patch.Expiration)
		}
	}
	return nil
}

// Transaction is an immutable ledger entry tied to a coupon. The singular
// initial recharge row is marked by ReferenceManualEntry and is the only row
// ever updated in place.
type Transaction struct {
	ID        int64
	CouponID  CouponID
	Kind      TransactionKind
	Amount    decimal.Decimal
	Details   string
	Reference string
	CreatedAt time.Time
}

// LedgerRowKind tags rows of the consolidated view.
type LedgerRowKind string

const (
	RowRecharge LedgerRowKind = "recharge"
	RowUsage    LedgerRowKind = "usage"
	RowSummary  LedgerRowKind = "summary"
)

// LedgerRow is one line of the consolidated, time-descending ledger view.
// Amounts are signed: recharges positive, usages negative. The trailing
// summary row carries the net balance.
type LedgerRow struct {
	Kind      LedgerRowKind
	Amount    decimal.Decimal
	Details   string
	CreatedAt time.Time
}

// Company is a canonical merchant entry, read-mostly reference data.
type Company struct {
	ID         int64
	Name       string
	ImagePath  string
	UsageCount int64
}

// WalletSummary aggregates a user's coupons for display.
type WalletSummary struct {
	Total       decimal.Decimal
	CouponCount int
}

// Store is the persistence contract used by Service.
type Store interface {
	CouponExists(ctx context.Context, id CouponID) (bool, error)
	InsertCoupon(ctx context.Context, record Coupon) (Coupon, error)
	GetCoupon(ctx context.Context, id CouponID) (Coupon, error)
	ListCoupons(ctx context.Context, userID UserID) ([]Coupon, error)
	UpdateCoupon(ctx context.Context, id CouponID, patch Patch) error
	DeleteCoupon(ctx context.Context, id CouponID) error
	AddUsedValue(ctx context.Context, id CouponID, amount decimal.Decimal) (Coupon, error)
	UpsertInitialRecharge(ctx context.Context, id CouponID, amount decimal.Decimal, details string) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, id CouponID) ([]Transaction, error)
	ListCompanies(ctx context.Context) ([]Company, error)
}
