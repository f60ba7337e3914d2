package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CouponRecord mirrors the coupons table. Sensitive columns hold ciphertext;
// the store encrypts and decrypts them at this boundary.
type CouponRecord struct {
	ID            int64           `gorm:"primaryKey"`
	UserID        string          `gorm:"not null;index:idx_coupons_user"`
	Company       string          `gorm:"not null"`
	Code          string          `gorm:""`
	Description   string          `gorm:""`
	CVV           string          `gorm:"column:cvv"`
	CardExp       string          `gorm:""`
	Value         decimal.Decimal `gorm:"type:numeric;not null"`
	Cost          decimal.Decimal `gorm:"type:numeric;not null"`
	UsedValue     decimal.Decimal `gorm:"type:numeric;not null"`
	Status        string          `gorm:"not null"`
	IsForSale     bool            `gorm:"not null"`
	ExcludeSaving bool            `gorm:"not null"`
	IsOneTime     bool            `gorm:"not null"`
	IsAvailable   bool            `gorm:"not null"`
	BuyMeURL      string          `gorm:""`
	StraussURL    string          `gorm:""`
	XtraURL       string          `gorm:""`
	XGiftCardURL  string          `gorm:""`
	Expiration    *datatypes.Date `gorm:""`
	DateAdded     time.Time       `gorm:"not null"`
}

func (CouponRecord) TableName() string { return "coupons" }

// TransactionRecord mirrors the coupon_transactions table. Rows are immutable
// except the singular initial recharge row, updated in place on face-value
// edits.
type TransactionRecord struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	CouponID  int64           `gorm:"not null;index:idx_transactions_coupon_created,priority:1;index:idx_transactions_coupon_reference,priority:1"`
	Kind      string          `gorm:"not null"`
	Amount    decimal.Decimal `gorm:"type:numeric;not null"`
	Details   string          `gorm:""`
	Reference string          `gorm:"index:idx_transactions_coupon_reference,priority:2"`
	CreatedAt time.Time       `gorm:"not null;index:idx_transactions_coupon_created,priority:2"`
}

func (TransactionRecord) TableName() string { return "coupon_transactions" }

// CompanyRecord mirrors the companies table, canonical merchant reference
// data.
type CompanyRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"not null;uniqueIndex:uniq_companies_name"`
	ImagePath  string `gorm:""`
	UsageCount int64  `gorm:"not null;default:0"`
}

func (CompanyRecord) TableName() string { return "companies" }
