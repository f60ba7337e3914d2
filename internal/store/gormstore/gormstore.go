package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/couponvault/couponvault/pkg/coupon"
	"github.com/couponvault/couponvault/pkg/fieldcrypt"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectCoupon    = "coupon"
	errorSubjectLedger    = "ledger"
	errorSubjectCompany   = "company"
	errorCodeExists       = "exists"
	errorCodeInsert       = "insert"
	errorCodeGet          = "get"
	errorCodeList         = "list"
	errorCodeUpdate       = "update"
	errorCodeDelete       = "delete"
	errorCodeUpsert       = "upsert"
	errorCodeAddUsed      = "add_used_value"
	errorCodeInvalid      = "invalid"
	errorCodeDuplicate    = "duplicate"

	expirationLayout = "2006-01-02"
)

// Store implements coupon.Store using GORM. Sensitive fields are encrypted on
// every write and decrypted on every read, so callers only ever see
// plaintext.
type Store struct {
	db     *gorm.DB
	cipher *fieldcrypt.Cipher
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB, cipher *fieldcrypt.Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// CouponExists reports whether a coupon id is already taken.
func (store *Store) CouponExists(ctx context.Context, id coupon.CouponID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CouponRecord{}).
		Where("id = ?", id.Int64()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectCoupon, errorCodeExists, err)
	}
	return count > 0, nil
}

// InsertCoupon persists a coupon row. A unique violation on the allocated id
// maps to ErrCouponIDTaken so the caller can re-allocate.
func (store *Store) InsertCoupon(ctx context.Context, record coupon.Coupon) (coupon.Coupon, error) {
	model, err := store.toRecord(record)
	if err != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeDuplicate, coupon.ErrCouponIDTaken)
	}
	if err != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInsert, err)
	}
	return store.mapCoupon(model)
}

// GetCoupon fetches one coupon with sensitive fields decrypted.
func (store *Store) GetCoupon(ctx context.Context, id coupon.CouponID) (coupon.Coupon, error) {
	var model CouponRecord
	err := store.db.WithContext(ctx).
		Where("id = ?", id.Int64()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, coupon.ErrCouponNotFound)
		}
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, err)
	}
	return store.mapCoupon(model)
}

// ListCoupons returns all coupons owned by one user, newest first.
func (store *Store) ListCoupons(ctx context.Context, userID coupon.UserID) ([]coupon.Coupon, error) {
	var models []CouponRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("date_added DESC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCoupon, errorCodeList, err)
	}
	records := make([]coupon.Coupon, 0, len(models))
	for _, model := range models {
		record, err := store.mapCoupon(model)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// UpdateCoupon applies the populated patch fields. Sensitive fields are
// encrypted before the write.
func (store *Store) UpdateCoupon(ctx context.Context, id coupon.CouponID, patch coupon.Patch) error {
	updates, err := store.patchColumns(patch)
	if err != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	if len(updates) == 0 {
		return wrapStoreError(errorSubjectCoupon, errorCodeInvalid, coupon.ErrEmptyPatch)
	}
	var model CouponRecord
	takeErr := store.db.WithContext(ctx).
		Where("id = ?", id.Int64()).
		Take(&model).Error
	if takeErr != nil {
		if errors.Is(takeErr, gorm.ErrRecordNotFound) {
			return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, coupon.ErrCouponNotFound)
		}
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, takeErr)
	}
	err = store.db.WithContext(ctx).
		Model(&CouponRecord{}).
		Where("id = ?", id.Int64()).
		Updates(updates).Error
	if err != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeUpdate, err)
	}
	return nil
}

// DeleteCoupon removes the coupon row only; ledger rows stay behind.
func (store *Store) DeleteCoupon(ctx context.Context, id coupon.CouponID) error {
	result := store.db.WithContext(ctx).
		Where("id = ?", id.Int64()).
		Delete(&CouponRecord{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCoupon, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCoupon, errorCodeDelete, coupon.ErrCouponNotFound)
	}
	return nil
}

// AddUsedValue increments the consumed value in a single guarded statement so
// concurrent usage reports cannot lose an increment, then returns the updated
// coupon.
func (store *Store) AddUsedValue(ctx context.Context, id coupon.CouponID, amount decimal.Decimal) (coupon.Coupon, error) {
	result := store.db.WithContext(ctx).
		Model(&CouponRecord{}).
		Where("id = ?", id.Int64()).
		UpdateColumn("used_value", gorm.Expr("used_value + ?", amount))
	if result.Error != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeAddUsed, result.Error)
	}
	if result.RowsAffected == 0 {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeAddUsed, coupon.ErrCouponNotFound)
	}
	return store.GetCoupon(ctx, id)
}

// UpsertInitialRecharge updates the singular initial recharge row for the
// coupon, inserting it when absent. Singularity is client convention: the
// reserved reference token is queried before writing.
func (store *Store) UpsertInitialRecharge(ctx context.Context, id coupon.CouponID, amount decimal.Decimal, details string) error {
	var existing TransactionRecord
	err := store.db.WithContext(ctx).
		Where("coupon_id = ? AND reference = ?", id.Int64(), coupon.ReferenceManualEntry).
		Take(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectLedger, errorCodeUpsert, err)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := TransactionRecord{
			CouponID:  id.Int64(),
			Kind:      coupon.KindRecharge.String(),
			Amount:    amount,
			Details:   details,
			Reference: coupon.ReferenceManualEntry,
			CreatedAt: time.Now().UTC(),
		}
		if createErr := store.db.WithContext(ctx).Create(&row).Error; createErr != nil {
			return wrapStoreError(errorSubjectLedger, errorCodeUpsert, createErr)
		}
		return nil
	}
	updateErr := store.db.WithContext(ctx).
		Model(&TransactionRecord{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"amount": amount, "details": details}).Error
	if updateErr != nil {
		return wrapStoreError(errorSubjectLedger, errorCodeUpsert, updateErr)
	}
	return nil
}

// InsertTransaction appends an immutable ledger row.
func (store *Store) InsertTransaction(ctx context.Context, transaction coupon.Transaction) error {
	row := TransactionRecord{
		CouponID:  transaction.CouponID.Int64(),
		Kind:      transaction.Kind.String(),
		Amount:    transaction.Amount,
		Details:   transaction.Details,
		Reference: transaction.Reference,
		CreatedAt: transaction.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectLedger, errorCodeInsert, err)
	}
	return nil
}

// ListTransactions returns all ledger rows for one coupon, time-descending,
// in a single query.
func (store *Store) ListTransactions(ctx context.Context, id coupon.CouponID) ([]coupon.Transaction, error) {
	var rows []TransactionRecord
	err := store.db.WithContext(ctx).
		Where("coupon_id = ?", id.Int64()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLedger, errorCodeList, err)
	}
	transactions := make([]coupon.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectLedger, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// ListCompanies returns the canonical merchant list.
func (store *Store) ListCompanies(ctx context.Context) ([]coupon.Company, error) {
	var rows []CompanyRecord
	err := store.db.WithContext(ctx).
		Order("name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCompany, errorCodeList, err)
	}
	companies := make([]coupon.Company, 0, len(rows))
	for _, row := range rows {
		companies = append(companies, coupon.Company{
			ID:         row.ID,
			Name:       row.Name,
			ImagePath:  row.ImagePath,
			UsageCount: row.UsageCount,
		})
	}
	return companies, nil
}

func (store *Store) toRecord(record coupon.Coupon) (CouponRecord, error) {
	expiration, err := expirationToDate(record.Expiration)
	if err != nil {
		return CouponRecord{}, err
	}
	return CouponRecord{
		ID:            record.ID.Int64(),
		UserID:        record.UserID.String(),
		Company:       record.Company,
		Code:          store.cipher.Encrypt(record.Code),
		Description:   store.cipher.Encrypt(record.Description),
		CVV:           store.cipher.Encrypt(record.CVV),
		CardExp:       store.cipher.Encrypt(record.CardExp),
		Value:         record.Value,
		Cost:          record.Cost,
		UsedValue:     record.UsedValue,
		Status:        record.Status.String(),
		IsForSale:     record.IsForSale,
		ExcludeSaving: record.ExcludeSaving,
		IsOneTime:     record.IsOneTime,
		IsAvailable:   record.IsAvailable,
		BuyMeURL:      store.cipher.Encrypt(record.BuyMeURL),
		StraussURL:    store.cipher.Encrypt(record.StraussURL),
		XtraURL:       store.cipher.Encrypt(record.XtraURL),
		XGiftCardURL:  store.cipher.Encrypt(record.XGiftCardURL),
		Expiration:    expiration,
		DateAdded:     record.DateAdded,
	}, nil
}

func (store *Store) mapCoupon(model CouponRecord) (coupon.Coupon, error) {
	id, err := coupon.NewCouponID(model.ID)
	if err != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	userID, err := coupon.NewUserID(model.UserID)
	if err != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	status, err := coupon.ParseStatus(model.Status)
	if err != nil {
		return coupon.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	return coupon.Coupon{
		ID:            id,
		UserID:        userID,
		Company:       model.Company,
		Code:          store.cipher.Decrypt(model.Code),
		Description:   store.cipher.Decrypt(model.Description),
		CVV:           store.cipher.Decrypt(model.CVV),
		CardExp:       store.cipher.Decrypt(model.CardExp),
		Value:         model.Value,
		Cost:          model.Cost,
		UsedValue:     model.UsedValue,
		Status:        status,
		IsForSale:     model.IsForSale,
		ExcludeSaving: model.ExcludeSaving,
		IsOneTime:     model.IsOneTime,
		IsAvailable:   model.IsAvailable,
		BuyMeURL:      store.cipher.Decrypt(model.BuyMeURL),
		StraussURL:    store.cipher.Decrypt(model.StraussURL),
		XtraURL:       store.cipher.Decrypt(model.XtraURL),
		XGiftCardURL:  store.cipher.Decrypt(model.XGiftCardURL),
		Expiration:    dateToExpiration(model.Expiration),
		DateAdded:     model.DateAdded,
	}, nil
}

func (store *Store) patchColumns(patch coupon.Patch) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	if patch.Company != nil {
		updates["company"] = *patch.Company
	}
	if patch.Code != nil {
		updates["code"] = store.cipher.Encrypt(*patch.Code)
	}
	if patch.Description != nil {
		updates["description"] = store.cipher.Encrypt(*patch.Description)
	}
	if patch.CVV != nil {
		updates["cvv"] = store.cipher.Encrypt(*patch.CVV)
	}
	if patch.CardExp != nil {
		updates["card_exp"] = store.cipher.Encrypt(*patch.CardExp)
	}
	if patch.Value != nil {
		updates["value"] = *patch.Value
	}
	if patch.Cost != nil {
		updates["cost"] = *patch.Cost
	}
	if patch.Status != nil {
		updates["status"] = patch.Status.String()
	}
	if patch.IsForSale != nil {
		updates["is_for_sale"] = *patch.IsForSale
	}
	if patch.ExcludeSaving != nil {
		updates["exclude_saving"] = *patch.ExcludeSaving
	}
	if patch.IsOneTime != nil {
		updates["is_one_time"] = *patch.IsOneTime
	}
	if patch.IsAvailable != nil {
		updates["is_available"] = *patch.IsAvailable
	}
	if patch.BuyMeURL != nil {
		updates["buy_me_url"] = store.cipher.Encrypt(*patch.BuyMeURL)
	}
	if patch.StraussURL != nil {
		updates["strauss_url"] = store.cipher.Encrypt(*patch.StraussURL)
	}
	if patch.XtraURL != nil {
		updates["xtra_url"] = store.cipher.Encrypt(*patch.XtraURL)
	}
	if patch.XGiftCardURL != nil {
		updates["x_gift_card_url"] = store.cipher.Encrypt(*patch.XGiftCardURL)
	}
	if patch.Expiration != nil {
		expiration, err := expirationToDate(*patch.Expiration)
		if err != nil {
			return nil, err
		}
		updates["expiration"] = expiration
	}
	return updates, nil
}

func mapTransaction(row TransactionRecord) (coupon.Transaction, error) {
	couponID, err := coupon.NewCouponID(row.CouponID)
	if err != nil {
		return coupon.Transaction{}, err
	}
	kind, err := coupon.ParseTransactionKind(row.Kind)
	if err != nil {
		return coupon.Transaction{}, err
	}
	return coupon.Transaction{
		ID:        row.ID,
		CouponID:  couponID,
		Kind:      kind,
		Amount:    row.Amount,
		Details:   row.Details,
		Reference: row.Reference,
		CreatedAt: row.CreatedAt,
	}, nil
}

func expirationToDate(expiration string) (*datatypes.Date, error) {
	if expiration == "" {
		return nil, nil
	}
	parsed, err := time.Parse(expirationLayout, expiration)
	if err != nil {
		return nil, err
	}
	date := datatypes.Date(parsed)
	return &date, nil
}

func dateToExpiration(date *datatypes.Date) string {
	if date == nil {
		return ""
	}
	return time.Time(*date).Format(expirationLayout)
}

func wrapStoreError(subject string, code string, err error) error {
	return coupon.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
