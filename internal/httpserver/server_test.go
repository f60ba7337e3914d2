package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/couponvault/couponvault/internal/companies"
	"github.com/couponvault/couponvault/pkg/coupon"
)

type memoryStore struct {
	coupons              map[coupon.CouponID]coupon.Coupon
	transactions         []coupon.Transaction
	recharges            map[coupon.CouponID]coupon.Transaction
	companies            []coupon.Company
	insertTransactionErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		coupons:   map[coupon.CouponID]coupon.Coupon{},
		recharges: map[coupon.CouponID]coupon.Transaction{},
		companies: []coupon.Company{{ID: 1, Name: "BuyMe"}, {ID: 2, Name: "Shufersal"}},
	}
}

func (store *memoryStore) CouponExists(ctx context.Context, id coupon.CouponID) (bool, error) {
	_, ok := store.coupons[id]
	return ok, nil
}

func (store *memoryStore) InsertCoupon(ctx context.Context, record coupon.Coupon) (coupon.Coupon, error) {
	store.coupons[record.ID] = record
	return record, nil
}

func (store *memoryStore) GetCoupon(ctx context.Context, id coupon.CouponID) (coupon.Coupon, error) {
	record, ok := store.coupons[id]
	if !ok {
		return coupon.Coupon{}, coupon.ErrCouponNotFound
	}
	return record, nil
}

func (store *memoryStore) ListCoupons(ctx context.Context, userID coupon.UserID) ([]coupon.Coupon, error) {
	var records []coupon.Coupon
	for _, record := range store.coupons {
		if record.UserID == userID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (store *memoryStore) UpdateCoupon(ctx context.Context, id coupon.CouponID, patch coupon.Patch) error {
	record, ok := store.coupons[id]
	if !ok {
		return coupon.ErrCouponNotFound
	}
	if patch.Value != nil {
		record.Value = *patch.Value
	}
	if patch.Status != nil {
		record.Status = *patch.Status
	}
	if patch.Description != nil {
		record.Description = *patch.Description
	}
	store.coupons[id] = record
	return nil
}

func (store *memoryStore) DeleteCoupon(ctx context.Context, id coupon.CouponID) error {
	if _, ok := store.coupons[id]; !ok {
		return coupon.ErrCouponNotFound
	}
	delete(store.coupons, id)
	return nil
}

func (store *memoryStore) AddUsedValue(ctx context.Context, id coupon.CouponID, amount decimal.Decimal) (coupon.Coupon, error) {
	record, ok := store.coupons[id]
	if !ok {
		return coupon.Coupon{}, coupon.ErrCouponNotFound
	}
	record.UsedValue = record.UsedValue.Add(amount)
	store.coupons[id] = record
	return record, nil
}

func (store *memoryStore) UpsertInitialRecharge(ctx context.Context, id coupon.CouponID, amount decimal.Decimal, details string) error {
	store.recharges[id] = coupon.Transaction{
		CouponID:  id,
		Kind:      coupon.KindRecharge,
		Amount:    amount,
		Details:   details,
		Reference: coupon.ReferenceManualEntry,
	}
	return nil
}

func (store *memoryStore) InsertTransaction(ctx context.Context, transaction coupon.Transaction) error {
	if store.insertTransactionErr != nil {
		return store.insertTransactionErr
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *memoryStore) ListTransactions(ctx context.Context, id coupon.CouponID) ([]coupon.Transaction, error) {
	var matched []coupon.Transaction
	if recharge, ok := store.recharges[id]; ok {
		matched = append(matched, recharge)
	}
	for _, transaction := range store.transactions {
		if transaction.CouponID == id {
			matched = append(matched, transaction)
		}
	}
	return matched, nil
}

func (store *memoryStore) ListCompanies(ctx context.Context) ([]coupon.Company, error) {
	return store.companies, nil
}

func newTestRouter(test *testing.T, store *memoryStore) *gin.Engine {
	test.Helper()
	service, err := coupon.NewService(store, func() time.Time { return time.Unix(1700000000, 0).UTC() })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	catalog, err := companies.NewCatalog(store)
	if err != nil {
		test.Fatalf("new catalog: %v", err)
	}
	return NewRouter(Config{
		ListenAddr:     ":0",
		AllowedOrigins: []string{"http://localhost:8000"},
		RequestTimeout: 5 * time.Second,
	}, Deps{
		Service: service,
		Catalog: catalog,
		Logger:  zap.NewNop(),
	})
}

func performRequest(router *gin.Engine, method string, target string, userID string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		request.Header.Set("X-User-ID", userID)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func createTestCoupon(test *testing.T, router *gin.Engine, userID string) int64 {
	test.Helper()
	response := performRequest(router, http.MethodPost, "/api/coupons", userID, map[string]any{
		"company": "Shufersal",
		"value":   100,
	})
	if response.Code != http.StatusCreated {
		test.Fatalf("create coupon: status %d body %s", response.Code, response.Body.String())
	}
	var payload struct {
		Coupon struct {
			ID int64 `json:"id"`
		} `json:"coupon"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode create response: %v", err)
	}
	return payload.Coupon.ID
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, newMemoryStore())
	response := performRequest(router, http.MethodGet, "/healthz", "", nil)
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", response.Code)
	}
}

func TestAPIRequiresUserHeader(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, newMemoryStore())
	response := performRequest(router, http.MethodGet, "/api/wallet", "", nil)
	if response.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 without user header, got %d", response.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode error envelope: %v", err)
	}
	if payload.Error.Code != "missing_user" {
		test.Fatalf("expected missing_user code, got %q", payload.Error.Code)
	}
}

func TestCreateCouponReturnsDefaults(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)

	response := performRequest(router, http.MethodPost, "/api/coupons", "user-1", map[string]any{
		"company": "Shufersal",
		"value":   150,
	})
	if response.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		Coupon struct {
			ID             int64  `json:"id"`
			Status         string `json:"status"`
			RemainingValue string `json:"remaining_value"`
		} `json:"coupon"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if payload.Coupon.ID < 1000 || payload.Coupon.ID >= 10000 {
		test.Fatalf("expected allocated id in range, got %d", payload.Coupon.ID)
	}
	if payload.Coupon.Status != "active" {
		test.Fatalf("expected active status, got %q", payload.Coupon.Status)
	}
	if payload.Coupon.RemainingValue != "150" {
		test.Fatalf("expected remaining 150, got %q", payload.Coupon.RemainingValue)
	}
}

func TestCreateCouponRejectsMissingCompany(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, newMemoryStore())
	response := performRequest(router, http.MethodPost, "/api/coupons", "user-1", map[string]any{"value": 10})
	if response.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", response.Code)
	}
}

func TestGetMissingCouponReturns404(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, newMemoryStore())
	response := performRequest(router, http.MethodGet, "/api/coupons/4242", "user-1", nil)
	if response.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d", response.Code)
	}
}

func TestInvalidCouponIDReturns400(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, newMemoryStore())
	response := performRequest(router, http.MethodGet, "/api/coupons/not-a-number", "user-1", nil)
	if response.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", response.Code)
	}
}

func TestRecordUsageUpdatesCoupon(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)
	id := createTestCoupon(test, router, "user-2")

	response := performRequest(router, http.MethodPost, fmt.Sprintf("/api/coupons/%d/usages", id), "user-2", map[string]any{"amount": 30})
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		Coupon struct {
			UsedValue      string `json:"used_value"`
			RemainingValue string `json:"remaining_value"`
		} `json:"coupon"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if payload.Coupon.UsedValue != "30" || payload.Coupon.RemainingValue != "70" {
		test.Fatalf("unexpected balances: used %q remaining %q", payload.Coupon.UsedValue, payload.Coupon.RemainingValue)
	}
}

func TestRecordUsagePartialWriteStillSucceeds(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)
	id := createTestCoupon(test, router, "user-3")

	store.insertTransactionErr = errors.New("disk full")
	response := performRequest(router, http.MethodPost, fmt.Sprintf("/api/coupons/%d/usages", id), "user-3", map[string]any{"amount": 10})
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200 despite ledger append failure, got %d: %s", response.Code, response.Body.String())
	}
}

func TestPatchCouponRejectsUnknownStatus(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)
	id := createTestCoupon(test, router, "user-4")

	response := performRequest(router, http.MethodPatch, fmt.Sprintf("/api/coupons/%d", id), "user-4", map[string]any{"status": "archived"})
	if response.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 for unknown status, got %d", response.Code)
	}
}

func TestLedgerEndpointReturnsSignedRowsWithSummary(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)
	id := createTestCoupon(test, router, "user-5")
	usageTarget := fmt.Sprintf("/api/coupons/%d/usages", id)
	if response := performRequest(router, http.MethodPost, usageTarget, "user-5", map[string]any{"amount": 40}); response.Code != http.StatusOK {
		test.Fatalf("usage: %d", response.Code)
	}

	response := performRequest(router, http.MethodGet, fmt.Sprintf("/api/coupons/%d/ledger", id), "user-5", nil)
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", response.Code)
	}
	var payload struct {
		Rows []struct {
			Kind   string `json:"kind"`
			Amount string `json:"amount"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if len(payload.Rows) != 3 {
		test.Fatalf("expected recharge, usage, and summary rows, got %d", len(payload.Rows))
	}
	last := payload.Rows[len(payload.Rows)-1]
	if last.Kind != "summary" {
		test.Fatalf("expected trailing summary row, got %q", last.Kind)
	}
	if last.Amount != "60" {
		test.Fatalf("expected net balance 60, got %q", last.Amount)
	}
}

func TestWalletSumsCoupons(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)
	createTestCoupon(test, router, "wallet-user")
	createTestCoupon(test, router, "wallet-user")

	response := performRequest(router, http.MethodGet, "/api/wallet", "wallet-user", nil)
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", response.Code)
	}
	var payload struct {
		Total       string `json:"total"`
		CouponCount int    `json:"coupon_count"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if payload.Total != "200" {
		test.Fatalf("expected total 200, got %q", payload.Total)
	}
	if payload.CouponCount != 2 {
		test.Fatalf("expected 2 coupons, got %d", payload.CouponCount)
	}
}

func TestDeleteCoupon(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)
	id := createTestCoupon(test, router, "user-6")

	response := performRequest(router, http.MethodDelete, fmt.Sprintf("/api/coupons/%d", id), "user-6", nil)
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", response.Code)
	}
	response = performRequest(router, http.MethodGet, fmt.Sprintf("/api/coupons/%d", id), "user-6", nil)
	if response.Code != http.StatusNotFound {
		test.Fatalf("expected 404 after delete, got %d", response.Code)
	}
}

func TestCouponPayloadReportsExpiration(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)

	response := performRequest(router, http.MethodPost, "/api/coupons", "expiry-user", map[string]any{
		"company":    "Shufersal",
		"value":      50,
		"expiration": "2020-01-01",
	})
	if response.Code != http.StatusCreated {
		test.Fatalf("create: %d: %s", response.Code, response.Body.String())
	}
	var payload struct {
		Coupon struct {
			IsExpired bool `json:"is_expired"`
		} `json:"coupon"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if !payload.Coupon.IsExpired {
		test.Fatalf("expected past expiration to report is_expired")
	}

	response = performRequest(router, http.MethodPost, "/api/coupons", "expiry-user", map[string]any{
		"company": "Shufersal",
		"value":   50,
	})
	if response.Code != http.StatusCreated {
		test.Fatalf("create open-ended: %d", response.Code)
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if payload.Coupon.IsExpired {
		test.Fatalf("expected open-ended coupon to report not expired")
	}
}

func TestRefreshCompaniesReplacesCachedList(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	router := newTestRouter(test, store)

	var payload struct {
		Companies []struct {
			Name string `json:"Name"`
		} `json:"companies"`
	}
	response := performRequest(router, http.MethodGet, "/api/companies", "", nil)
	if response.Code != http.StatusOK {
		test.Fatalf("initial list: %d", response.Code)
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if len(payload.Companies) != 2 {
		test.Fatalf("expected 2 companies, got %d", len(payload.Companies))
	}

	store.companies = append(store.companies, coupon.Company{ID: 3, Name: "Fox"})
	response = performRequest(router, http.MethodGet, "/api/companies", "", nil)
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if len(payload.Companies) != 2 {
		test.Fatalf("expected cached list of 2 before refresh, got %d", len(payload.Companies))
	}

	response = performRequest(router, http.MethodPost, "/api/companies/refresh", "", nil)
	if response.Code != http.StatusOK {
		test.Fatalf("refresh: %d", response.Code)
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if len(payload.Companies) != 3 {
		test.Fatalf("expected refreshed list of 3, got %d", len(payload.Companies))
	}
}

func TestListCompanies(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, newMemoryStore())
	response := performRequest(router, http.MethodGet, "/api/companies", "", nil)
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", response.Code)
	}
	var payload struct {
		Companies []struct {
			Name string `json:"Name"`
		} `json:"companies"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode: %v", err)
	}
	if len(payload.Companies) != 2 {
		test.Fatalf("expected 2 companies, got %d", len(payload.Companies))
	}
}
