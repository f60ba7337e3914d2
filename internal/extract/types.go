package extract

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Errors surfaced by the extraction gateway.
var (
	// ErrRateLimited marks an HTTP 429; the only transient-and-retriable
	// failure at this layer.
	ErrRateLimited = errors.New("extraction service rate limited")
	// ErrAuthentication marks an HTTP 401; fatal, never retried.
	ErrAuthentication = errors.New("extraction service authentication failed")
	// ErrDecode marks an unparseable service response.
	ErrDecode = errors.New("extraction response decode failed")
	// ErrEmptyCompletion marks a well-formed envelope with no content.
	ErrEmptyCompletion = errors.New("extraction completion empty")
)

// HTTPStatusError is a non-2xx response other than 429/401, carrying the
// status code and, where parseable, the server-provided message.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

// Error returns the formatted message.
func (statusError *HTTPStatusError) Error() string {
	if statusError.Message == "" {
		return fmt.Sprintf("extraction service returned status %d", statusError.StatusCode)
	}
	return fmt.Sprintf("extraction service returned status %d: %s", statusError.StatusCode, statusError.Message)
}

// Draft is the ephemeral structured result of an AI extraction, reconciled
// against the canonical company list before review. Never persisted directly.
type Draft struct {
	Code                string          `json:"code"`
	Description         string          `json:"description"`
	Value               decimal.Decimal `json:"value"`
	Cost                decimal.Decimal `json:"cost"`
	Company             string          `json:"company"`
	Expiration          string          `json:"expiration"`
	Source              string          `json:"source"`
	BuyMeURL            string          `json:"buyme_url"`
	StraussURL          string          `json:"strauss_url"`
	XtraURL             string          `json:"xtra_url"`
	XGiftCardURL        string          `json:"xgiftcard_url"`
	AutoDownloadDetails string          `json:"auto_download_details"`
}
