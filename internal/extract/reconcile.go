package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/couponvault/couponvault/pkg/coupon"
)

// CompanyBuyMe is the forced company token for partner redirect links.
// A strauss-group or buyme URL in the source is a stronger signal of the
// true redemption venue than any free-text company mention.
const CompanyBuyMe = "BUYME"

// Provider tags derived into AutoDownloadDetails.
const (
	ProviderMultipass = "multipass"
	ProviderBuyMe     = "buyme"
)

var (
	straussURLPattern = regexp.MustCompile(`https?://[^\s"'<>]*strauss-group\.com[^\s"'<>]*`)
	buymeURLPattern   = regexp.MustCompile(`https?://[^\s"'<>]*buyme\.co\.il[^\s"'<>]*`)
)

// autoDownloadProviders maps lowercased company-name substrings to the
// provider tag used for automatic detail download.
var autoDownloadProviders = []struct {
	substring string
	provider  string
}{
	{substring: "carrefour", provider: ProviderMultipass},
	{substring: "goodpharm", provider: ProviderMultipass},
	{substring: "buyme", provider: ProviderBuyMe},
}

// Reconcile normalizes an AI draft against the canonical company list.
// Partner-URL overrides run first, then company matching in precedence order
// exact, case-insensitive, normalized. The override looks at the source text
// and at the URL fields the extraction itself populated, so image-sourced
// coupons trigger it too. An unmatched detected name is kept verbatim so the
// user can still review it. Date strings pass through untouched whether or
// not they parse.
func Reconcile(sourceText string, draft Draft, companies []coupon.Company) Draft {
	reconciled := draft

	if match := findPartnerURL(straussURLPattern, sourceText, draft.StraussURL); match != "" {
		reconciled.Company = CompanyBuyMe
		reconciled.StraussURL = match
	} else if match := findPartnerURL(buymeURLPattern, sourceText, draft.BuyMeURL); match != "" {
		reconciled.Company = CompanyBuyMe
		reconciled.BuyMeURL = match
	} else if reconciled.Company != "" {
		if canonical, ok := matchCompany(reconciled.Company, companies); ok {
			reconciled.Company = canonical
		}
	}

	reconciled.AutoDownloadDetails = autoDownloadProvider(reconciled.Company)
	return reconciled
}

// findPartnerURL returns the first pattern match across the candidate
// strings. Draft URL fields are pattern-validated, never trusted verbatim.
func findPartnerURL(pattern *regexp.Regexp, candidates ...string) string {
	for _, candidate := range candidates {
		if match := pattern.FindString(candidate); match != "" {
			return match
		}
	}
	return ""
}

// matchCompany resolves a detected name to the canonical casing. First match
// wins at each precedence stage.
func matchCompany(detected string, companies []coupon.Company) (string, bool) {
	for _, company := range companies {
		if company.Name == detected {
			return company.Name, true
		}
	}
	for _, company := range companies {
		if strings.EqualFold(company.Name, detected) {
			return company.Name, true
		}
	}
	normalizedDetected := normalizeCompanyName(detected)
	if normalizedDetected == "" {
		return "", false
	}
	for _, company := range companies {
		if normalizeCompanyName(company.Name) == normalizedDetected {
			return company.Name, true
		}
	}
	return "", false
}

// normalizeCompanyName lowercases and strips whitespace and punctuation,
// keeping only letters and digits.
func normalizeCompanyName(name string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func autoDownloadProvider(company string) string {
	lowered := strings.ToLower(company)
	for _, mapping := range autoDownloadProviders {
		if strings.Contains(lowered, mapping.substring) {
			return mapping.provider
		}
	}
	return ""
}
