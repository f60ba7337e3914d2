package companies

import (
	"context"
	"errors"
	"testing"

	"github.com/couponvault/couponvault/pkg/coupon"
)

type stubSource struct {
	companies []coupon.Company
	err       error
	calls     int
}

func (source *stubSource) ListCompanies(ctx context.Context) ([]coupon.Company, error) {
	source.calls++
	if source.err != nil {
		return nil, source.err
	}
	return source.companies, nil
}

func TestCompaniesLoadsOnceAndCaches(test *testing.T) {
	test.Parallel()
	source := &stubSource{companies: []coupon.Company{{ID: 1, Name: "BuyMe"}}}
	catalog, err := NewCatalog(source)
	if err != nil {
		test.Fatalf("new catalog: %v", err)
	}

	for round := 0; round < 3; round++ {
		companies, err := catalog.Companies(context.Background())
		if err != nil {
			test.Fatalf("companies round %d: %v", round, err)
		}
		if len(companies) != 1 || companies[0].Name != "BuyMe" {
			test.Fatalf("unexpected companies %v", companies)
		}
	}
	if source.calls != 1 {
		test.Fatalf("expected single source load, got %d", source.calls)
	}
}

func TestCompaniesPropagatesLoadFailureWithoutCaching(test *testing.T) {
	test.Parallel()
	source := &stubSource{err: errors.New("database down")}
	catalog, err := NewCatalog(source)
	if err != nil {
		test.Fatalf("new catalog: %v", err)
	}

	if _, err := catalog.Companies(context.Background()); err == nil {
		test.Fatalf("expected load failure")
	}
	source.err = nil
	source.companies = []coupon.Company{{ID: 2, Name: "Shufersal"}}
	companies, err := catalog.Companies(context.Background())
	if err != nil {
		test.Fatalf("companies after recovery: %v", err)
	}
	if len(companies) != 1 {
		test.Fatalf("expected recovered load, got %v", companies)
	}
}

func TestRefreshReplacesCachedList(test *testing.T) {
	test.Parallel()
	source := &stubSource{companies: []coupon.Company{{ID: 1, Name: "BuyMe"}}}
	catalog, err := NewCatalog(source)
	if err != nil {
		test.Fatalf("new catalog: %v", err)
	}
	if _, err := catalog.Companies(context.Background()); err != nil {
		test.Fatalf("initial load: %v", err)
	}

	source.companies = []coupon.Company{{ID: 1, Name: "BuyMe"}, {ID: 2, Name: "Fox"}}
	if err := catalog.Refresh(context.Background()); err != nil {
		test.Fatalf("refresh: %v", err)
	}
	companies, err := catalog.Companies(context.Background())
	if err != nil {
		test.Fatalf("companies after refresh: %v", err)
	}
	if len(companies) != 2 {
		test.Fatalf("expected refreshed list of 2, got %v", companies)
	}
}

func TestNewCatalogRejectsNilSource(test *testing.T) {
	test.Parallel()
	if _, err := NewCatalog(nil); err == nil {
		test.Fatalf("expected error for nil source")
	}
}
