// Package companies caches the canonical merchant list for a session. The
// list is read-mostly reference data owned by the backend; the reconciler
// matches detected names against it on every extraction.
package companies

import (
	"context"
	"fmt"
	"sync"

	"github.com/couponvault/couponvault/pkg/coupon"
)

// Source loads the canonical company list.
type Source interface {
	ListCompanies(ctx context.Context) ([]coupon.Company, error)
}

// Catalog lazily loads the company list once and serves it from memory until
// refreshed.
type Catalog struct {
	source Source

	mu        sync.RWMutex
	loaded    bool
	companies []coupon.Company
}

// NewCatalog wires a Catalog.
func NewCatalog(source Source) (*Catalog, error) {
	if source == nil {
		return nil, fmt.Errorf("companies: source dependency is nil")
	}
	return &Catalog{source: source}, nil
}

// Companies returns the cached list, loading it on first use.
func (catalog *Catalog) Companies(ctx context.Context) ([]coupon.Company, error) {
	catalog.mu.RLock()
	if catalog.loaded {
		cached := catalog.companies
		catalog.mu.RUnlock()
		return cached, nil
	}
	catalog.mu.RUnlock()
	return catalog.refresh(ctx)
}

// Refresh reloads the list from the source, replacing the cache.
func (catalog *Catalog) Refresh(ctx context.Context) error {
	_, err := catalog.refresh(ctx)
	return err
}

func (catalog *Catalog) refresh(ctx context.Context) ([]coupon.Company, error) {
	loaded, err := catalog.source.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("companies: load: %w", err)
	}
	catalog.mu.Lock()
	catalog.companies = loaded
	catalog.loaded = true
	catalog.mu.Unlock()
	return loaded, nil
}
