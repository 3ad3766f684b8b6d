/**
 * @description
 * This package holds the in-memory package catalog. Packages are loaded once at
 * boot from the database and treated as immutable for the lifetime of the
 * process: minting validates against this snapshot, never against a mutable
 * runtime table.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/google/uuid: Package IDs.
 * - internal/domain: The Package model.
 */

package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sevasetu/coupon-service/internal/domain"
)

var (
	ErrPackageNotFound = errors.New("package not found or inactive")
	ErrAmountMismatch  = errors.New("paid amount does not match package price")
)

// Loader is the subset of the store the catalog needs at boot.
type Loader interface {
	ListPackages(ctx context.Context) ([]domain.Package, error)
}

// Catalog is an immutable snapshot of the purchasable coupon packages.
type Catalog struct {
	byID     map[uuid.UUID]domain.Package
	packages []domain.Package
}

// Load reads the active packages and builds the snapshot. A deployment with an
// empty catalog cannot mint anything, so that is a boot failure.
func Load(ctx context.Context, loader Loader) (*Catalog, error) {
	packages, err := loader.ListPackages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load package catalog: %w", err)
	}

	c := &Catalog{byID: make(map[uuid.UUID]domain.Package)}
	for _, p := range packages {
		if !p.Active {
			continue
		}
		c.byID[p.ID] = p
		c.packages = append(c.packages, p)
	}
	if len(c.packages) == 0 {
		return nil, errors.New("package catalog is empty")
	}
	return c, nil
}

// Get returns the active package with the given ID.
func (c *Catalog) Get(packageID uuid.UUID) (domain.Package, error) {
	p, ok := c.byID[packageID]
	if !ok {
		return domain.Package{}, ErrPackageNotFound
	}
	return p, nil
}

// ValidateAmount checks that a donor's paid amount covers exactly `quantity`
// coupons of the package. Mismatches are rejected rather than rounded.
func (c *Catalog) ValidateAmount(packageID uuid.UUID, quantity int, paid int64) (domain.Package, error) {
	p, err := c.Get(packageID)
	if err != nil {
		return domain.Package{}, err
	}
	expected := p.FaceAmount * int64(p.MaxUses) * int64(quantity)
	if paid != expected {
		return domain.Package{}, fmt.Errorf("%w: expected %d, got %d", ErrAmountMismatch, expected, paid)
	}
	return p, nil
}

// List returns the snapshot's packages in load order.
func (c *Catalog) List() []domain.Package {
	out := make([]domain.Package, len(c.packages))
	copy(out, c.packages)
	return out
}
