package resource

import (
	"context"
	"errors"
	"fmt"

	"custodia.org/internal/lifecycle"
)

// Demo returns the accounts and merchants that seeds/001_demo_resources.sql
// ships, so the in-memory development mode starts with the same data.
func Demo() []Resource {
	return []Resource{
		{ID: "01HDEMOACCOUNTPENDING0000", Kind: lifecycle.KindAccount, Status: lifecycle.AccountPending, DisplayName: "Demo Pending Holder", Email: "pending@demo.custodia.test"},
		{ID: "01HDEMOACCOUNTACTIVE00000", Kind: lifecycle.KindAccount, Status: lifecycle.AccountActive, DisplayName: "Demo Active Holder", Email: "active@demo.custodia.test"},
		{ID: "01HDEMOACCOUNTSUSPENDED00", Kind: lifecycle.KindAccount, Status: lifecycle.AccountSuspended, DisplayName: "Demo Suspended Holder", Email: "suspended@demo.custodia.test"},
		{ID: "01HDEMOMERCHANTPENDING000", Kind: lifecycle.KindMerchant, Status: lifecycle.MerchantPending, DisplayName: "Demo Bakery", Email: "bakery@demo.custodia.test"},
		{ID: "01HDEMOMERCHANTACTIVE0000", Kind: lifecycle.KindMerchant, Status: lifecycle.MerchantActive, DisplayName: "Demo Bookshop", Email: "books@demo.custodia.test"},
	}
}

// SeedDemo inserts Demo into repo. Rows that already exist are left alone.
func SeedDemo(ctx context.Context, repo Repository) (int, error) {
	var inserted int
	for _, r := range Demo() {
		_, err := repo.Insert(ctx, r)
		switch {
		case errors.Is(err, ErrConflict):
		case err != nil:
			return inserted, fmt.Errorf("seed %s %s: %w", r.Kind, r.ID, err)
		default:
			inserted++
		}
	}
	return inserted, nil
}
