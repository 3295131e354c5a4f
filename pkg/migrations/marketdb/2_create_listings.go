package marketdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/gridwatt/market-indexer/pkg/marketstore"
	mghelper "github.com/gridwatt/market-indexer/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating listings table...")
		if err := mghelper.CreateSchema(ctx, db, &marketstore.ListingDao{}); err != nil {
			return err
		}
		// grid_zone and seller_address serve the query API filters,
		// is_active the lazy-expiry reads.
		return mghelper.CreateModelIndexes(ctx, db, &marketstore.ListingDao{},
			"grid_zone", "seller_address", "is_active")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping listings table...")
		if err := mghelper.DropModelIndexes(ctx, db, &marketstore.ListingDao{},
			"grid_zone", "seller_address", "is_active"); err != nil {
			return err
		}
		return mghelper.DropTables(ctx, db, &marketstore.ListingDao{})
	})
}
