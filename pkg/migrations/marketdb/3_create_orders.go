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
		log.Println("creating orders table...")
		if err := mghelper.CreateSchema(ctx, db, &marketstore.OrderDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &marketstore.OrderDao{},
			"listing_id", "buyer_address", "status")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping orders table...")
		if err := mghelper.DropModelIndexes(ctx, db, &marketstore.OrderDao{},
			"listing_id", "buyer_address", "status"); err != nil {
			return err
		}
		return mghelper.DropTables(ctx, db, &marketstore.OrderDao{})
	})
}
