package marketdb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/gridwatt/market-indexer/pkg/marketstore"
	mghelper "github.com/gridwatt/market-indexer/pkg/pgutil/migrations"
	"github.com/gridwatt/market-indexer/pkg/zones"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating grid_zones table...")
		if err := mghelper.CreateSchema(ctx, db, &marketstore.GridZoneDao{}); err != nil {
			return err
		}
		for _, z := range zones.Default() {
			if err := mghelper.InsertEntry(ctx, db, marketstore.ToGridZoneDao(&z)); err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping grid_zones table...")
		return mghelper.DropTables(ctx, db, &marketstore.GridZoneDao{})
	})
}
