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
		log.Println("creating accounts table...")
		if err := mghelper.CreateSchema(ctx, db, &marketstore.AccountDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &marketstore.AccountDao{}, "role")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping accounts table...")
		if err := mghelper.DropModelIndexes(ctx, db, &marketstore.AccountDao{}, "role"); err != nil {
			return err
		}
		return mghelper.DropTables(ctx, db, &marketstore.AccountDao{})
	})
}
