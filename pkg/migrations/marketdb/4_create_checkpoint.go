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
		log.Println("creating chain_checkpoint table...")
		if err := mghelper.CreateSchema(ctx, db, &marketstore.CheckpointDao{}); err != nil {
			return err
		}
		// Singleton constraint: the cursor is always row id=1.
		_, err := db.ExecContext(ctx, "ALTER TABLE chain_checkpoint ADD CONSTRAINT singleton_check CHECK (id = 1)")
		if err != nil {
			return err
		}
		_, err = db.NewInsert().
			Model(&marketstore.CheckpointDao{
				ID:                 1,
				LastProcessedBlock: 0,
				EventsProcessed:    0,
			}).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping chain_checkpoint table...")
		return mghelper.DropTables(ctx, db, &marketstore.CheckpointDao{})
	})
}
