package marketstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/gridwatt/market-indexer/pkg/market"
)

// pgOps implements Reader and Tx over a bun.IDB, so the same method set
// serves both direct reads and the transactional view inside RunBatch.
type pgOps struct {
	db bun.IDB
}

type pgStore struct {
	pgOps
	db *bun.DB
}

// NewStore creates a new postgres implementation of the market store.
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{pgOps: pgOps{db: db}, db: db}
}

func (s *pgStore) RunBatch(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &pgOps{db: tx})
	})
}

func (s *pgOps) GetAccount(ctx context.Context, address string) (*market.Account, error) {
	dao := new(AccountDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("address = ?", market.NormalizeAddress(address)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return toAccount(dao), nil
}

func (s *pgOps) GetListing(ctx context.Context, listingID uint64) (*market.Listing, error) {
	dao := new(ListingDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("listing_id = ?", listingID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return toListing(dao), nil
}

func (s *pgOps) GetOrder(ctx context.Context, orderID uint64) (*market.Order, error) {
	dao := new(OrderDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("order_id = ?", orderID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return toOrder(dao), nil
}

func (s *pgOps) ListListings(ctx context.Context, q ListingQuery) ([]*market.Listing, int, error) {
	var daos []ListingDao
	query := s.db.NewSelect().Model(&daos)

	if q.Zone != nil {
		query = query.Where("grid_zone = ?", *q.Zone)
	}
	if q.ActiveOnly {
		query = query.Where("is_active = TRUE").Where("expires_at > ?", q.Now)
	}

	query = query.Order("created_at DESC", "listing_id DESC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit).Offset(q.Offset())
	}

	total, err := query.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}

	listings := make([]*market.Listing, len(daos))
	for i := range daos {
		listings[i] = toListing(&daos[i])
	}
	return listings, total, nil
}

func (s *pgOps) ListOrdersByListing(ctx context.Context, listingID uint64) ([]*market.Order, error) {
	var daos []OrderDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("listing_id = ?", listingID).
		Order("order_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for listing %d: %w", listingID, err)
	}
	orders := make([]*market.Order, len(daos))
	for i := range daos {
		orders[i] = toOrder(&daos[i])
	}
	return orders, nil
}

func (s *pgOps) ZoneAggregates(ctx context.Context, now time.Time) ([]*market.ZoneAggregate, error) {
	var rows []struct {
		GridZone     uint64 `bun:"grid_zone"`
		ListingCount int    `bun:"listing_count"`
		TotalEnergy  string `bun:"total_energy"`
		AvgPrice     string `bun:"avg_price"`
	}

	err := s.db.NewSelect().
		Model((*ListingDao)(nil)).
		ColumnExpr("grid_zone").
		ColumnExpr("COUNT(*) AS listing_count").
		ColumnExpr("COALESCE(SUM(remaining_amount), 0)::text AS total_energy").
		ColumnExpr("COALESCE(FLOOR(AVG(price_per_kwh)), 0)::numeric(38,0)::text AS avg_price").
		Where("is_active = TRUE").
		Where("expires_at > ?", now).
		GroupExpr("grid_zone").
		OrderExpr("grid_zone ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate zones: %w", err)
	}

	aggs := make([]*market.ZoneAggregate, len(rows))
	for i, row := range rows {
		aggs[i] = &market.ZoneAggregate{
			Zone:         row.GridZone,
			ListingCount: row.ListingCount,
			TotalEnergy:  numericToBig(row.TotalEnergy),
			AvgPrice:     numericToBig(row.AvgPrice),
		}
	}
	return aggs, nil
}

func (s *pgOps) ListZones(ctx context.Context) ([]*market.GridZone, error) {
	var daos []GridZoneDao
	err := s.db.NewSelect().
		Model(&daos).
		Order("zone_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list grid zones: %w", err)
	}
	out := make([]*market.GridZone, len(daos))
	for i := range daos {
		out[i] = toGridZone(&daos[i])
	}
	return out, nil
}

func (s *pgOps) Checkpoint(ctx context.Context) (*market.Checkpoint, error) {
	dao := new(CheckpointDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = 1").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return toCheckpoint(dao), nil
}

func (s *pgOps) UpsertAccount(ctx context.Context, account *market.Account) error {
	dao := toAccountDao(account)
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (address) DO UPDATE").
		Set("role = EXCLUDED.role").
		Set("total_energy_produced = EXCLUDED.total_energy_produced").
		Set("total_energy_sold = EXCLUDED.total_energy_sold").
		Set("total_energy_bought = EXCLUDED.total_energy_bought").
		Set("reputation_score = EXCLUDED.reputation_score").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (s *pgOps) UpsertListing(ctx context.Context, listing *market.Listing) error {
	dao := toListingDao(listing)
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (listing_id) DO UPDATE").
		Set("remaining_amount = EXCLUDED.remaining_amount").
		Set("is_active = EXCLUDED.is_active").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

func (s *pgOps) CreateOrder(ctx context.Context, order *market.Order) error {
	dao := toOrderDao(order)
	// Replayed OrderCreated events must not reset an order that has already
	// advanced, so conflicts are ignored rather than updated.
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (order_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (s *pgOps) UpdateOrder(ctx context.Context, order *market.Order) error {
	dao := toOrderDao(order)
	_, err := s.db.NewUpdate().
		Model(dao).
		Column("status", "platform_fee", "completed_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func (s *pgOps) SetCheckpoint(ctx context.Context, cp *market.Checkpoint) error {
	// GREATEST keeps the cursor monotonic even if a stale writer races in.
	_, err := s.db.NewUpdate().
		Model((*CheckpointDao)(nil)).
		Set("last_processed_block = GREATEST(last_processed_block, ?)", cp.LastProcessedBlock).
		Set("events_processed = ?", cp.EventsProcessed).
		Set("updated_at = NOW()").
		Where("id = 1").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}
