package marketstore

import (
	"math/big"
	"time"

	"github.com/uptrace/bun"

	"github.com/gridwatt/market-indexer/pkg/market"
)

// AccountDao is a data access object that maps directly to the 'accounts' table in PostgreSQL.
type AccountDao struct {
	bun.BaseModel       `bun:"table:accounts,alias:a"`
	Address             string    `bun:"address,pk,type:varchar(42)"`
	Role                string    `bun:"role,notnull,type:varchar(16)"`
	TotalEnergyProduced string    `bun:"total_energy_produced,notnull,type:numeric(38,0)"`
	TotalEnergySold     string    `bun:"total_energy_sold,notnull,type:numeric(38,0)"`
	TotalEnergyBought   string    `bun:"total_energy_bought,notnull,type:numeric(38,0)"`
	ReputationScore     int       `bun:"reputation_score,notnull"`
	CreatedAt           time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// ListingDao is a data access object that maps directly to the 'listings' table in PostgreSQL.
type ListingDao struct {
	bun.BaseModel   `bun:"table:listings,alias:l"`
	ListingID       uint64    `bun:"listing_id,pk"`
	SellerAddress   string    `bun:"seller_address,notnull,type:varchar(42)"`
	TokenID         uint64    `bun:"token_id,notnull"`
	KWhAmount       string    `bun:"kwh_amount,notnull,type:numeric(38,0)"`
	RemainingAmount string    `bun:"remaining_amount,notnull,type:numeric(38,0)"`
	PricePerKwh     string    `bun:"price_per_kwh,notnull,type:numeric(38,0)"`
	GridZone        uint64    `bun:"grid_zone,notnull"`
	IsActive        bool      `bun:"is_active,notnull"`
	ExpiresAt       time.Time `bun:"expires_at,notnull"`
	TxHash          string    `bun:"tx_hash,notnull,type:varchar(66)"`
	CreatedAt       time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// OrderDao is a data access object that maps directly to the 'orders' table in PostgreSQL.
type OrderDao struct {
	bun.BaseModel `bun:"table:orders,alias:o"`
	OrderID       uint64     `bun:"order_id,pk"`
	ListingID     uint64     `bun:"listing_id,notnull"`
	BuyerAddress  string     `bun:"buyer_address,notnull,type:varchar(42)"`
	SellerAddress string     `bun:"seller_address,notnull,type:varchar(42)"`
	KWhAmount     string     `bun:"kwh_amount,notnull,type:numeric(38,0)"`
	PricePerKwh   string     `bun:"price_per_kwh,notnull,type:numeric(38,0)"`
	TotalPrice    string     `bun:"total_price,notnull,type:numeric(38,0)"`
	PlatformFee   string     `bun:"platform_fee,notnull,type:numeric(38,0)"`
	Status        string     `bun:"status,notnull,type:varchar(16)"`
	TxHash        string     `bun:"tx_hash,notnull,type:varchar(66)"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	CompletedAt   *time.Time `bun:"completed_at"`
}

// CheckpointDao maps to the singleton 'chain_checkpoint' row.
type CheckpointDao struct {
	bun.BaseModel      `bun:"table:chain_checkpoint,alias:cp"`
	ID                 int       `bun:"id,pk"`
	LastProcessedBlock uint64    `bun:"last_processed_block,notnull"`
	EventsProcessed    int64     `bun:"events_processed,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// GridZoneDao maps to the read-only 'grid_zones' reference table.
type GridZoneDao struct {
	bun.BaseModel    `bun:"table:grid_zones,alias:z"`
	ZoneID           uint64  `bun:"zone_id,pk"`
	Name             string  `bun:"name,notnull,type:varchar(100)"`
	City             string  `bun:"city,type:varchar(100)"`
	State            string  `bun:"state,type:varchar(100)"`
	Country          string  `bun:"country,type:varchar(100)"`
	CenterLat        float64 `bun:"center_lat"`
	CenterLng        float64 `bun:"center_lng"`
	RadiusKm         float64 `bun:"radius_km"`
	BasePricePerKwh  string  `bun:"base_price_per_kwh,type:numeric(12,2)"`
	DemandMultiplier float64 `bun:"demand_multiplier"`
}

// ToGridZoneDao converts reference data for seeding, used by migrations.
func ToGridZoneDao(z *market.GridZone) *GridZoneDao {
	return &GridZoneDao{
		ZoneID:           z.ZoneID,
		Name:             z.Name,
		City:             z.City,
		State:            z.State,
		Country:          z.Country,
		CenterLat:        z.CenterLat,
		CenterLng:        z.CenterLng,
		RadiusKm:         z.RadiusKm,
		BasePricePerKwh:  z.BasePricePerKwh,
		DemandMultiplier: z.DemandMultiplier,
	}
}

func toGridZone(dao *GridZoneDao) *market.GridZone {
	return &market.GridZone{
		ZoneID:           dao.ZoneID,
		Name:             dao.Name,
		City:             dao.City,
		State:            dao.State,
		Country:          dao.Country,
		CenterLat:        dao.CenterLat,
		CenterLng:        dao.CenterLng,
		RadiusKm:         dao.RadiusKm,
		BasePricePerKwh:  dao.BasePricePerKwh,
		DemandMultiplier: dao.DemandMultiplier,
	}
}

// numericToBig parses a NUMERIC(38,0) column value. Stored values are
// written by bigToNumeric so a parse failure means a corrupted row.
func numericToBig(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func bigToNumeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toAccountDao(acc *market.Account) *AccountDao {
	return &AccountDao{
		Address:             acc.Address,
		Role:                string(acc.Role),
		TotalEnergyProduced: bigToNumeric(acc.TotalEnergyProduced),
		TotalEnergySold:     bigToNumeric(acc.TotalEnergySold),
		TotalEnergyBought:   bigToNumeric(acc.TotalEnergyBought),
		ReputationScore:     acc.ReputationScore,
		CreatedAt:           acc.CreatedAt,
	}
}

func toAccount(dao *AccountDao) *market.Account {
	return &market.Account{
		Address:             dao.Address,
		Role:                market.Role(dao.Role),
		TotalEnergyProduced: numericToBig(dao.TotalEnergyProduced),
		TotalEnergySold:     numericToBig(dao.TotalEnergySold),
		TotalEnergyBought:   numericToBig(dao.TotalEnergyBought),
		ReputationScore:     dao.ReputationScore,
		CreatedAt:           dao.CreatedAt,
	}
}

func toListingDao(l *market.Listing) *ListingDao {
	return &ListingDao{
		ListingID:       l.ListingID,
		SellerAddress:   l.SellerAddress,
		TokenID:         l.TokenID,
		KWhAmount:       bigToNumeric(l.KWhAmount),
		RemainingAmount: bigToNumeric(l.RemainingAmount),
		PricePerKwh:     bigToNumeric(l.PricePerKwh),
		GridZone:        l.GridZone,
		IsActive:        l.IsActive,
		ExpiresAt:       l.ExpiresAt,
		TxHash:          l.TxHash,
		CreatedAt:       l.CreatedAt,
	}
}

func toListing(dao *ListingDao) *market.Listing {
	return &market.Listing{
		ListingID:       dao.ListingID,
		SellerAddress:   dao.SellerAddress,
		TokenID:         dao.TokenID,
		KWhAmount:       numericToBig(dao.KWhAmount),
		RemainingAmount: numericToBig(dao.RemainingAmount),
		PricePerKwh:     numericToBig(dao.PricePerKwh),
		GridZone:        dao.GridZone,
		IsActive:        dao.IsActive,
		ExpiresAt:       dao.ExpiresAt,
		TxHash:          dao.TxHash,
		CreatedAt:       dao.CreatedAt,
	}
}

func toOrderDao(o *market.Order) *OrderDao {
	return &OrderDao{
		OrderID:       o.OrderID,
		ListingID:     o.ListingID,
		BuyerAddress:  o.BuyerAddress,
		SellerAddress: o.SellerAddress,
		KWhAmount:     bigToNumeric(o.KWhAmount),
		PricePerKwh:   bigToNumeric(o.PricePerKwh),
		TotalPrice:    bigToNumeric(o.TotalPrice),
		PlatformFee:   bigToNumeric(o.PlatformFee),
		Status:        string(o.Status),
		TxHash:        o.TxHash,
		CreatedAt:     o.CreatedAt,
		CompletedAt:   o.CompletedAt,
	}
}

func toOrder(dao *OrderDao) *market.Order {
	return &market.Order{
		OrderID:       dao.OrderID,
		ListingID:     dao.ListingID,
		BuyerAddress:  dao.BuyerAddress,
		SellerAddress: dao.SellerAddress,
		KWhAmount:     numericToBig(dao.KWhAmount),
		PricePerKwh:   numericToBig(dao.PricePerKwh),
		TotalPrice:    numericToBig(dao.TotalPrice),
		PlatformFee:   numericToBig(dao.PlatformFee),
		Status:        market.OrderStatus(dao.Status),
		TxHash:        dao.TxHash,
		CreatedAt:     dao.CreatedAt,
		CompletedAt:   dao.CompletedAt,
	}
}

func toCheckpoint(dao *CheckpointDao) *market.Checkpoint {
	return &market.Checkpoint{
		LastProcessedBlock: dao.LastProcessedBlock,
		EventsProcessed:    dao.EventsProcessed,
		UpdatedAt:          dao.UpdatedAt,
	}
}
