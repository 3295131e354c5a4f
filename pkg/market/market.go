// Package market defines the domain entities mirrored from the on-chain
// energy-credit marketplace. The chain remains the source of truth; these
// types describe the reconciled off-chain view.
package market

import (
	"math/big"
	"strings"
	"time"
)

// Role classifies how an account participates in the marketplace.
type Role string

const (
	RoleProducer Role = "PRODUCER"
	RoleConsumer Role = "CONSUMER"
	RoleBoth     Role = "BOTH"
)

// Merge returns the role resulting from observing addition on top of current.
// Roles are only ever widened, never downgraded.
func (r Role) Merge(addition Role) Role {
	if r == "" {
		return addition
	}
	if r == addition || r == RoleBoth {
		return r
	}
	return RoleBoth
}

// OrderStatus represents the lifecycle state of a purchase order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderDisputed  OrderStatus = "DISPUTED"
	OrderRefunded  OrderStatus = "REFUNDED"
)

// Terminal reports whether no further transitions are allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderRefunded
}

// CanComplete reports whether an order in status s may transition to COMPLETED.
func (s OrderStatus) CanComplete() bool {
	return s == OrderPending || s == OrderDelivered
}

// NormalizeAddress lowercases a chain address so lookups are case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(addr)
}

// Account is a chain address seen producing or consuming energy credits.
// Accounts are created lazily on first sight and never deleted.
type Account struct {
	Address             string
	Role                Role
	TotalEnergyProduced *big.Int
	TotalEnergySold     *big.Int
	TotalEnergyBought   *big.Int
	ReputationScore     int
	CreatedAt           time.Time
}

// Listing mirrors one on-chain sell order. Cancellation and expiry flip
// IsActive; rows are never removed so historical queries keep working.
type Listing struct {
	ListingID       uint64
	SellerAddress   string
	TokenID         uint64
	KWhAmount       *big.Int
	RemainingAmount *big.Int
	PricePerKwh     *big.Int
	GridZone        uint64
	IsActive        bool
	ExpiresAt       time.Time
	TxHash          string
	CreatedAt       time.Time
}

// Depleted reports whether the listing has no remaining energy to sell.
func (l *Listing) Depleted() bool {
	return l.RemainingAmount == nil || l.RemainingAmount.Sign() <= 0
}

// ActiveAt re-derives activity against wall-clock time. The stored IsActive
// flag is advisory; block-driven updates lag real time.
func (l *Listing) ActiveAt(now time.Time) bool {
	return l.IsActive && l.ExpiresAt.After(now)
}

// Order mirrors one on-chain purchase. Seller and price are frozen from the
// listing at creation time and never re-derived.
type Order struct {
	OrderID       uint64
	ListingID     uint64
	BuyerAddress  string
	SellerAddress string
	KWhAmount     *big.Int
	PricePerKwh   *big.Int
	TotalPrice    *big.Int
	PlatformFee   *big.Int
	Status        OrderStatus
	TxHash        string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Checkpoint is the singleton durable cursor of the indexer: the highest
// block whose events have been fully reconciled. It only ever moves forward.
type Checkpoint struct {
	LastProcessedBlock uint64
	EventsProcessed    int64
	UpdatedAt          time.Time
}

// GridZone is static reference data describing a geographic tariff partition.
// It is loaded from configuration and read-only from the indexer's view.
type GridZone struct {
	ZoneID           uint64  `yaml:"zone_id" validate:"required"`
	Name             string  `yaml:"name" validate:"required"`
	City             string  `yaml:"city"`
	State            string  `yaml:"state"`
	Country          string  `yaml:"country"`
	CenterLat        float64 `yaml:"center_lat"`
	CenterLng        float64 `yaml:"center_lng"`
	RadiusKm         float64 `yaml:"radius_km"`
	BasePricePerKwh  string  `yaml:"base_price_per_kwh"`
	DemandMultiplier float64 `yaml:"demand_multiplier"`
}

// ZoneAggregate summarizes the active listings of one grid zone.
type ZoneAggregate struct {
	Zone         uint64
	ListingCount int
	TotalEnergy  *big.Int
	AvgPrice     *big.Int
}
