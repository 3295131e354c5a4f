// Package query serves read-only views over the mirror store. Display
// currency fields are derived per request through the injected rate source
// and never stored pre-converted.
package query

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gridwatt/market-indexer/pkg/app/errors"
	"github.com/gridwatt/market-indexer/pkg/market"
	"github.com/gridwatt/market-indexer/pkg/marketstore"
	"github.com/gridwatt/market-indexer/pkg/money"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Service answers marketplace read queries.
type Service struct {
	store    marketstore.Store
	rates    money.RateSource
	decimals uint
	zoneRefs []market.GridZone
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a query service. decimals is the display-currency
// minor-unit precision (2 for INR paise).
func NewService(store marketstore.Store, rates money.RateSource, decimals uint, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		rates:    rates,
		decimals: decimals,
		log:      logger.Named("query"),
		now:      time.Now,
	}
}

// UseZones overrides the zone reference data with an externally loaded set,
// typically from a zones file. Without it the seeded grid_zones table serves.
func (s *Service) UseZones(zs []market.GridZone) {
	s.zoneRefs = append([]market.GridZone(nil), zs...)
}

// ListingView is one listing as served over the read API. Prices are
// rendered both in the nominal chain unit and the display currency.
type ListingView struct {
	ListingID       uint64    `json:"listingId"`
	SellerAddress   string    `json:"sellerAddress"`
	TokenID         uint64    `json:"tokenId"`
	KWhAmount       string    `json:"kWhAmount"`
	RemainingAmount string    `json:"remainingAmount"`
	PricePerKwhWei  string    `json:"pricePerKwhWei"`
	PricePerKwhETH  string    `json:"pricePerKwhETH"`
	PricePerKwhFiat string    `json:"pricePerKwhFiat"`
	Currency        string    `json:"currency"`
	GridZone        uint64    `json:"gridZone"`
	IsActive        bool      `json:"isActive"`
	ExpiresAt       time.Time `json:"expiresAt"`
	TxHash          string    `json:"txHash"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Pagination describes one page of a collection response.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListingsPage is the response of the listings collection endpoint.
type ListingsPage struct {
	Listings   []ListingView `json:"listings"`
	Pagination Pagination    `json:"pagination"`
}

// SellerSummary is the account digest embedded in a listing detail.
type SellerSummary struct {
	Address             string `json:"address"`
	Role                string `json:"role"`
	TotalEnergyProduced string `json:"totalEnergyProduced"`
	TotalEnergySold     string `json:"totalEnergySold"`
	ReputationScore     int    `json:"reputationScore"`
}

// OrderView is one order as embedded in a listing detail.
type OrderView struct {
	OrderID        uint64     `json:"orderId"`
	BuyerAddress   string     `json:"buyerAddress"`
	KWhAmount      string     `json:"kWhAmount"`
	TotalPriceWei  string     `json:"totalPriceWei"`
	TotalPriceFiat string     `json:"totalPriceFiat"`
	PlatformFeeWei string     `json:"platformFeeWei"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// ListingDetail is the single-listing response with embedded relations.
type ListingDetail struct {
	ListingView
	Seller *SellerSummary `json:"seller,omitempty"`
	Orders []OrderView    `json:"orders"`
}

// ZoneView is one entry of the zone map response: live aggregates joined
// with static reference data.
type ZoneView struct {
	Zone         uint64  `json:"zone"`
	Name         string  `json:"name,omitempty"`
	City         string  `json:"city,omitempty"`
	State        string  `json:"state,omitempty"`
	CenterLat    float64 `json:"centerLat,omitempty"`
	CenterLng    float64 `json:"centerLng,omitempty"`
	ListingCount int     `json:"listingCount"`
	TotalEnergy  string  `json:"totalEnergy"`
	AvgPriceWei  string  `json:"avgPriceWei"`
	AvgPriceFiat string  `json:"avgPriceFiat"`
}

// Health is the health endpoint payload.
type Health struct {
	Status             string    `json:"status"`
	LastProcessedBlock uint64    `json:"lastProcessedBlock"`
	EventsProcessed    int64     `json:"eventsProcessed"`
	CheckpointAt       time.Time `json:"checkpointAt"`
}

// ListActiveListings returns one page of active listings, newest first.
// Activity is re-derived against wall-clock time, so a listing past its
// expiry window is excluded even before the stored flag catches up.
func (s *Service) ListActiveListings(ctx context.Context, zone *uint64, page, limit int) (*ListingsPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	listings, total, err := s.store.ListListings(ctx, marketstore.ListingQuery{
		Zone:       zone,
		ActiveOnly: true,
		Now:        s.now(),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		return nil, apperrors.GeneralError(fmt.Errorf("failed to list listings: %w", err))
	}

	views := make([]ListingView, len(listings))
	for i, l := range listings {
		views[i] = s.listingView(l)
	}

	pages := (total + limit - 1) / limit
	return &ListingsPage{
		Listings: views,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: pages,
		},
	}, nil
}

// ListingByID returns one listing with its seller summary and orders.
func (s *Service) ListingByID(ctx context.Context, id uint64) (*ListingDetail, error) {
	listing, err := s.store.GetListing(ctx, id)
	if errors.Is(err, marketstore.ErrNotFound) {
		return nil, apperrors.ResourceNotFoundError(err, fmt.Sprintf("listing %d not found", id))
	}
	if err != nil {
		return nil, apperrors.GeneralError(fmt.Errorf("failed to get listing: %w", err))
	}

	detail := &ListingDetail{ListingView: s.listingView(listing), Orders: []OrderView{}}

	seller, err := s.store.GetAccount(ctx, listing.SellerAddress)
	if err == nil {
		detail.Seller = &SellerSummary{
			Address:             seller.Address,
			Role:                string(seller.Role),
			TotalEnergyProduced: seller.TotalEnergyProduced.String(),
			TotalEnergySold:     seller.TotalEnergySold.String(),
			ReputationScore:     seller.ReputationScore,
		}
	} else if !errors.Is(err, marketstore.ErrNotFound) {
		return nil, apperrors.GeneralError(fmt.Errorf("failed to get seller: %w", err))
	}

	orders, err := s.store.ListOrdersByListing(ctx, id)
	if err != nil {
		return nil, apperrors.GeneralError(fmt.Errorf("failed to list orders: %w", err))
	}
	for _, o := range orders {
		detail.Orders = append(detail.Orders, s.orderView(o))
	}

	return detail, nil
}

// ZoneMap returns active-listing aggregates per zone, joined with the
// static zone reference data where available.
func (s *Service) ZoneMap(ctx context.Context) ([]ZoneView, error) {
	aggs, err := s.store.ZoneAggregates(ctx, s.now())
	if err != nil {
		return nil, apperrors.GeneralError(fmt.Errorf("failed to aggregate zones: %w", err))
	}

	byID := make(map[uint64]*market.GridZone)
	if len(s.zoneRefs) > 0 {
		for i := range s.zoneRefs {
			byID[s.zoneRefs[i].ZoneID] = &s.zoneRefs[i]
		}
	} else {
		refs, err := s.store.ListZones(ctx)
		if err != nil {
			return nil, apperrors.GeneralError(fmt.Errorf("failed to load zone reference data: %w", err))
		}
		for _, z := range refs {
			byID[z.ZoneID] = z
		}
	}

	views := make([]ZoneView, len(aggs))
	for i, a := range aggs {
		v := ZoneView{
			Zone:         a.Zone,
			ListingCount: a.ListingCount,
			TotalEnergy:  a.TotalEnergy.String(),
			AvgPriceWei:  a.AvgPrice.String(),
			AvgPriceFiat: s.fiat(a.AvgPrice),
		}
		if ref, ok := byID[a.Zone]; ok {
			v.Name = ref.Name
			v.City = ref.City
			v.State = ref.State
			v.CenterLat = ref.CenterLat
			v.CenterLng = ref.CenterLng
		}
		views[i] = v
	}
	return views, nil
}

// HealthCheck reports the indexer's durable cursor.
func (s *Service) HealthCheck(ctx context.Context) (*Health, error) {
	cp, err := s.store.Checkpoint(ctx)
	if err != nil {
		return nil, apperrors.DependencyError(err, "checkpoint unavailable")
	}
	return &Health{
		Status:             "ok",
		LastProcessedBlock: cp.LastProcessedBlock,
		EventsProcessed:    cp.EventsProcessed,
		CheckpointAt:       cp.UpdatedAt,
	}, nil
}

func (s *Service) listingView(l *market.Listing) ListingView {
	return ListingView{
		ListingID:       l.ListingID,
		SellerAddress:   l.SellerAddress,
		TokenID:         l.TokenID,
		KWhAmount:       l.KWhAmount.String(),
		RemainingAmount: l.RemainingAmount.String(),
		PricePerKwhWei:  l.PricePerKwh.String(),
		PricePerKwhETH:  money.ToDisplayAmount(l.PricePerKwh, money.WeiDecimals),
		PricePerKwhFiat: s.fiat(l.PricePerKwh),
		Currency:        s.rates.Currency(),
		GridZone:        l.GridZone,
		IsActive:        l.ActiveAt(s.now()),
		ExpiresAt:       l.ExpiresAt,
		TxHash:          l.TxHash,
		CreatedAt:       l.CreatedAt,
	}
}

func (s *Service) orderView(o *market.Order) OrderView {
	return OrderView{
		OrderID:        o.OrderID,
		BuyerAddress:   o.BuyerAddress,
		KWhAmount:      o.KWhAmount.String(),
		TotalPriceWei:  o.TotalPrice.String(),
		TotalPriceFiat: s.fiat(o.TotalPrice),
		PlatformFeeWei: o.PlatformFee.String(),
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
		CompletedAt:    o.CompletedAt,
	}
}

// fiat renders a wei-scaled amount in the display currency. Integer math
// all the way down: rate application and formatting never touch float64.
func (s *Service) fiat(wei *big.Int) string {
	minor := s.rates.Rate().Apply(wei)
	return money.ToDisplayAmount(minor, s.decimals)
}
