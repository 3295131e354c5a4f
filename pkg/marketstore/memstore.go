package marketstore

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/gridwatt/market-indexer/pkg/market"
)

// MemStore is an in-memory Store used for engine and scheduler tests.
// RunBatch works on a deep copy and swaps it in on success, matching the
// all-or-nothing commit of the postgres implementation.
type MemStore struct {
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	accounts   map[string]*market.Account
	listings   map[uint64]*market.Listing
	orders     map[uint64]*market.Order
	zones      []market.GridZone
	checkpoint *market.Checkpoint
}

// NewMemStore creates an empty in-memory store with a zero checkpoint.
func NewMemStore() *MemStore {
	return &MemStore{
		data: &memData{
			accounts:   make(map[string]*market.Account),
			listings:   make(map[uint64]*market.Listing),
			orders:     make(map[uint64]*market.Order),
			checkpoint: &market.Checkpoint{},
		},
	}
}

func (s *MemStore) RunBatch(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.RLock()
	staged := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{data: staged}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = staged
	s.mu.Unlock()
	return nil
}

func (s *MemStore) GetAccount(ctx context.Context, address string) (*market.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getAccount(address)
}

func (s *MemStore) GetListing(ctx context.Context, listingID uint64) (*market.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getListing(listingID)
}

func (s *MemStore) GetOrder(ctx context.Context, orderID uint64) (*market.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getOrder(orderID)
}

func (s *MemStore) ListListings(ctx context.Context, q ListingQuery) ([]*market.Listing, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listListings(q)
}

func (s *MemStore) ListOrdersByListing(ctx context.Context, listingID uint64) ([]*market.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listOrdersByListing(listingID)
}

func (s *MemStore) ZoneAggregates(ctx context.Context, now time.Time) ([]*market.ZoneAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.zoneAggregates(now)
}

// SeedZones installs reference zone data, mirroring the seeded grid_zones table.
func (s *MemStore) SeedZones(zs []market.GridZone) {
	s.mu.Lock()
	s.data.zones = append([]market.GridZone(nil), zs...)
	s.mu.Unlock()
}

func (s *MemStore) ListZones(ctx context.Context) ([]*market.GridZone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listZones()
}

func (s *MemStore) Checkpoint(ctx context.Context) (*market.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.data.checkpoint
	return &cp, nil
}

// memTx is the staged view inside RunBatch. It reads and writes the staged
// copy directly; the copy only becomes visible when the batch commits.
type memTx struct {
	data *memData
}

func (t *memTx) GetAccount(ctx context.Context, address string) (*market.Account, error) {
	return t.data.getAccount(address)
}

func (t *memTx) GetListing(ctx context.Context, listingID uint64) (*market.Listing, error) {
	return t.data.getListing(listingID)
}

func (t *memTx) GetOrder(ctx context.Context, orderID uint64) (*market.Order, error) {
	return t.data.getOrder(orderID)
}

func (t *memTx) ListListings(ctx context.Context, q ListingQuery) ([]*market.Listing, int, error) {
	return t.data.listListings(q)
}

func (t *memTx) ListOrdersByListing(ctx context.Context, listingID uint64) ([]*market.Order, error) {
	return t.data.listOrdersByListing(listingID)
}

func (t *memTx) ZoneAggregates(ctx context.Context, now time.Time) ([]*market.ZoneAggregate, error) {
	return t.data.zoneAggregates(now)
}

func (t *memTx) ListZones(ctx context.Context) ([]*market.GridZone, error) {
	return t.data.listZones()
}

func (t *memTx) Checkpoint(ctx context.Context) (*market.Checkpoint, error) {
	cp := *t.data.checkpoint
	return &cp, nil
}

func (t *memTx) UpsertAccount(ctx context.Context, account *market.Account) error {
	t.data.accounts[account.Address] = cloneAccount(account)
	return nil
}

func (t *memTx) UpsertListing(ctx context.Context, listing *market.Listing) error {
	t.data.listings[listing.ListingID] = cloneListing(listing)
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *market.Order) error {
	if _, exists := t.data.orders[order.OrderID]; exists {
		return nil
	}
	t.data.orders[order.OrderID] = cloneOrder(order)
	return nil
}

func (t *memTx) UpdateOrder(ctx context.Context, order *market.Order) error {
	existing, exists := t.data.orders[order.OrderID]
	if !exists {
		return ErrNotFound
	}
	existing.Status = order.Status
	existing.PlatformFee = cloneBig(order.PlatformFee)
	existing.CompletedAt = cloneTimePtr(order.CompletedAt)
	return nil
}

func (t *memTx) SetCheckpoint(ctx context.Context, cp *market.Checkpoint) error {
	if cp.LastProcessedBlock > t.data.checkpoint.LastProcessedBlock {
		t.data.checkpoint.LastProcessedBlock = cp.LastProcessedBlock
	}
	t.data.checkpoint.EventsProcessed = cp.EventsProcessed
	t.data.checkpoint.UpdatedAt = time.Now()
	return nil
}

func (d *memData) getAccount(address string) (*market.Account, error) {
	acc, ok := d.accounts[market.NormalizeAddress(address)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(acc), nil
}

func (d *memData) getListing(listingID uint64) (*market.Listing, error) {
	l, ok := d.listings[listingID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneListing(l), nil
}

func (d *memData) getOrder(orderID uint64) (*market.Order, error) {
	o, ok := d.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (d *memData) listListings(q ListingQuery) ([]*market.Listing, int, error) {
	var matched []*market.Listing
	for _, l := range d.listings {
		if q.Zone != nil && l.GridZone != *q.Zone {
			continue
		}
		if q.ActiveOnly && !l.ActiveAt(q.Now) {
			continue
		}
		matched = append(matched, cloneListing(l))
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ListingID > matched[j].ListingID
	})

	total := len(matched)
	if q.Limit > 0 {
		off := q.Offset()
		if off >= total {
			return nil, total, nil
		}
		end := off + q.Limit
		if end > total {
			end = total
		}
		matched = matched[off:end]
	}
	return matched, total, nil
}

func (d *memData) listOrdersByListing(listingID uint64) ([]*market.Order, error) {
	var orders []*market.Order
	for _, o := range d.orders {
		if o.ListingID == listingID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	return orders, nil
}

func (d *memData) zoneAggregates(now time.Time) ([]*market.ZoneAggregate, error) {
	type acc struct {
		count  int
		energy *big.Int
		price  *big.Int
	}
	byZone := make(map[uint64]*acc)
	for _, l := range d.listings {
		if !l.ActiveAt(now) {
			continue
		}
		a, ok := byZone[l.GridZone]
		if !ok {
			a = &acc{energy: new(big.Int), price: new(big.Int)}
			byZone[l.GridZone] = a
		}
		a.count++
		a.energy.Add(a.energy, l.RemainingAmount)
		a.price.Add(a.price, l.PricePerKwh)
	}

	aggs := make([]*market.ZoneAggregate, 0, len(byZone))
	for zone, a := range byZone {
		avg := new(big.Int).Quo(a.price, big.NewInt(int64(a.count)))
		aggs = append(aggs, &market.ZoneAggregate{
			Zone:         zone,
			ListingCount: a.count,
			TotalEnergy:  a.energy,
			AvgPrice:     avg,
		})
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].Zone < aggs[j].Zone })
	return aggs, nil
}

func (d *memData) listZones() ([]*market.GridZone, error) {
	out := make([]*market.GridZone, len(d.zones))
	for i := range d.zones {
		z := d.zones[i]
		out[i] = &z
	}
	return out, nil
}

func (d *memData) clone() *memData {
	out := &memData{
		accounts:   make(map[string]*market.Account, len(d.accounts)),
		listings:   make(map[uint64]*market.Listing, len(d.listings)),
		orders:     make(map[uint64]*market.Order, len(d.orders)),
		checkpoint: &market.Checkpoint{},
	}
	for k, v := range d.accounts {
		out.accounts[k] = cloneAccount(v)
	}
	for k, v := range d.listings {
		out.listings[k] = cloneListing(v)
	}
	for k, v := range d.orders {
		out.orders[k] = cloneOrder(v)
	}
	out.zones = append([]market.GridZone(nil), d.zones...)
	*out.checkpoint = *d.checkpoint
	return out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneAccount(a *market.Account) *market.Account {
	c := *a
	c.TotalEnergyProduced = cloneBig(a.TotalEnergyProduced)
	c.TotalEnergySold = cloneBig(a.TotalEnergySold)
	c.TotalEnergyBought = cloneBig(a.TotalEnergyBought)
	return &c
}

func cloneListing(l *market.Listing) *market.Listing {
	c := *l
	c.KWhAmount = cloneBig(l.KWhAmount)
	c.RemainingAmount = cloneBig(l.RemainingAmount)
	c.PricePerKwh = cloneBig(l.PricePerKwh)
	return &c
}

func cloneOrder(o *market.Order) *market.Order {
	c := *o
	c.KWhAmount = cloneBig(o.KWhAmount)
	c.PricePerKwh = cloneBig(o.PricePerKwh)
	c.TotalPrice = cloneBig(o.TotalPrice)
	c.PlatformFee = cloneBig(o.PlatformFee)
	c.CompletedAt = cloneTimePtr(o.CompletedAt)
	return &c
}
