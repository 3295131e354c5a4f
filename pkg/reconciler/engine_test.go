package reconciler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridwatt/market-indexer/pkg/events"
	"github.com/gridwatt/market-indexer/pkg/market"
	"github.com/gridwatt/market-indexer/pkg/marketstore"
)

const (
	sellerA = "0x00000000000000000000000000000000000000aa"
	buyerB  = "0x00000000000000000000000000000000000000bb"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return New(zap.NewNop(), 24*time.Hour, 3)
}

func meta(block uint64, index uint) events.Meta {
	return events.Meta{BlockNumber: block, LogIndex: index, TxHash: "0x01"}
}

func listingCreated(id uint64, block uint64, index uint, kwh, price int64) events.ListingCreated {
	return events.ListingCreated{
		Meta:        meta(block, index),
		ListingID:   id,
		Seller:      sellerA,
		TokenID:     1,
		KWhAmount:   big.NewInt(kwh),
		PricePerKwh: big.NewInt(price),
		GridZone:    1,
	}
}

func orderCreated(orderID, listingID uint64, block uint64, index uint, kwh, price int64) events.OrderCreated {
	return events.OrderCreated{
		Meta:       meta(block, index),
		OrderID:    orderID,
		ListingID:  listingID,
		Buyer:      buyerB,
		KWhAmount:  big.NewInt(kwh),
		TotalPrice: big.NewInt(kwh * price),
	}
}

func applyAll(t *testing.T, e *Engine, store marketstore.Store, batch []TimedEvent) int {
	t.Helper()
	var applied int
	err := store.RunBatch(context.Background(), func(ctx context.Context, tx marketstore.Tx) error {
		var err error
		applied, err = e.ApplyBatch(ctx, tx, batch)
		return err
	})
	require.NoError(t, err)
	return applied
}

func timed(evs ...events.Event) []TimedEvent {
	out := make([]TimedEvent, len(evs))
	for i, ev := range evs {
		out[i] = TimedEvent{Event: ev, At: t0}
	}
	return out
}

func TestListingCreatedProducesActiveListing(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	applied := applyAll(t, e, store, timed(listingCreated(1, 10, 0, 100, 100_000_000_000_000)))
	assert.Equal(t, 1, applied)

	l, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.True(t, l.IsActive)
	assert.Equal(t, int64(100), l.RemainingAmount.Int64())
	assert.Equal(t, t0.Add(24*time.Hour), l.ExpiresAt)

	acc, err := store.GetAccount(ctx, sellerA)
	require.NoError(t, err)
	assert.Equal(t, market.RoleProducer, acc.Role)
	assert.Equal(t, int64(100), acc.TotalEnergyProduced.Int64())
}

func TestOrderCreatedDecrementsListing(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	applyAll(t, e, store, timed(
		listingCreated(1, 10, 0, 100, 100_000_000_000_000),
		orderCreated(1, 1, 11, 0, 40, 100_000_000_000_000),
	))

	l, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), l.RemainingAmount.Int64())
	assert.True(t, l.IsActive)

	o, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, market.OrderPending, o.Status)
	assert.Equal(t, sellerA, o.SellerAddress)
	assert.Equal(t, int64(100_000_000_000_000), o.PricePerKwh.Int64())

	acc, err := store.GetAccount(ctx, buyerB)
	require.NoError(t, err)
	assert.Equal(t, market.RoleConsumer, acc.Role)
	assert.Equal(t, int64(40), acc.TotalEnergyBought.Int64())
}

func TestDepletionAndCompletion(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	applyAll(t, e, store, timed(
		listingCreated(1, 10, 0, 100, 100),
		orderCreated(1, 1, 11, 0, 40, 100),
		orderCreated(2, 1, 12, 0, 60, 100),
		events.OrderCompleted{
			Meta:    meta(13, 0),
			OrderID: 1,
			Buyer:   buyerB,
			Seller:  sellerA,
			Amount:  big.NewInt(40),
		},
	))

	l, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.RemainingAmount.Int64())
	assert.False(t, l.IsActive)

	o1, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, market.OrderCompleted, o1.Status)
	require.NotNil(t, o1.CompletedAt)

	o2, err := store.GetOrder(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, market.OrderPending, o2.Status)

	seller, err := store.GetAccount(ctx, sellerA)
	require.NoError(t, err)
	assert.Equal(t, int64(40), seller.TotalEnergySold.Int64())
}

func TestUnknownListingCancellationSkipped(t *testing.T) {
	// A cancellation for a listing we never saw synthesizes nothing, and
	// the batch still succeeds so the checkpoint can advance past it.
	store := marketstore.NewMemStore()
	e := newEngine(t)

	applied := applyAll(t, e, store, timed(events.ListingCancelled{
		Meta:      meta(20, 0),
		ListingID: 999,
	}))
	assert.Equal(t, 1, applied)

	_, err := store.GetListing(context.Background(), 999)
	assert.ErrorIs(t, err, marketstore.ErrNotFound)
}

func TestIdempotentReplay(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	batch := timed(
		listingCreated(1, 10, 0, 100, 100),
		orderCreated(1, 1, 11, 0, 40, 100),
		events.OrderCompleted{Meta: meta(12, 0), OrderID: 1, Buyer: buyerB, Seller: sellerA, Amount: big.NewInt(40)},
	)
	applyAll(t, e, store, batch)
	snapshot := func() (market.Listing, market.Order, market.Account, market.Account) {
		l, err := store.GetListing(ctx, 1)
		require.NoError(t, err)
		o, err := store.GetOrder(ctx, 1)
		require.NoError(t, err)
		s, err := store.GetAccount(ctx, sellerA)
		require.NoError(t, err)
		b, err := store.GetAccount(ctx, buyerB)
		require.NoError(t, err)
		return *l, *o, *s, *b
	}
	l1, o1, s1, b1 := snapshot()

	// Replaying the whole history must not move anything: counters stay,
	// remaining amount does not double-decrement.
	applyAll(t, e, store, batch)
	l2, o2, s2, b2 := snapshot()

	assert.Equal(t, l1.RemainingAmount.String(), l2.RemainingAmount.String())
	assert.Equal(t, l1.IsActive, l2.IsActive)
	assert.Equal(t, o1.Status, o2.Status)
	assert.Equal(t, s1.TotalEnergySold.String(), s2.TotalEnergySold.String())
	assert.Equal(t, s1.TotalEnergyProduced.String(), s2.TotalEnergyProduced.String())
	assert.Equal(t, b1.TotalEnergyBought.String(), b2.TotalEnergyBought.String())
}

func TestOverSubscriptionClampsAtZero(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	applyAll(t, e, store, timed(
		listingCreated(1, 10, 0, 100, 100),
		orderCreated(1, 1, 11, 0, 80, 100),
		orderCreated(2, 1, 12, 0, 80, 100),
	))

	l, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.RemainingAmount.Int64())
	assert.False(t, l.IsActive)

	// Both orders exist; the mirror records what the chain said happened.
	_, err = store.GetOrder(ctx, 2)
	require.NoError(t, err)
}

func TestOrderBeforeListingWithinBatchIsDeferred(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	// The order genuinely precedes its listing in log order, so sorting
	// cannot save it: it must park on the first pass and land on the second.
	batch := []TimedEvent{
		{Event: orderCreated(1, 1, 10, 0, 40, 100), At: t0},
		{Event: listingCreated(1, 10, 1, 100, 100), At: t0},
	}
	applied := applyAll(t, e, store, batch)
	assert.Equal(t, 2, applied)

	l, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), l.RemainingAmount.Int64())

	o, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), o.PricePerKwh.Int64())
}

func TestCompletionBeforeCreationResolvesAcrossPasses(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	// Fully inverted chain: the completion needs the order, which needs the
	// listing. Each deferral pass unblocks the next one.
	batch := []TimedEvent{
		{Event: events.OrderCompleted{
			Meta: meta(10, 0), OrderID: 1, Buyer: buyerB, Seller: sellerA, Amount: big.NewInt(40),
		}, At: t0},
		{Event: orderCreated(1, 1, 10, 1, 40, 100), At: t0},
		{Event: listingCreated(1, 10, 2, 100, 100), At: t0},
	}
	applied := applyAll(t, e, store, batch)
	assert.Equal(t, 3, applied)

	o, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, market.OrderCompleted, o.Status)

	seller, err := store.GetAccount(ctx, sellerA)
	require.NoError(t, err)
	assert.Equal(t, int64(40), seller.TotalEnergySold.Int64())
}

// flakyTx fails the first n listing upserts to exercise the in-batch retry.
type flakyTx struct {
	marketstore.Tx
	failUpserts int
}

func (f *flakyTx) UpsertListing(ctx context.Context, l *market.Listing) error {
	if f.failUpserts > 0 {
		f.failUpserts--
		return errors.New("write conflict")
	}
	return f.Tx.UpsertListing(ctx, l)
}

func TestRetryAfterWriteConflictAppliesCountersOnce(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	var applied int
	err := store.RunBatch(ctx, func(ctx context.Context, tx marketstore.Tx) error {
		var err error
		applied, err = e.ApplyBatch(ctx, &flakyTx{Tx: tx, failUpserts: 1},
			timed(listingCreated(1, 10, 0, 100, 100)))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	l, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), l.RemainingAmount.Int64())

	// The failed first attempt wrote nothing, so the retried attempt must
	// add the produced counter exactly once.
	acc, err := store.GetAccount(ctx, sellerA)
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.TotalEnergyProduced.Int64())
}

func TestUnresolvableOrderFailsBatch(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)

	err := store.RunBatch(context.Background(), func(ctx context.Context, tx marketstore.Tx) error {
		_, err := e.ApplyBatch(ctx, tx, timed(orderCreated(1, 404, 10, 0, 40, 100)))
		return err
	})
	require.ErrorIs(t, err, ErrConflict)

	// The aborted batch must leave no partial state behind.
	_, err = store.GetOrder(context.Background(), 1)
	assert.ErrorIs(t, err, marketstore.ErrNotFound)
	_, err = store.GetAccount(context.Background(), buyerB)
	assert.ErrorIs(t, err, marketstore.ErrNotFound)
}

func TestRoleWidensToBoth(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	// Seller of listing 1 buys from listing 2.
	l2 := listingCreated(2, 10, 1, 50, 100)
	l2.Seller = buyerB
	order := orderCreated(1, 2, 11, 0, 10, 100)
	order.Buyer = sellerA

	applyAll(t, e, store, timed(listingCreated(1, 10, 0, 100, 100), l2, order))

	acc, err := store.GetAccount(ctx, sellerA)
	require.NoError(t, err)
	assert.Equal(t, market.RoleBoth, acc.Role)
}

func TestCompletionNeverOverwritesTerminalBranch(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)
	ctx := context.Background()

	applyAll(t, e, store, timed(
		listingCreated(1, 10, 0, 100, 100),
		orderCreated(1, 1, 11, 0, 40, 100),
	))

	// Force the alternate terminal branch directly.
	err := store.RunBatch(ctx, func(ctx context.Context, tx marketstore.Tx) error {
		o, err := tx.GetOrder(ctx, 1)
		if err != nil {
			return err
		}
		o.Status = market.OrderRefunded
		return tx.UpdateOrder(ctx, o)
	})
	require.NoError(t, err)

	applyAll(t, e, store, timed(events.OrderCompleted{
		Meta: meta(12, 0), OrderID: 1, Buyer: buyerB, Seller: sellerA, Amount: big.NewInt(40),
	}))

	o, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, market.OrderRefunded, o.Status)
}

func TestPlatformFeeDerivedFromTotal(t *testing.T) {
	store := marketstore.NewMemStore()
	e := newEngine(t)

	order := orderCreated(1, 1, 11, 0, 40, 100)
	// Chain total carries a 5% margin over kwh*price.
	order.TotalPrice = big.NewInt(4200)

	applyAll(t, e, store, timed(listingCreated(1, 10, 0, 100, 100), order))

	o, err := store.GetOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(200), o.PlatformFee.Int64())
	assert.Equal(t, int64(4200), o.TotalPrice.Int64())
}
