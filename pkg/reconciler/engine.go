// Package reconciler applies decoded marketplace events to the mirror store.
// Every rule is an idempotent upsert: replaying an already-applied event
// converges on the same state, which is what makes at-least-once delivery
// from the chain safe.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/gridwatt/market-indexer/internal/metrics"
	"github.com/gridwatt/market-indexer/pkg/events"
	"github.com/gridwatt/market-indexer/pkg/market"
	"github.com/gridwatt/market-indexer/pkg/marketstore"
	"github.com/gridwatt/market-indexer/pkg/money"
)

// ErrConflict signals a write that could not be applied consistently and is
// worth retrying within the batch.
var ErrConflict = errors.New("reconciliation conflict")

// errDefer marks an event whose referenced entity has not been seen yet.
// Deferred events are retried after the rest of the batch has been applied.
var errDefer = errors.New("event deferred")

// one is the unit scale of plain-kWh amounts. Listing prices are wei per
// kWh and order totals are kWh * price, so no rescaling is involved.
var one = big.NewInt(1)

const defaultReputation = 100

// TimedEvent pairs a decoded event with its block timestamp.
type TimedEvent struct {
	Event events.Event
	At    time.Time
}

// Engine is the reconciliation state machine. It is stateless between
// batches; all durable state lives behind the store transaction it is
// handed.
type Engine struct {
	log        *zap.Logger
	window     time.Duration
	maxRetries int
}

// New creates an engine. window is how long a listing stays live after its
// creation block; maxRetries bounds per-event retry attempts within a batch.
func New(logger *zap.Logger, window time.Duration, maxRetries int) *Engine {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Engine{
		log:        logger.Named("reconciler"),
		window:     window,
		maxRetries: maxRetries,
	}
}

// ApplyBatch applies a batch of events in ascending (blockNumber, logIndex)
// order inside the given store transaction. Events referencing entities not
// yet seen are parked and retried once the rest of the batch has landed; if
// any remain unresolved the batch errors so the checkpoint never advances
// past an unapplied event.
func (e *Engine) ApplyBatch(ctx context.Context, tx marketstore.Tx, batch []TimedEvent) (int, error) {
	sort.SliceStable(batch, func(i, j int) bool {
		mi, mj := batch[i].Event.EventMeta(), batch[j].Event.EventMeta()
		if mi.BlockNumber != mj.BlockNumber {
			return mi.BlockNumber < mj.BlockNumber
		}
		return mi.LogIndex < mj.LogIndex
	})

	applied := 0
	var deferred []TimedEvent
	for _, te := range batch {
		switch err := e.applyWithRetry(ctx, tx, te); {
		case err == nil:
			applied++
		case errors.Is(err, errDefer):
			deferred = append(deferred, te)
		default:
			return applied, err
		}
	}

	// A deferred event may unblock another deferred event, so keep passing
	// over the queue while progress is made.
	for len(deferred) > 0 {
		var still []TimedEvent
		progress := false
		for _, te := range deferred {
			switch err := e.applyWithRetry(ctx, tx, te); {
			case err == nil:
				applied++
				progress = true
			case errors.Is(err, errDefer):
				still = append(still, te)
			default:
				return applied, err
			}
		}
		if !progress {
			meta := still[0].Event.EventMeta()
			return applied, fmt.Errorf("%d event(s) reference unknown entities, first at block %d log %d: %w",
				len(still), meta.BlockNumber, meta.LogIndex, ErrConflict)
		}
		deferred = still
	}

	return applied, nil
}

// applyWithRetry re-runs the whole apply on failure. The apply functions
// write the replay-guard entity before mutating account counters, so a
// retried attempt can never apply a counter twice. A partially applied
// attempt can only commit if the store keeps a transaction alive after a
// failed statement, which the Postgres transaction does not.
func (e *Engine) applyWithRetry(ctx context.Context, tx marketstore.Tx, te TimedEvent) error {
	var err error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		err = e.apply(ctx, tx, te)
		if err == nil || errors.Is(err, errDefer) {
			return err
		}
		metrics.ReconcileConflicts.Inc()
		meta := te.Event.EventMeta()
		e.log.Warn("event apply failed, retrying",
			zap.String("event", te.Event.Kind()),
			zap.Uint64("block", meta.BlockNumber),
			zap.Uint("log_index", meta.LogIndex),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("event %s at block %d exhausted %d attempts: %w",
		te.Event.Kind(), te.Event.EventMeta().BlockNumber, e.maxRetries, err)
}

func (e *Engine) apply(ctx context.Context, tx marketstore.Tx, te TimedEvent) error {
	switch ev := te.Event.(type) {
	case events.ListingCreated:
		return e.applyListingCreated(ctx, tx, ev, te.At)
	case events.ListingCancelled:
		return e.applyListingCancelled(ctx, tx, ev)
	case events.OrderCreated:
		return e.applyOrderCreated(ctx, tx, ev, te.At)
	case events.OrderCompleted:
		return e.applyOrderCompleted(ctx, tx, ev, te.At)
	default:
		metrics.EventsSkipped.WithLabelValues("unhandled_kind").Inc()
		e.log.Warn("unhandled event kind", zap.String("event", te.Event.Kind()))
		return nil
	}
}

func (e *Engine) applyListingCreated(ctx context.Context, tx marketstore.Tx, ev events.ListingCreated, at time.Time) error {
	existing, err := tx.GetListing(ctx, ev.ListingID)
	if err == nil {
		// Replay. Core fields are immutable on chain, so nothing to merge.
		e.log.Debug("listing already known, skipping",
			zap.Uint64("listing_id", existing.ListingID))
		return nil
	}
	if !errors.Is(err, marketstore.ErrNotFound) {
		return err
	}

	listing := &market.Listing{
		ListingID:       ev.ListingID,
		SellerAddress:   ev.Seller,
		TokenID:         ev.TokenID,
		KWhAmount:       ev.KWhAmount,
		RemainingAmount: new(big.Int).Set(ev.KWhAmount),
		PricePerKwh:     ev.PricePerKwh,
		GridZone:        ev.GridZone,
		IsActive:        true,
		ExpiresAt:       at.Add(e.window),
		TxHash:          ev.TxHash,
		CreatedAt:       at,
	}
	if err := tx.UpsertListing(ctx, listing); err != nil {
		return err
	}

	if err := e.touchAccount(ctx, tx, ev.Seller, market.RoleProducer, at, func(acc *market.Account) {
		acc.TotalEnergyProduced.Add(acc.TotalEnergyProduced, ev.KWhAmount)
	}); err != nil {
		return err
	}

	metrics.EventsApplied.WithLabelValues(ev.Kind()).Inc()
	e.log.Info("listing created",
		zap.Uint64("listing_id", ev.ListingID),
		zap.String("seller", ev.Seller),
		zap.Uint64("zone", ev.GridZone),
		zap.String("kwh", ev.KWhAmount.String()))
	return nil
}

func (e *Engine) applyListingCancelled(ctx context.Context, tx marketstore.Tx, ev events.ListingCancelled) error {
	listing, err := tx.GetListing(ctx, ev.ListingID)
	if errors.Is(err, marketstore.ErrNotFound) {
		// Never synthesize a listing from a cancellation.
		metrics.EventsSkipped.WithLabelValues("unknown_listing").Inc()
		e.log.Warn("cancellation for unknown listing, skipping",
			zap.Uint64("listing_id", ev.ListingID),
			zap.Uint64("block", ev.BlockNumber))
		return nil
	}
	if err != nil {
		return err
	}
	if !listing.IsActive {
		return nil
	}

	listing.IsActive = false
	if err := tx.UpsertListing(ctx, listing); err != nil {
		return err
	}

	metrics.EventsApplied.WithLabelValues(ev.Kind()).Inc()
	e.log.Info("listing cancelled", zap.Uint64("listing_id", ev.ListingID))
	return nil
}

func (e *Engine) applyOrderCreated(ctx context.Context, tx marketstore.Tx, ev events.OrderCreated, at time.Time) error {
	if _, err := tx.GetOrder(ctx, ev.OrderID); err == nil {
		return nil
	} else if !errors.Is(err, marketstore.ErrNotFound) {
		return err
	}

	listing, err := tx.GetListing(ctx, ev.ListingID)
	if errors.Is(err, marketstore.ErrNotFound) {
		// The listing may appear later in this batch or in a later range.
		return fmt.Errorf("order %d references unknown listing %d: %w",
			ev.OrderID, ev.ListingID, errDefer)
	}
	if err != nil {
		return err
	}

	// Price is frozen from the listing at creation; it is never re-derived
	// even if the listing were to change later.
	order := &market.Order{
		OrderID:       ev.OrderID,
		ListingID:     ev.ListingID,
		BuyerAddress:  ev.Buyer,
		SellerAddress: listing.SellerAddress,
		KWhAmount:     ev.KWhAmount,
		PricePerKwh:   new(big.Int).Set(listing.PricePerKwh),
		TotalPrice:    ev.TotalPrice,
		PlatformFee:   money.PlatformFee(ev.TotalPrice, ev.KWhAmount, listing.PricePerKwh, one),
		Status:        market.OrderPending,
		TxHash:        ev.TxHash,
		CreatedAt:     at,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return err
	}

	remaining := new(big.Int).Sub(listing.RemainingAmount, ev.KWhAmount)
	if remaining.Sign() < 0 {
		// Over-subscription cannot happen on a healthy chain; clamp and
		// flag rather than letting the mirror go negative.
		e.log.Warn("order exceeds remaining listing amount, clamping",
			zap.Uint64("order_id", ev.OrderID),
			zap.Uint64("listing_id", ev.ListingID),
			zap.String("remaining", listing.RemainingAmount.String()),
			zap.String("ordered", ev.KWhAmount.String()))
		remaining.SetInt64(0)
	}
	listing.RemainingAmount = remaining
	if remaining.Sign() == 0 {
		listing.IsActive = false
	}
	if err := tx.UpsertListing(ctx, listing); err != nil {
		return err
	}

	if err := e.touchAccount(ctx, tx, ev.Buyer, market.RoleConsumer, at, func(acc *market.Account) {
		acc.TotalEnergyBought.Add(acc.TotalEnergyBought, ev.KWhAmount)
	}); err != nil {
		return err
	}

	metrics.EventsApplied.WithLabelValues(ev.Kind()).Inc()
	e.log.Info("order created",
		zap.Uint64("order_id", ev.OrderID),
		zap.Uint64("listing_id", ev.ListingID),
		zap.String("buyer", ev.Buyer),
		zap.String("kwh", ev.KWhAmount.String()),
		zap.String("remaining", remaining.String()))
	return nil
}

func (e *Engine) applyOrderCompleted(ctx context.Context, tx marketstore.Tx, ev events.OrderCompleted, at time.Time) error {
	order, err := tx.GetOrder(ctx, ev.OrderID)
	if errors.Is(err, marketstore.ErrNotFound) {
		// Completion can land before creation inside a gap; give the
		// batch a chance to fill it in.
		return fmt.Errorf("completion for unknown order %d: %w", ev.OrderID, errDefer)
	}
	if err != nil {
		return err
	}

	if order.Status == market.OrderCompleted {
		return nil
	}
	if !order.Status.CanComplete() {
		// DISPUTED and REFUNDED are terminal branches that a completion
		// event must never overwrite.
		metrics.EventsSkipped.WithLabelValues("terminal_status").Inc()
		e.log.Warn("completion for order in terminal status, skipping",
			zap.Uint64("order_id", ev.OrderID),
			zap.String("status", string(order.Status)))
		return nil
	}

	order.Status = market.OrderCompleted
	order.CompletedAt = &at
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return err
	}

	if err := e.touchAccount(ctx, tx, order.SellerAddress, market.RoleProducer, at, func(acc *market.Account) {
		acc.TotalEnergySold.Add(acc.TotalEnergySold, order.KWhAmount)
	}); err != nil {
		return err
	}

	metrics.EventsApplied.WithLabelValues(ev.Kind()).Inc()
	e.log.Info("order completed",
		zap.Uint64("order_id", ev.OrderID),
		zap.String("seller", order.SellerAddress))
	return nil
}

// touchAccount upserts an account, widening its role and applying the given
// counter mutation. The mutation runs exactly once per observed transition
// because each caller guards it behind its own replay check.
func (e *Engine) touchAccount(ctx context.Context, tx marketstore.Tx, address string, role market.Role, at time.Time, mutate func(*market.Account)) error {
	addr := market.NormalizeAddress(address)
	acc, err := tx.GetAccount(ctx, addr)
	if errors.Is(err, marketstore.ErrNotFound) {
		acc = &market.Account{
			Address:             addr,
			Role:                role,
			TotalEnergyProduced: new(big.Int),
			TotalEnergySold:     new(big.Int),
			TotalEnergyBought:   new(big.Int),
			ReputationScore:     defaultReputation,
			CreatedAt:           at,
		}
	} else if err != nil {
		return err
	} else {
		acc.Role = acc.Role.Merge(role)
	}

	if mutate != nil {
		mutate(acc)
	}
	return tx.UpsertAccount(ctx, acc)
}
