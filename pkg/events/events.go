// Package events maps raw marketplace contract logs into typed domain
// events. Unknown or malformed logs decode to a DecodeError and are skipped
// by the caller; the contract may grow event types this indexer ignores.
package events

import (
	"fmt"
	"math/big"
)

// Meta carries the chain coordinates every decoded event keeps. The engine
// relies on (BlockNumber, LogIndex) for intra-batch ordering.
type Meta struct {
	BlockNumber uint64
	LogIndex    uint
	TxHash      string
}

// Event is the tagged union of domain events produced by the decoder.
type Event interface {
	// EventMeta returns the chain coordinates of the underlying log.
	EventMeta() Meta
	// Kind returns a short name for logging and metrics.
	Kind() string
}

// ListingCreated mirrors the marketplace's ListingCreated event. The grid
// zone rides in a dedicated event field rather than being defaulted.
type ListingCreated struct {
	Meta
	ListingID   uint64
	Seller      string
	TokenID     uint64
	KWhAmount   *big.Int
	PricePerKwh *big.Int
	GridZone    uint64
}

// ListingCancelled mirrors the marketplace's ListingCancelled event.
type ListingCancelled struct {
	Meta
	ListingID uint64
}

// OrderCreated mirrors the marketplace's OrderCreated event.
type OrderCreated struct {
	Meta
	OrderID    uint64
	ListingID  uint64
	Buyer      string
	KWhAmount  *big.Int
	TotalPrice *big.Int
}

// OrderCompleted mirrors the marketplace's OrderCompleted event. Buyer,
// seller and amount are carried for completeness but only the order id
// drives state.
type OrderCompleted struct {
	Meta
	OrderID uint64
	Buyer   string
	Seller  string
	Amount  *big.Int
}

func (e ListingCreated) EventMeta() Meta   { return e.Meta }
func (e ListingCancelled) EventMeta() Meta { return e.Meta }
func (e OrderCreated) EventMeta() Meta     { return e.Meta }
func (e OrderCompleted) EventMeta() Meta   { return e.Meta }

func (ListingCreated) Kind() string   { return "listing_created" }
func (ListingCancelled) Kind() string { return "listing_cancelled" }
func (OrderCreated) Kind() string     { return "order_created" }
func (OrderCompleted) Kind() string   { return "order_completed" }

// DecodeError reports a log the decoder could not turn into a domain event.
// It is never fatal to a batch.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode error: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }
