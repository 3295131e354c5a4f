package marketstore

import (
	"context"
	"errors"
	"time"

	"github.com/gridwatt/market-indexer/pkg/market"
)

// ErrNotFound is returned when a lookup finds no matching record.
var ErrNotFound = errors.New("record not found")

// ListingQuery defines filters and pagination for listing reads.
type ListingQuery struct {
	Zone       *uint64
	ActiveOnly bool
	// Now is the instant activity is evaluated against when ActiveOnly is
	// set. Expiry is lazy: a listing past expires_at is inactive at read
	// time even before any block-driven update flips the stored flag.
	Now   time.Time
	Page  int
	Limit int
}

// Offset returns the row offset implied by Page and Limit.
func (q ListingQuery) Offset() int {
	page := q.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * q.Limit
}

// Reader defines the read-only operations shared by the store and its
// transactional view. All reads are side-effect free.
type Reader interface {
	GetAccount(ctx context.Context, address string) (*market.Account, error)
	GetListing(ctx context.Context, listingID uint64) (*market.Listing, error)
	GetOrder(ctx context.Context, orderID uint64) (*market.Order, error)
	ListListings(ctx context.Context, q ListingQuery) ([]*market.Listing, int, error)
	ListOrdersByListing(ctx context.Context, listingID uint64) ([]*market.Order, error)
	ZoneAggregates(ctx context.Context, now time.Time) ([]*market.ZoneAggregate, error)
	ListZones(ctx context.Context) ([]*market.GridZone, error)
	Checkpoint(ctx context.Context) (*market.Checkpoint, error)
}

// Tx is the mutable view handed to a RunBatch callback. Writes are upserts
// keyed on chain identifiers so replays of already-applied events converge.
type Tx interface {
	Reader
	UpsertAccount(ctx context.Context, account *market.Account) error
	UpsertListing(ctx context.Context, listing *market.Listing) error
	CreateOrder(ctx context.Context, order *market.Order) error
	UpdateOrder(ctx context.Context, order *market.Order) error
	SetCheckpoint(ctx context.Context, cp *market.Checkpoint) error
}

// Store is the persistence boundary of the indexer. RunBatch runs fn inside
// one transaction; either every write of a sync cycle commits together with
// the checkpoint row, or none do.
type Store interface {
	Reader
	RunBatch(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
