package syncer

import (
	"context"
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridwatt/market-indexer/pkg/config"
	"github.com/gridwatt/market-indexer/pkg/events"
	"github.com/gridwatt/market-indexer/pkg/market"
	"github.com/gridwatt/market-indexer/pkg/marketstore"
	"github.com/gridwatt/market-indexer/pkg/reconciler"
)

var (
	sellerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	buyerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	chainStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

// fakeChain serves a fixed log history, mimicking the ordering contract of
// the real reader.
type fakeChain struct {
	head uint64
	logs []types.Log
}

func (f *fakeChain) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeChain) FetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (f *fakeChain) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	return uint64(chainStart.Unix()) + block*12, nil
}

type logBuilder struct {
	t *testing.T
	d *events.Decoder
}

func newLogBuilder(t *testing.T) *logBuilder {
	t.Helper()
	d, err := events.NewDecoder()
	require.NoError(t, err)
	return &logBuilder{t: t, d: d}
}

func (b *logBuilder) pack(event string, args ...any) []byte {
	b.t.Helper()
	data, err := b.d.ABI().Events[event].Inputs.NonIndexed().Pack(args...)
	require.NoError(b.t, err)
	return data
}

func (b *logBuilder) listingCreated(block uint64, index uint, id int64, kwh, price int64, zone int64) types.Log {
	return types.Log{
		Topics: []common.Hash{
			b.d.Topics()[0],
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(sellerAddr.Bytes()),
		},
		Data:        b.pack("ListingCreated", big.NewInt(1), big.NewInt(kwh), big.NewInt(price), big.NewInt(zone)),
		BlockNumber: block,
		Index:       index,
	}
}

func (b *logBuilder) orderCreated(block uint64, index uint, orderID, listingID, kwh, price int64) types.Log {
	return types.Log{
		Topics: []common.Hash{
			b.d.Topics()[2],
			common.BigToHash(big.NewInt(orderID)),
			common.BigToHash(big.NewInt(listingID)),
		},
		Data:        b.pack("OrderCreated", buyerAddr, big.NewInt(kwh), big.NewInt(kwh*price)),
		BlockNumber: block,
		Index:       index,
	}
}

func (b *logBuilder) orderCompleted(block uint64, index uint, orderID int64, amount int64) types.Log {
	return types.Log{
		Topics: []common.Hash{
			b.d.Topics()[3],
			common.BigToHash(big.NewInt(orderID)),
		},
		Data:        b.pack("OrderCompleted", buyerAddr, sellerAddr, big.NewInt(amount)),
		BlockNumber: block,
		Index:       index,
	}
}

func newScheduler(t *testing.T, chainReader *fakeChain, store marketstore.Store, chunk uint64) *Scheduler {
	t.Helper()
	d, err := events.NewDecoder()
	require.NoError(t, err)

	cfg := &config.IndexerConfig{ChunkSize: chunk}
	require.NoError(t, cfg.PollInterval.UnmarshalText([]byte("5ms")))
	require.NoError(t, cfg.MaxBackoff.UnmarshalText([]byte("20ms")))

	engine := reconciler.New(zap.NewNop(), 24*time.Hour, 3)
	return New(zap.NewNop(), chainReader, d, engine, store, cfg, 0)
}

func marketHistory(b *logBuilder) []types.Log {
	return []types.Log{
		b.listingCreated(10, 0, 1, 100, 100, 1),
		b.orderCreated(11, 0, 1, 1, 40, 100),
		b.listingCreated(12, 0, 2, 50, 200, 2),
		b.orderCreated(13, 0, 2, 1, 60, 100),
		b.orderCompleted(14, 0, 1, 40),
	}
}

func TestCatchUpAppliesFullHistory(t *testing.T) {
	b := newLogBuilder(t)
	fc := &fakeChain{head: 20, logs: marketHistory(b)}
	store := marketstore.NewMemStore()
	s := newScheduler(t, fc, store, 5000)

	require.NoError(t, s.CatchUp(context.Background()))

	ctx := context.Background()
	cp, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cp.LastProcessedBlock)
	assert.Equal(t, int64(5), cp.EventsProcessed)

	l1, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), l1.RemainingAmount.Int64())
	assert.False(t, l1.IsActive)

	o1, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, market.OrderCompleted, o1.Status)
}

func TestCheckpointMonotonicAcrossSteps(t *testing.T) {
	b := newLogBuilder(t)
	fc := &fakeChain{head: 20, logs: marketHistory(b)}
	store := marketstore.NewMemStore()
	s := newScheduler(t, fc, store, 4)

	ctx := context.Background()
	var last uint64
	for {
		done, err := s.Step(ctx, "catchup")
		require.NoError(t, err)

		cp, err := store.Checkpoint(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, cp.LastProcessedBlock, last)
		last = cp.LastProcessedBlock
		if done {
			break
		}
	}
	assert.Equal(t, uint64(20), last)

	// Head unchanged: further steps are no-ops and never move the cursor.
	done, err := s.Step(ctx, "tail")
	require.NoError(t, err)
	assert.True(t, done)
	cp, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), cp.LastProcessedBlock)
}

func TestChunkedAndOneShotCatchUpConverge(t *testing.T) {
	// Replaying the same history in 3-block chunks and in one sweep must
	// produce identical state.
	b := newLogBuilder(t)
	history := marketHistory(b)

	runWith := func(chunk uint64) marketstore.Store {
		fc := &fakeChain{head: 20, logs: history}
		store := marketstore.NewMemStore()
		s := newScheduler(t, fc, store, chunk)
		require.NoError(t, s.CatchUp(context.Background()))
		return store
	}

	chunked := runWith(3)
	oneShot := runWith(5000)

	ctx := context.Background()
	for _, id := range []uint64{1, 2} {
		a, err := chunked.GetListing(ctx, id)
		require.NoError(t, err)
		b, err := oneShot.GetListing(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, a.RemainingAmount.String(), b.RemainingAmount.String())
		assert.Equal(t, a.IsActive, b.IsActive)
		assert.Equal(t, a.ExpiresAt, b.ExpiresAt)
	}
	for _, id := range []uint64{1, 2} {
		a, err := chunked.GetOrder(ctx, id)
		require.NoError(t, err)
		b, err := oneShot.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, a.Status, b.Status)
		assert.Equal(t, a.TotalPrice.String(), b.TotalPrice.String())
		assert.Equal(t, a.PlatformFee.String(), b.PlatformFee.String())
	}
	a, err := chunked.GetAccount(ctx, market.NormalizeAddress(sellerAddr.Hex()))
	require.NoError(t, err)
	bAcc, err := oneShot.GetAccount(ctx, market.NormalizeAddress(sellerAddr.Hex()))
	require.NoError(t, err)
	assert.Equal(t, a.TotalEnergySold.String(), bAcc.TotalEnergySold.String())
	assert.Equal(t, a.Role, bAcc.Role)

	acp, err := chunked.Checkpoint(ctx)
	require.NoError(t, err)
	bcp, err := oneShot.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, acp.LastProcessedBlock, bcp.LastProcessedBlock)
	assert.Equal(t, acp.EventsProcessed, bcp.EventsProcessed)
}

func TestUndecodableLogIsSkipped(t *testing.T) {
	b := newLogBuilder(t)
	logs := marketHistory(b)
	logs = append(logs, types.Log{
		Topics:      []common.Hash{crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))},
		BlockNumber: 15,
	})
	fc := &fakeChain{head: 20, logs: logs}
	store := marketstore.NewMemStore()
	s := newScheduler(t, fc, store, 5000)

	require.NoError(t, s.CatchUp(context.Background()))

	cp, err := store.Checkpoint(context.Background())
	require.NoError(t, err)
	// The poison log does not block the checkpoint.
	assert.Equal(t, uint64(20), cp.LastProcessedBlock)
	assert.Equal(t, int64(5), cp.EventsProcessed)
}

func TestTailFollowPicksUpNewBlocks(t *testing.T) {
	b := newLogBuilder(t)
	fc := &fakeChain{head: 12, logs: marketHistory(b)}
	store := marketstore.NewMemStore()
	s := newScheduler(t, fc, store, 5000)

	ctx := context.Background()
	require.NoError(t, s.CatchUp(ctx))

	l, err := store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60), l.RemainingAmount.Int64())

	// Chain advances past the remaining order and completion events.
	fc.head = 20
	done, err := s.Step(ctx, "tail")
	require.NoError(t, err)
	assert.True(t, done)

	l, err = store.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.RemainingAmount.Int64())

	o, err := store.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, market.OrderCompleted, o.Status)
}
