// Package chain wraps the node RPC client behind the narrow read surface the
// indexer needs: block height, filtered logs and block timestamps.
package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
)

// ErrTransient marks an RPC failure worth retrying: timeouts, dropped
// connections, temporary node hiccups.
var ErrTransient = errors.New("transient network error")

// ErrChainUnavailable marks an endpoint that stayed unreachable after
// exhausting retries. Fatal for the current sync cycle, not for the process.
var ErrChainUnavailable = errors.New("chain unavailable")

// LogReader is the read-only boundary to the chain. It is an interface so the
// scheduler and engine can be driven by fakes in tests.
type LogReader interface {
	// CurrentBlockHeight returns the number of the latest block.
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	// FetchLogs returns the marketplace contract's logs in [fromBlock, toBlock],
	// sorted ascending by (blockNumber, logIndex).
	FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error)
	// BlockTimestamp returns the unix timestamp of the given block.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
}
