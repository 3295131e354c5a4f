package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/gridwatt/market-indexer/internal/metrics"
	"github.com/gridwatt/market-indexer/pkg/config"
)

// timestampCacheLimit bounds the per-block timestamp cache during long
// catch-up scans.
const timestampCacheLimit = 4096

// Client implements LogReader over an Ethereum JSON-RPC endpoint.
type Client struct {
	client   *ethclient.Client
	contract common.Address
	topics   []common.Hash
	timeout  time.Duration
	retries  int
	logger   *zap.Logger

	mu         sync.Mutex
	timestamps map[uint64]uint64
}

// NewClient connects to the configured RPC endpoint. topics is the set of
// event signature hashes the indexer subscribes to.
func NewClient(cfg *config.ChainConfig, topics []common.Hash, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC: %w", err)
	}

	contract := common.HexToAddress(cfg.MarketplaceContract)

	logger.Info("Connected to chain",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("marketplace_contract", contract.Hex()))

	return &Client{
		client:     client,
		contract:   contract,
		topics:     topics,
		timeout:    cfg.RequestTimeout.Std(),
		retries:    cfg.MaxRetries,
		logger:     logger,
		timestamps: make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// CurrentBlockHeight returns the number of the latest block.
func (c *Client) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.withRetry(ctx, "eth_blockNumber", func(callCtx context.Context) error {
		header, err := c.client.HeaderByNumber(callCtx, nil)
		if err != nil {
			return err
		}
		height = header.Number.Uint64()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return height, nil
}

// FetchLogs returns the marketplace contract's logs for the block range,
// sorted ascending by (blockNumber, logIndex). Intra-block ordering matters:
// an OrderCreated can share a block with the ListingCreated it references.
func (c *Client) FetchLogs(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{c.topics},
	}

	var logs []types.Log
	err := c.withRetry(ctx, "eth_getLogs", func(callCtx context.Context) error {
		var err error
		logs, err = c.client.FilterLogs(callCtx, query)
		return err
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	return logs, nil
}

// BlockTimestamp returns the unix timestamp of a block, cached so a batch of
// listings minted in the same block costs a single header fetch.
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	c.mu.Lock()
	if ts, ok := c.timestamps[blockNumber]; ok {
		c.mu.Unlock()
		return ts, nil
	}
	c.mu.Unlock()

	var ts uint64
	err := c.withRetry(ctx, "eth_getHeaderByNumber", func(callCtx context.Context) error {
		header, err := c.client.HeaderByNumber(callCtx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return err
		}
		ts = header.Time
		return nil
	})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if len(c.timestamps) >= timestampCacheLimit {
		c.timestamps = make(map[uint64]uint64)
	}
	c.timestamps[blockNumber] = ts
	c.mu.Unlock()

	return ts, nil
}

// withRetry runs call with a bounded per-call timeout, retrying transient
// failures with exponential backoff. After exhausting retries the endpoint is
// reported unavailable.
func (c *Client) withRetry(ctx context.Context, method string, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %w", ErrTransient, method, ctx.Err())
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			metrics.ChainRequests.WithLabelValues(method, "ok").Inc()
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.ChainRequests.WithLabelValues(method, "canceled").Inc()
			return fmt.Errorf("%w: %s: %w", ErrTransient, method, ctx.Err())
		}

		metrics.ChainRequests.WithLabelValues(method, "error").Inc()
		c.logger.Warn("Chain RPC call failed",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if !retryable(err) {
			return fmt.Errorf("%w: %s: %w", ErrTransient, method, err)
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %w", ErrChainUnavailable, method, c.retries+1, lastErr)
}

// retryable classifies an RPC error as worth retrying within this call.
func retryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
