// Package syncer drives the catch-up-then-poll control loop. One goroutine
// owns the loop and every cycle runs to commit before the next can start,
// so overlapping cycles are structurally impossible.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridwatt/market-indexer/internal/metrics"
	"github.com/gridwatt/market-indexer/pkg/chain"
	"github.com/gridwatt/market-indexer/pkg/config"
	"github.com/gridwatt/market-indexer/pkg/events"
	"github.com/gridwatt/market-indexer/pkg/market"
	"github.com/gridwatt/market-indexer/pkg/marketstore"
	"github.com/gridwatt/market-indexer/pkg/reconciler"
)

const (
	phaseCatchup = "catchup"
	phaseTail    = "tail"
)

// Scheduler owns the sync loop. Construct with New and drive with Run.
type Scheduler struct {
	log        *zap.Logger
	reader     chain.LogReader
	decoder    *events.Decoder
	engine     *reconciler.Engine
	store      marketstore.Store
	poll       time.Duration
	maxBackoff time.Duration
	chunkSize  uint64
	startBlock uint64

	failures int
}

// New wires a scheduler from its collaborators. startBlock is the first
// block ever scanned on an empty checkpoint; a non-zero checkpoint always
// wins over it.
func New(
	logger *zap.Logger,
	reader chain.LogReader,
	decoder *events.Decoder,
	engine *reconciler.Engine,
	store marketstore.Store,
	cfg *config.IndexerConfig,
	startBlock uint64,
) *Scheduler {
	chunk := cfg.ChunkSize
	if chunk == 0 {
		chunk = 1
	}
	return &Scheduler{
		log:        logger.Named("syncer"),
		reader:     reader,
		decoder:    decoder,
		engine:     engine,
		store:      store,
		poll:       cfg.PollInterval.Std(),
		maxBackoff: cfg.MaxBackoff.Std(),
		chunkSize:  chunk,
		startBlock: startBlock,
	}
}

// Run blocks until ctx is cancelled. It first replays history from the
// checkpoint (or the configured start block) to the current head in bounded
// chunks, then follows the chain tail at the poll interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("starting sync loop",
		zap.Uint64("chunk_size", s.chunkSize),
		zap.Duration("poll_interval", s.poll))

	if err := s.CatchUp(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Step(ctx, phaseTail); err != nil {
				s.backoff(ctx, err)
			} else {
				s.failures = 0
			}
		}
	}
}

// CatchUp replays chunks until the checkpoint reaches the chain head.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	for {
		caughtUp, err := s.Step(ctx, phaseCatchup)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.backoff(ctx, err)
			continue
		}
		s.failures = 0
		if caughtUp {
			s.log.Info("catch-up complete")
			return ctx.Err()
		}
	}
}

// Step runs at most one cycle over the next pending chunk. It reports true
// when the checkpoint has reached the chain head.
func (s *Scheduler) Step(ctx context.Context, phase string) (bool, error) {
	cp, err := s.store.Checkpoint(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	head, err := s.reader.CurrentBlockHeight(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get chain head: %w", err)
	}

	from := cp.LastProcessedBlock + 1
	if cp.LastProcessedBlock == 0 && s.startBlock > from {
		from = s.startBlock
	}
	if from > head {
		return true, nil
	}

	to := from + s.chunkSize - 1
	if to > head {
		to = head
	}

	if err := s.runCycle(ctx, phase, cp, from, to); err != nil {
		metrics.CyclesTotal.WithLabelValues(phase, "error").Inc()
		return false, err
	}
	metrics.CyclesTotal.WithLabelValues(phase, "ok").Inc()
	return to == head, nil
}

func (s *Scheduler) runCycle(ctx context.Context, phase string, cp *market.Checkpoint, from, to uint64) error {
	cycleID := uuid.New().String()
	log := s.log.With(
		zap.String("cycle_id", cycleID),
		zap.String("phase", phase),
		zap.Uint64("from", from),
		zap.Uint64("to", to))
	started := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(phase).Observe(time.Since(started).Seconds())
	}()

	logs, err := s.reader.FetchLogs(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch logs for range [%d, %d]: %w", from, to, err)
	}

	batch := make([]reconciler.TimedEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := s.decoder.Decode(lg)
		if err != nil {
			var decodeErr *events.DecodeError
			if errors.As(err, &decodeErr) {
				metrics.DecodeErrors.Inc()
				log.Warn("skipping undecodable log",
					zap.Uint64("block", lg.BlockNumber),
					zap.Uint("log_index", lg.Index),
					zap.Error(err))
				continue
			}
			return err
		}

		ts, err := s.reader.BlockTimestamp(ctx, lg.BlockNumber)
		if err != nil {
			return fmt.Errorf("failed to resolve timestamp for block %d: %w", lg.BlockNumber, err)
		}
		batch = append(batch, reconciler.TimedEvent{Event: ev, At: time.Unix(int64(ts), 0).UTC()})
	}

	var applied int
	err = s.store.RunBatch(ctx, func(ctx context.Context, tx marketstore.Tx) error {
		applied, err = s.engine.ApplyBatch(ctx, tx, batch)
		if err != nil {
			return err
		}
		// Events and cursor commit together or not at all.
		return tx.SetCheckpoint(ctx, &market.Checkpoint{
			LastProcessedBlock: to,
			EventsProcessed:    cp.EventsProcessed + int64(applied),
		})
	})
	if err != nil {
		return fmt.Errorf("cycle %s aborted: %w", cycleID, err)
	}

	metrics.LastProcessedBlock.Set(float64(to))
	metrics.BlocksProcessed.Add(float64(to - from + 1))

	if len(batch) > 0 || phase == phaseCatchup {
		log.Info("cycle committed",
			zap.Int("events", applied),
			zap.Duration("took", time.Since(started)))
	}
	return nil
}

// backoff sleeps with exponential growth capped at the configured maximum.
// A cancelled context cuts the sleep short.
func (s *Scheduler) backoff(ctx context.Context, err error) {
	delay := s.poll << s.failures
	if delay > s.maxBackoff || delay <= 0 {
		delay = s.maxBackoff
	}
	s.failures++

	level := s.log.Warn
	if errors.Is(err, chain.ErrChainUnavailable) {
		level = s.log.Error
	}
	level("sync cycle failed, backing off",
		zap.Duration("delay", delay),
		zap.Int("consecutive_failures", s.failures),
		zap.Error(err))

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
