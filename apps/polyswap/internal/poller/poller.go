// Package poller drives block-range processing: a backfill pass from the
// persisted cursor to the chain head, then fixed-interval polling. It is
// the only component that advances the processed-block cursor, and it does
// so only after a range has been fully processed.
package poller

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/chain"
	"polyswap/apps/polyswap/internal/decoder"
	"polyswap/apps/polyswap/internal/events"
)

const (
	reconnectInitialDelay = 2 * time.Second
	reconnectMaxDelay     = 2 * time.Minute

	// A UID backfill pass runs every this many polling cycles.
	uidBackfillEvery = 20
)

// CursorStore persists the last fully processed block.
type CursorStore interface {
	GetLatestProcessedBlock() (uint64, error)
	SetProcessedBlock(block uint64) error
}

// Redialer recreates the poller's node connection after a failed poll
// cycle. *chain.Dialer is the production implementation.
type Redialer interface {
	DialWithBackoff(ctx context.Context, initialDelay, maxDelay time.Duration) (chain.Client, error)
}

// EventSink consumes decoded events. *reconciler.Reconciler is the
// production implementation.
type EventSink interface {
	Apply(ctx context.Context, event events.Event) error
	BackfillMissingUIDs(ctx context.Context) error
}

// Range is an inclusive block range.
type Range struct {
	From uint64
	To   uint64
}

// FailedRange records a range that could not be fully processed.
type FailedRange struct {
	Range
	Err error
}

// RangeResult is the structured outcome of one backfill pass: callers and
// tests can assert on partial failure instead of grepping logs.
type RangeResult struct {
	Succeeded []Range
	Failed    []FailedRange
}

type Config struct {
	RegistryAddress   common.Address
	SettlementAddress common.Address
	StartBlock        uint64
	BatchSize         uint64
	PollInterval      time.Duration
}

// Poller owns its node connection outright: it is the only holder, it
// closes the connection when tearing down after a failed cycle, and Stop
// closes whichever connection is current. Request-path components must
// never be handed the poller's client.
type Poller struct {
	cfg     Config
	dialer  Redialer
	client  chain.Client
	decoder *decoder.Decoder
	sink    EventSink
	cursor  CursorStore
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(
	cfg Config,
	dialer Redialer,
	client chain.Client,
	dec *decoder.Decoder,
	sink EventSink,
	cursor CursorStore,
	logger *zap.Logger) *Poller {
	return &Poller{
		cfg:     cfg,
		dialer:  dialer,
		client:  client,
		decoder: dec,
		sink:    sink,
		cursor:  cursor,
		logger:  logger,
	}
}

// Start runs the backfill pass and then the polling loop until Stop is
// called or the parent context is canceled.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("poller already running")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.done = make(chan struct{})
	p.mu.Unlock()
	defer close(p.done)

	p.logger.Info("Starting conditional order poller",
		zap.String("registry", p.cfg.RegistryAddress.Hex()),
		zap.String("settlement", p.cfg.SettlementAddress.Hex()),
		zap.Uint64("batch_size", p.cfg.BatchSize))

	result, err := p.Backfill(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("Backfill pass complete",
		zap.Int("succeeded_ranges", len(result.Succeeded)),
		zap.Int("failed_ranges", len(result.Failed)))

	return p.pollLoop(ctx)
}

// Stop clears the running flag, cancels the polling timer and closes the
// poller's connection. In-flight network calls complete but their results
// are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.client.Close()
	p.logger.Info("Poller stopped")
}

func (p *Poller) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Backfill processes fixed-size ranges from cursor+1 up to the head at
// start time. A failed range is recorded and skipped so the remaining
// ranges still get a pass (completeness over ordering), but the cursor
// never advances past the first failure: the next full pass retries it.
func (p *Poller) Backfill(ctx context.Context) (RangeResult, error) {
	var result RangeResult

	cursor, err := p.cursorOrStart()
	if err != nil {
		return result, err
	}

	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return result, err
	}

	advance := true
	for from := cursor + 1; from <= head; from += p.cfg.BatchSize {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		to := from + p.cfg.BatchSize - 1
		if to > head {
			to = head
		}
		rng := Range{From: from, To: to}

		if err := p.processRange(ctx, from, to); err != nil {
			p.logger.Error("Failed to process block range",
				zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
			result.Failed = append(result.Failed, FailedRange{Range: rng, Err: err})
			advance = false
			continue
		}

		result.Succeeded = append(result.Succeeded, rng)
		if advance {
			if err := p.cursor.SetProcessedBlock(to); err != nil {
				return result, err
			}
		}
	}

	return result, nil
}

// pollLoop queries the head on a fixed timer and processes one batch-sized
// range when it has moved past the cursor. Cycles run on a single
// goroutine: ticks that fire while a cycle is still in flight are dropped
// by the ticker, so cycles are skipped rather than overlapped.
func (p *Poller) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !p.isRunning() {
			return nil
		}

		cycles++
		if err := p.pollOnce(ctx); err != nil {
			p.logger.Error("Poll cycle failed", zap.Error(err))
			p.reconnect(ctx)
		}

		if cycles%uidBackfillEvery == 0 {
			if err := p.sink.BackfillMissingUIDs(ctx); err != nil {
				p.logger.Error("UID backfill failed", zap.Error(err))
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return err
	}

	cursor, err := p.cursorOrStart()
	if err != nil {
		return err
	}

	if head <= cursor {
		return nil
	}

	from := cursor + 1
	to := from + p.cfg.BatchSize - 1
	if to > head {
		to = head
	}

	if err := p.processRange(ctx, from, to); err != nil {
		return err
	}

	return p.cursor.SetProcessedBlock(to)
}

// processRange is the single code path that feeds decoded events to the
// reconciler; backfill and polling both go through it. A decode error on
// one log is logged and skipped; a reconciliation failure fails the whole
// range so it gets retried.
func (p *Poller) processRange(ctx context.Context, from, to uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{p.cfg.RegistryAddress, p.cfg.SettlementAddress},
		Topics: [][]common.Hash{
			{decoder.ConditionalOrderCreatedSig, decoder.TradeSig, decoder.OrderInvalidatedSig},
		},
	}

	logs, err := p.client.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	p.logger.Debug("Scanned block range",
		zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("logs", len(logs)))

	for _, eventLog := range logs {
		event, err := p.decoder.Decode(eventLog)
		if err != nil {
			var decodeErr *decoder.DecodeError
			if errors.As(err, &decodeErr) {
				p.logger.Error("Skipping undecodable event",
					zap.String("tx_hash", eventLog.TxHash.Hex()),
					zap.Uint("log_index", eventLog.Index),
					zap.Error(err))
				continue
			}
			return err
		}
		if event == nil {
			continue
		}

		if err := p.sink.Apply(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// reconnect tears down the poller's own connection and redials with
// backoff. The poller keeps retrying rather than crashing the process.
// Closing here is safe only because no other component holds this client.
func (p *Poller) reconnect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	p.logger.Warn("Recreating node connection")
	p.client.Close()

	client, err := p.dialer.DialWithBackoff(ctx, reconnectInitialDelay, reconnectMaxDelay)
	if err != nil {
		p.logger.Error("Failed to re-establish node connection", zap.Error(err))
		return
	}
	p.client = client
}

// cursorOrStart clamps the persisted cursor to the configured minimum
// starting block.
func (p *Poller) cursorOrStart() (uint64, error) {
	cursor, err := p.cursor.GetLatestProcessedBlock()
	if err != nil {
		return 0, err
	}
	if cursor < p.cfg.StartBlock {
		cursor = p.cfg.StartBlock
	}
	return cursor, nil
}
