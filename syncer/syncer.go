// Package syncer drives the engine from a chain source. It applies events one
// at a time in chain order, keeps the cursor and block hashes in the journal and
// rewinds the entity store when the chain reorganises under it.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"creditindexer/chain"
	"creditindexer/contracts"
	"creditindexer/observability/logging"
	"creditindexer/observability/metrics"
	"creditindexer/storage"
	"creditindexer/store"
)

var (
	// ErrReorgTooDeep is returned when no journaled block matches the chain.
	ErrReorgTooDeep = errors.New("syncer: no common ancestor in journal")
	// ErrRewindOutOfRange rejects rewinds past retained history or above the
	// cursor.
	ErrRewindOutOfRange = errors.New("syncer: rewind target out of range")
)

// Applier applies one raw event atomically.
type Applier interface {
	Apply(ctx context.Context, ev chain.Event) error
	Registry() *contracts.Registry
}

// Forgetter is implemented by sources that cache per-block data.
type Forgetter interface {
	Forget(n uint64)
}

type receivedRecorder interface {
	RecordReceived(name string)
}

// Status is a point-in-time view of sync progress.
type Status struct {
	Cursor         uint64 `json:"cursor"`
	Started        bool   `json:"started"`
	Head           uint64 `json:"head"`
	Target         uint64 `json:"target"`
	PendingRewinds int    `json:"pendingRewinds"`
	LastError      string `json:"lastError,omitempty"`
}

// Syncer pulls events from a source and applies them strictly in order.
type Syncer struct {
	source  chain.Source
	engine  Applier
	store   *store.Store
	journal *storage.Journal

	confirmations uint64
	batchSize     uint64
	pollInterval  time.Duration
	retainBlocks  uint64
	startBlock    uint64

	logger   *slog.Logger
	metrics  *metrics.IndexerMetrics
	received receivedRecorder

	mu      sync.Mutex
	rewinds []uint64
	head    uint64
	target  uint64
	lastErr error
	// applied is the last event applied inside a block that is not yet
	// committed to the journal.
	applied *chain.Position
}

// Option customises a Syncer.
type Option func(*Syncer)

// WithConfirmations keeps the syncer n blocks behind the head.
func WithConfirmations(n uint64) Option {
	return func(s *Syncer) { s.confirmations = n }
}

// WithBatchSize bounds the block range fetched per step.
func WithBatchSize(n uint64) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithPollInterval sets the wait between steps once caught up or after a
// failure.
func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRetainBlocks bounds how far back revisions and block hashes are kept.
// Zero keeps everything.
func WithRetainBlocks(n uint64) Option {
	return func(s *Syncer) { s.retainBlocks = n }
}

// WithStartBlock sets the first block indexed on an empty journal.
func WithStartBlock(n uint64) Option {
	return func(s *Syncer) { s.startBlock = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables prometheus collection for sync progress and received
// events.
func WithMetrics(m *metrics.IndexerMetrics, received receivedRecorder) Option {
	return func(s *Syncer) {
		s.metrics = m
		s.received = received
	}
}

// New constructs a syncer with sane defaults.
func New(source chain.Source, engine Applier, st *store.Store, journal *storage.Journal, opts ...Option) *Syncer {
	s := &Syncer{
		source:       source,
		engine:       engine,
		store:        st,
		journal:      journal,
		batchSize:    500,
		pollInterval: 5 * time.Second,
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed registers every tranched pool already in the store so their logs are
// watched from the first step.
func (s *Syncer) Seed(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pools, err := store.List[store.TranchedPool](s.store, store.Query{})
	if err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}
	registry := s.engine.Registry()
	for _, pool := range pools {
		registry.Register(common.HexToAddress(pool.ID), contracts.RoleTranchedPool)
	}
	s.logger.Info("registry seeded", "pools", len(pools))
	return nil
}

// Run seeds the registry and steps until the context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.Seed(ctx); err != nil {
		return err
	}
	for {
		more, err := s.Step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Error("sync step failed", "error", err, "retry_in", s.pollInterval.String())
		}
		if more && err == nil {
			continue
		}
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RequestRewind queues a rewind to block to. It runs at the start of the next
// step or between two events of the current one.
func (s *Syncer) RequestRewind(to uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewinds = append(s.rewinds, to)
}

// Status reports the cursor and the last observed head.
func (s *Syncer) Status() (Status, error) {
	cursor, ok, err := s.journal.Cursor()
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Cursor:         cursor,
		Started:        ok,
		Head:           s.head,
		Target:         s.target,
		PendingRewinds: len(s.rewinds),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st, nil
}

func (s *Syncer) pendingRewind() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rewinds) > 0
}

func (s *Syncer) takeRewinds() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.rewinds
	s.rewinds = nil
	return out
}

func (s *Syncer) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// Step runs queued rewinds, checks the cursor block for a reorganisation and
// applies the next batch. more reports whether confirmed blocks remain.
func (s *Syncer) Step(ctx context.Context) (more bool, err error) {
	for _, to := range s.takeRewinds() {
		if err := s.Rewind(ctx, to); err != nil {
			s.logger.Error("queued rewind rejected", "to", to, "error", err)
		}
	}

	head, err := s.source.Head(ctx)
	if err != nil {
		return false, s.fail(fmt.Errorf("fetch head: %w", err))
	}
	var target uint64
	if head >= s.confirmations {
		target = head - s.confirmations
	}
	s.mu.Lock()
	s.head, s.target = head, target
	s.mu.Unlock()

	cursor, started, err := s.journal.Cursor()
	if err != nil {
		return false, s.fail(err)
	}
	from := s.startBlock
	if started {
		cursor, err = s.reconcile(ctx, cursor)
		if err != nil {
			return false, s.fail(err)
		}
		from = cursor + 1
	}
	if from > target {
		s.metrics.SetHeadLag(0)
		return false, s.fail(nil)
	}
	end := target
	if end-from+1 > s.batchSize {
		end = from + s.batchSize - 1
	}

	evs, err := s.source.Events(ctx, from, end)
	if err != nil {
		return false, s.fail(fmt.Errorf("fetch events [%d,%d]: %w", from, end, err))
	}
	pending := uint64(0)
	var pendingHash common.Hash
	for _, ev := range evs {
		if pending != 0 && ev.Position.Block != pending {
			if err := s.commit(pending, pendingHash); err != nil {
				return false, s.fail(err)
			}
		}
		pending, pendingHash = ev.Position.Block, ev.BlockHash
		if s.pendingRewind() {
			return true, s.fail(nil)
		}
		if s.applied != nil && !s.applied.Before(ev.Position) {
			continue
		}
		if s.received != nil {
			s.received.RecordReceived(ev.Name)
		}
		if err := s.engine.Apply(ctx, ev); err != nil {
			s.logger.Error("event failed, batch stopped",
				"event", ev.Name,
				"id", ev.ID(),
				"position", ev.Position.String(),
				"error", err)
			return false, s.fail(err)
		}
		pos := ev.Position
		s.applied = &pos
	}

	header, err := s.source.HeaderByNumber(ctx, end)
	if err != nil {
		return false, s.fail(err)
	}
	if pending != 0 && pending != end {
		if err := s.commit(pending, pendingHash); err != nil {
			return false, s.fail(err)
		}
	}
	if err := s.commit(end, header.Hash); err != nil {
		return false, s.fail(err)
	}
	s.metrics.SetHeadLag(target - end)
	if err := s.prune(ctx, end); err != nil {
		return false, s.fail(err)
	}
	s.logger.Debug("batch applied", "from", from, "to", end, "events", len(evs))
	return end < target, s.fail(nil)
}

// commit marks block n fully applied.
func (s *Syncer) commit(n uint64, hash common.Hash) error {
	if (hash != common.Hash{}) {
		if err := s.journal.RecordBlock(n, hash); err != nil {
			return fmt.Errorf("record block %d: %w", n, err)
		}
	}
	if err := s.journal.SetCursor(n); err != nil {
		return fmt.Errorf("advance cursor to %d: %w", n, err)
	}
	s.applied = nil
	s.metrics.SetLastBlock(n)
	return nil
}

// reconcile verifies the cursor block against the chain and rewinds to the
// common ancestor on mismatch. It returns the cursor to continue from.
func (s *Syncer) reconcile(ctx context.Context, cursor uint64) (uint64, error) {
	match, err := s.matches(ctx, cursor)
	if err != nil || match {
		return cursor, err
	}
	blocks, err := s.journal.Blocks()
	if err != nil {
		return cursor, err
	}
	for _, n := range blocks {
		if n >= cursor {
			continue
		}
		match, err := s.matches(ctx, n)
		if err != nil {
			return cursor, err
		}
		if !match {
			continue
		}
		depth := cursor - n
		s.logger.Warn("chain reorganisation", "cursor", cursor, "ancestor", n, "depth", depth)
		if err := s.rewind(ctx, n); err != nil {
			return cursor, err
		}
		s.metrics.ObserveReorg(depth)
		return n, nil
	}
	return cursor, fmt.Errorf("%w: cursor %d", ErrReorgTooDeep, cursor)
}

func (s *Syncer) matches(ctx context.Context, n uint64) (bool, error) {
	recorded, ok, err := s.journal.Hash(n)
	if err != nil {
		return false, err
	}
	if !ok {
		// Nothing recorded for n; it cannot be checked.
		return true, nil
	}
	header, err := s.source.HeaderByNumber(ctx, n)
	if err != nil {
		return false, err
	}
	return header.Hash == recorded, nil
}

// Rewind restores the store to its state after block to and moves the cursor
// there. Blocks above to are re-applied by the next step.
func (s *Syncer) Rewind(ctx context.Context, to uint64) error {
	cursor, started, err := s.journal.Cursor()
	if err != nil {
		return err
	}
	if !started || to > cursor {
		return fmt.Errorf("%w: %d above cursor %d", ErrRewindOutOfRange, to, cursor)
	}
	if s.retainBlocks > 0 && cursor > s.retainBlocks && to < cursor-s.retainBlocks {
		return fmt.Errorf("%w: %d below retained history", ErrRewindOutOfRange, to)
	}
	s.logger.Warn("rewinding", "cursor", cursor, "to", to)
	return s.rewind(ctx, to)
}

func (s *Syncer) rewind(ctx context.Context, to uint64) error {
	restored, err := s.store.Rewind(ctx, to)
	if err != nil {
		return fmt.Errorf("rewind store to %d: %w", to, err)
	}
	if err := s.journal.TruncateAbove(to); err != nil {
		return fmt.Errorf("truncate journal above %d: %w", to, err)
	}
	if f, ok := s.source.(Forgetter); ok {
		f.Forget(to + 1)
	}
	s.applied = nil
	s.metrics.SetLastBlock(to)
	s.logger.Info("store rewound", "to", to, "revisions", restored)
	return nil
}

func (s *Syncer) prune(ctx context.Context, cursor uint64) error {
	if s.retainBlocks == 0 || cursor <= s.retainBlocks {
		return nil
	}
	below := cursor - s.retainBlocks
	if err := s.store.Prune(ctx, below); err != nil {
		return fmt.Errorf("prune revisions below %d: %w", below, err)
	}
	return s.journal.PruneBelow(below)
}
