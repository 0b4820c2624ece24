// Package indexer is the accounting engine. It turns each decoded protocol
// event into snapshot recomputations of the derived entities, issuing
// block-pinned view calls where authoritative values live on chain.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"creditindexer/chain"
	"creditindexer/contracts"
	"creditindexer/events"
	"creditindexer/numeric"
	"creditindexer/observability/logging"
	"creditindexer/observability/metrics"
	"creditindexer/store"
)

var (
	// ErrIntegrity marks an event that references an entity which must already
	// exist. It indicates a missed upstream event and needs operator backfill.
	ErrIntegrity = errors.New("indexer: referential integrity violation")
	// ErrUnhandled is returned for an event kind without a handler.
	ErrUnhandled = errors.New("indexer: unhandled event")
)

// EventError wraps a failure with the coordinates of the event that caused it.
type EventError struct {
	Name     string
	ID       string
	Position chain.Position
	Err      error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("apply %s (%s) at %s: %v", e.Name, e.ID, e.Position, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }

func integrity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// Default accounting constants.
const (
	DefaultDustThreshold  = "1000000000000"
	DefaultLeverageCutoff = 1643943600
)

// Config carries the accounting constants and the addresses the registry does
// not know about.
type Config struct {
	// DustThreshold is the residual FIDU, in smallest units, absorbed at epoch
	// settlement.
	DustThreshold numeric.Int
	// LeverageCutoff selects the leverage strategy: pools created before it use
	// LegacyLeverageStrategy.
	LeverageCutoff         uint64
	LeverageStrategy       common.Address
	LegacyLeverageStrategy common.Address
	// LegacyPools predate slices and leverage.
	LegacyPools []common.Address
}

// DefaultConfig returns the historical constants.
func DefaultConfig() Config {
	return Config{
		DustThreshold:  numeric.MustInt(DefaultDustThreshold),
		LeverageCutoff: DefaultLeverageCutoff,
	}
}

// Engine applies events to the store one at a time.
type Engine struct {
	store    *store.Store
	caller   chain.Caller
	registry *contracts.Registry
	cfg      Config
	legacy   map[string]struct{}
	logger   *slog.Logger
	metrics  *metrics.IndexerMetrics
	tracer   trace.Tracer
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics enables prometheus collection.
func WithMetrics(m *metrics.IndexerMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for per-event spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// New builds an engine.
func New(st *store.Store, caller chain.Caller, registry *contracts.Registry, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		caller:   caller,
		registry: registry,
		cfg:      cfg,
		legacy:   make(map[string]struct{}, len(cfg.LegacyPools)),
		logger:   logging.Discard(),
		tracer:   noop.NewTracerProvider().Tracer("creditindexer/indexer"),
	}
	// Legacy pools predate the factory, so no PoolCreated log ever announces them.
	for _, pool := range cfg.LegacyPools {
		e.legacy[chain.AddressKey(pool)] = struct{}{}
		if registry != nil {
			registry.Register(pool, contracts.RoleTranchedPool)
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry exposes the role registry shared with the source.
func (e *Engine) Registry() *contracts.Registry { return e.registry }

// Apply resolves the emitting contract's role, decodes raw and handles it.
// Items from contracts the engine does not track, and event names a role does
// not emit, are skipped.
func (e *Engine) Apply(ctx context.Context, raw chain.Event) error {
	role, err := e.resolve(raw.Contract)
	if err != nil {
		return &EventError{Name: raw.Name, ID: raw.ID(), Position: raw.Position, Err: err}
	}
	if role == contracts.RoleUnknown {
		e.metrics.ObserveSkipped("unknown_contract")
		return nil
	}
	ev, err := events.Decode(raw, role)
	if errors.Is(err, events.ErrUnknownEvent) {
		e.metrics.ObserveSkipped("unknown_event")
		return nil
	}
	if err != nil {
		e.metrics.ObserveFailure(raw.Name, "decode")
		return &EventError{Name: raw.Name, ID: raw.ID(), Position: raw.Position, Err: err}
	}
	return e.Handle(ctx, ev)
}

func (e *Engine) resolve(addr common.Address) (contracts.Role, error) {
	if role := e.registry.Role(addr); role != contracts.RoleUnknown {
		return role, nil
	}
	known, err := store.Exists[store.TranchedPool](e.store, chain.AddressKey(addr))
	if err != nil {
		return contracts.RoleUnknown, err
	}
	if known {
		e.registry.Register(addr, contracts.RoleTranchedPool)
		return contracts.RoleTranchedPool, nil
	}
	return contracts.RoleUnknown, nil
}

// Handle applies one decoded event atomically.
func (e *Engine) Handle(ctx context.Context, ev events.Event) error {
	h := ev.EventHeader()
	ctx, span := e.tracer.Start(ctx, "indexer.apply "+h.Name, trace.WithAttributes(
		attribute.String("event.name", h.Name),
		attribute.String("event.role", string(h.Role)),
		attribute.Int64("block.number", int64(h.Position.Block)),
		attribute.Int64("tx.index", int64(h.Position.TxIndex)),
		attribute.Int64("log.index", int64(h.Position.LogIndex)),
	))
	defer span.End()

	start := time.Now()
	err := e.store.Transaction(ctx, h.Position.Block, func(tx *store.Tx) error {
		r := &run{ctx: ctx, tx: tx, e: e, h: h}
		return r.dispatch(ev)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reason := "error"
		if errors.Is(err, ErrIntegrity) {
			reason = "integrity"
		}
		e.metrics.ObserveFailure(h.Name, reason)
		e.logger.Error("event aborted",
			"event", h.Name,
			"id", h.ID,
			"position", h.Position.String(),
			"contract", h.Contract.Hex(),
			"error", err)
		return &EventError{Name: h.Name, ID: h.ID, Position: h.Position, Err: err}
	}
	e.metrics.ObserveApplied(h.Name, time.Since(start).Seconds())
	return nil
}

// run is the per-event context handed to handlers. It lives for exactly one
// event so no state crosses handler invocations.
type run struct {
	ctx context.Context
	tx  *store.Tx
	e   *Engine
	h   events.Header
}

func (r *run) block() uint64 { return r.h.Position.Block }

func (r *run) timestamp() uint64 { return r.h.Timestamp }

func (r *run) call(contract common.Address, fn string, args ...any) (chain.Result, error) {
	res, err := r.e.caller.Call(r.ctx, chain.Call{Contract: contract, Function: fn, Args: args, Block: r.block()})
	if err != nil {
		return chain.Result{}, fmt.Errorf("%s on %s: %w", fn, contract.Hex(), err)
	}
	if !res.Success {
		r.e.metrics.ObserveRevert(fn)
		r.e.logger.Debug("query reverted",
			"method", fn,
			"contract", contract.Hex(),
			"block", r.block(),
			"reason", res.RevertReason)
	}
	return res, nil
}

// callUint issues a single-output call. ok is false on revert.
func (r *run) callUint(contract common.Address, fn string, args ...any) (numeric.Int, bool, error) {
	res, err := r.call(contract, fn, args...)
	if err != nil {
		return numeric.Int{}, false, err
	}
	v, ok := res.Uint(0)
	if !ok {
		return numeric.Int{}, false, nil
	}
	return numeric.NewInt(v), true, nil
}

func (r *run) address(role contracts.Role) (common.Address, bool) {
	return r.e.registry.Address(role)
}

func (r *run) isLegacy(pool string) bool {
	_, ok := r.e.legacy[pool]
	return ok
}

func key(addr common.Address) string { return chain.AddressKey(addr) }

// watermark renders a position so that lexical order matches chain order.
func watermark(p chain.Position) string {
	return fmt.Sprintf("%020d:%010d:%010d", p.Block, p.TxIndex, p.LogIndex)
}

// fresh reports whether the event is newer than mark. Delta transitions use it
// so a replayed event is not applied twice.
func (r *run) fresh(mark string) bool {
	return strings.Compare(watermark(r.h.Position), mark) > 0
}

func uintAt(res chain.Result, i int) (numeric.Int, bool) {
	v, ok := res.Uint(i)
	if !ok {
		return numeric.Int{}, false
	}
	return numeric.NewInt(v), true
}
