// Package engine is the matching core of the trading platform.
//
// It wires together all subsystems:
//
//  1. Submissions are validated, admitted to the registry, and offered to
//     the opposite book for a single price-time-priority match attempt.
//  2. A match stages both orders, creates a settlement contract, and runs
//     deploy + execute against the chain backend outside the writer lock.
//  3. Settled matches complete both orders; failed settlements revert them
//     to the book with their original queue priority.
//  4. Every transition emits an event; a dispatcher goroutine fans events
//     out to the configured sinks and persists terminal records.
//  5. Analytics assembles read-only statistics over all components.
//
// Lifecycle: New() → Start() → [serves until shutdown] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"gridtrade/internal/analytics"
	"gridtrade/internal/book"
	"gridtrade/internal/chain"
	"gridtrade/internal/config"
	"gridtrade/internal/contract"
	"gridtrade/internal/registry"
	"gridtrade/pkg/types"
)

// Store persists terminal orders and settled contracts. The engine calls it
// only from the event dispatcher goroutine, never inside a writer section.
type Store interface {
	SaveOrder(ctx context.Context, o types.Order) error
	SaveContract(ctx context.Context, c types.Contract) error
	Close() error
}

// EventSink receives every engine event, in emission order.
type EventSink interface {
	Publish(evt types.Event) error
}

// ListFilter narrows ListOrders results.
type ListFilter = registry.Filter

// SubmitResult reports the outcome of a submission. Matched is true only
// when the order matched and its contract settled; ContractID is set in
// that case.
type SubmitResult struct {
	OrderID    string
	Matched    bool
	ContractID string
}

// stagedMatch tracks a match between staging and settlement. Both order IDs
// key the same record in the in-flight table, so a cancellation arriving
// while settlement runs outside the lock can find its counterparty.
type stagedMatch struct {
	contractID  string
	buyOrderID  string
	sellOrderID string
	stagedAt    time.Time
}

// counters are the engine's own tallies, written only inside writer
// sections and read under the read lock.
type counters struct {
	submitted           int
	attempted           int
	completed           int
	failed              int
	cancelledAfterMatch int
}

// Engine orchestrates the books, the registry, the contract lifecycle, and
// the event stream.
//
// mu is the writer boundary: Submit staging, settlement finalization,
// cancellation, and retention sweeps hold it exclusively; queries and
// snapshots hold it shared. Contract settlement itself (the slow part) runs
// between writer sections, never inside one.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	books     *book.Book
	registry  *registry.Registry
	contracts *contract.Manager
	executor  *contract.Executor
	verifier  *contract.Verifier
	analytics *analytics.Service
	backend   contract.Backend

	store Store
	sinks []EventSink

	mu        sync.RWMutex
	inflight  map[string]*stagedMatch
	counters  counters
	startedAt time.Time

	// poisoned latches on an internal invariant breach; submissions are
	// refused until an operator intervenes.
	poisoned atomic.Bool

	events  chan types.Event
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithStore sets the persistence collaborator. The engine takes ownership
// and closes it on Stop.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithSink adds an event sink. Repeatable; sinks are invoked in the order
// they were added.
func WithSink(s EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithBackend replaces the default chain simulator.
func WithBackend(b contract.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		books:     book.New(),
		registry:  registry.New(),
		contracts: contract.NewManager(logger),
		inflight:  make(map[string]*stagedMatch),
		startedAt: time.Now().UTC(),
		events:    make(chan types.Event, cfg.Engine.EventBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.backend == nil {
		e.backend = chain.New(chain.Config{
			Delay:     cfg.Engine.ExecuteDelay,
			GasMinETH: cfg.Engine.GasMinETH,
			GasMaxETH: cfg.Engine.GasMaxETH,
		}, logger)
	}
	e.executor = contract.NewExecutor(e.contracts, e.backend, cfg.Engine.ExecuteTimeout, logger)

	verifier, err := contract.NewVerifier(e.contracts, cfg.Engine.VerifyCacheCapacity, cfg.Engine.VerifyBaseline, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	e.verifier = verifier

	e.analytics = analytics.New(cfg.Engine.StatsTTL, e.collectInputs)
	return e, nil
}

// Start launches the event dispatcher and, when retention is configured,
// the sweeper.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchEvents()
	}()

	if e.cfg.Engine.RetentionDays > 0 {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runSweeper()
		}()
	}

	e.logger.Info("engine started",
		"execute_timeout", e.cfg.Engine.ExecuteTimeout,
		"verify_cache_capacity", e.cfg.Engine.VerifyCacheCapacity,
		"retention_days", e.cfg.Engine.RetentionDays,
	)
	return nil
}

// Stop shuts down gracefully: stops accepting events, drains what was
// buffered, waits for goroutines, and closes the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()

	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("store close failed", "error", err)
		}
	}
	if n := e.dropped.Load(); n > 0 {
		e.logger.Warn("events dropped during run", "count", n)
	}
	e.logger.Info("shutdown complete")
}

// emit queues an event without ever blocking a writer section. When the
// buffer is full the event is dropped and counted.
func (e *Engine) emit(evt types.Event) {
	select {
	case e.events <- evt:
	default:
		e.dropped.Add(1)
		e.logger.Warn("event buffer full, dropping", "type", evt.Type)
	}
}

// dispatchEvents is the only goroutine that talks to sinks and the store.
// On shutdown it drains the buffer before returning so terminal records
// reach the archive.
func (e *Engine) dispatchEvents() {
	for {
		select {
		case <-e.ctx.Done():
			for {
				select {
				case evt := <-e.events:
					e.deliver(evt)
				default:
					return
				}
			}
		case evt := <-e.events:
			e.deliver(evt)
		}
	}
}

func (e *Engine) deliver(evt types.Event) {
	for _, sink := range e.sinks {
		if err := sink.Publish(evt); err != nil {
			e.logger.Error("event sink publish failed", "type", evt.Type, "error", err)
		}
	}
	e.persist(evt)
}

// persist writes terminal records behind the events that settle them.
func (e *Engine) persist(evt types.Event) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	saveOrder := func(id string) {
		if o, ok := e.registry.Get(id); ok {
			if err := e.store.SaveOrder(ctx, o); err != nil {
				e.logger.Error("order archive failed", "order_id", id, "error", err)
			}
		}
	}
	saveContract := func(id string) {
		if c, ok := e.contracts.Get(id); ok {
			if err := e.store.SaveContract(ctx, c); err != nil {
				e.logger.Error("contract archive failed", "contract_id", id, "error", err)
			}
		}
	}

	switch evt.Type {
	case types.EventOrderCancelled:
		saveOrder(evt.OrderID)
	case types.EventContractExecuted:
		saveContract(evt.ContractID)
		if c, ok := e.contracts.Get(evt.ContractID); ok {
			saveOrder(c.BuyerOrderID)
			saveOrder(c.SellerOrderID)
		}
	case types.EventContractFailed, types.EventContractVerified:
		saveContract(evt.ContractID)
	}
}

// runSweeper evicts terminal orders past the retention horizon once an hour.
func (e *Engine) runSweeper() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -e.cfg.Engine.RetentionDays)
			e.mu.Lock()
			removed := e.registry.Sweep(cutoff)
			e.mu.Unlock()
			if removed > 0 {
				e.logger.Info("retention sweep", "removed", removed, "cutoff", cutoff)
			}
		}
	}
}

// --- Read API ---

// QueryOrder returns one order by ID.
func (e *Engine) QueryOrder(id string) (types.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.registry.Get(id)
	if !ok {
		return types.Order{}, ErrNotFound
	}
	return o, nil
}

// ListOrders returns orders newest-first, filtered and capped at 200.
func (e *Engine) ListOrders(f ListFilter) []types.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.List(f)
}

// BookSnapshot returns a consistent copy of one category's book. It can
// never observe a match mid-staging: staging happens inside the writer lock.
func (e *Engine) BookSnapshot(cat types.Category) (types.BookView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books.Snapshot(cat)
}

// MarketDepth returns price-aggregated depth for one category. levels caps
// the number of price levels per side; 0 means all.
func (e *Engine) MarketDepth(cat types.Category, levels int) (types.MarketDepth, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.books.Depth(cat, levels)
}

// PendingByCategory counts resting orders per category and side.
func (e *Engine) PendingByCategory() map[types.Category]map[types.Side]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.PendingByCategory()
}

// Contract returns one contract by ID.
func (e *Engine) Contract(id string) (types.Contract, error) {
	c, ok := e.contracts.Get(id)
	if !ok {
		return types.Contract{}, ErrNotFound
	}
	return c, nil
}

// ListContracts returns contracts newest-first.
func (e *Engine) ListContracts(f contract.ListFilter) []types.Contract {
	return e.contracts.List(f)
}

// Stats returns the analytics snapshot, recomputed at most once per
// configured TTL.
func (e *Engine) Stats(ctx context.Context) (types.Stats, error) {
	return e.analytics.Stats(ctx)
}

// collectInputs gathers the raw material for one analytics recomputation
// under the read lock, so the numbers all describe the same instant.
func (e *Engine) collectInputs() analytics.Inputs {
	e.mu.RLock()
	defer e.mu.RUnlock()

	views := make([]types.BookView, 0, len(types.Categories()))
	for _, cat := range types.Categories() {
		view, err := e.books.Snapshot(cat)
		if err != nil {
			continue
		}
		views = append(views, view)
	}

	return analytics.Inputs{
		StartedAt:             e.startedAt,
		Counts:                e.registry.Counts(),
		Submitted:             e.counters.submitted,
		MatchesAttempted:      e.counters.attempted,
		MatchesCompleted:      e.counters.completed,
		MatchesFailed:         e.counters.failed,
		CancelledAfterMatch:   e.counters.cancelledAfterMatch,
		Views:                 views,
		CompletedLatenciesSec: e.registry.CompletedLatencies(),
		VolumeByCategory:      e.registry.VolumeByCategory(),
		TotalValueCompleted:   e.contracts.TotalValueCompleted(),
		GasSpentETH:           e.contracts.GasSpent(),
		Verification:          e.verifier.Stats(),
	}
}

// --- Contract API ---

// DeployDirect creates and deploys a contract from explicit terms,
// bypassing matching entirely (administrative pathway). No orders are
// involved; the contract enters the lifecycle already active.
func (e *Engine) DeployDirect(p DeployParams) (types.Contract, error) {
	if err := validateDeploy(p); err != nil {
		return types.Contract{}, err
	}
	c := e.contracts.Create(contract.CreateParams{
		Buyer:          p.Buyer,
		Seller:         p.Seller,
		Category:       p.Category,
		Quantity:       p.Quantity,
		ExecutionPrice: p.Price,
		CreatedAt:      time.Now().UTC(),
	})
	deployed, err := e.contracts.Deploy(c.ID)
	if err != nil {
		return deployed, err
	}
	e.emit(types.Event{
		Type:       types.EventContractDeployed,
		Timestamp:  time.Now().UTC(),
		ContractID: deployed.ID,
		TxHash:     deployed.TxHash,
		Category:   deployed.Category,
	})
	return deployed, nil
}

// DeployContract activates a pending contract (operational pathway; the
// submit path deploys inline). Deploying an already-active contract is an
// idempotent no-op returning the same record.
func (e *Engine) DeployContract(id string) (types.Contract, error) {
	before, ok := e.contracts.Get(id)
	if !ok {
		return types.Contract{}, ErrNotFound
	}
	c, err := e.contracts.Deploy(id)
	if err != nil {
		return c, err
	}
	if before.State == types.ContractPending {
		e.emit(types.Event{
			Type:       types.EventContractDeployed,
			Timestamp:  time.Now().UTC(),
			ContractID: c.ID,
			TxHash:     c.TxHash,
			Category:   c.Category,
		})
	}
	return c, nil
}

// ExecuteContract settles an active contract (operational pathway; the
// submit path executes inline). If the contract belongs to an in-flight
// match, its orders are finalized exactly as the submit path would.
func (e *Engine) ExecuteContract(ctx context.Context, id string) (types.Contract, error) {
	if _, ok := e.contracts.Get(id); !ok {
		return types.Contract{}, ErrNotFound
	}

	executed, execErr := e.executor.Execute(ctx, id)
	if errors.Is(execErr, contract.ErrNotExecutable) {
		// Still pending: the submitting goroutine owns settlement between
		// its writer sections. Finalizing here would revert a match that
		// is about to deploy.
		return executed, execErr
	}
	if execErr != nil && !errors.Is(execErr, contract.ErrExecuteTimeout) {
		execErr = fmt.Errorf("%w: %v", ErrExecutionFailed, execErr)
	}

	e.mu.Lock()
	staged, inFlight := e.inflight[executed.BuyerOrderID]
	e.mu.Unlock()
	if inFlight && staged.contractID == id {
		e.finalize(staged, "", execErr)
	}
	return executed, execErr
}

// VerifyContract checks a transaction hash against a contract. Repeat
// verifications of the same pair are answered from the cache.
func (e *Engine) VerifyContract(id, txHash string) (contract.Verdict, error) {
	verdict, err := e.verifier.Verify(id, txHash)
	if err != nil {
		if errors.Is(err, contract.ErrNotFound) {
			return contract.Verdict{}, ErrNotFound
		}
		return contract.Verdict{}, err
	}
	if !verdict.Cached {
		e.emit(types.Event{
			Type:       types.EventContractVerified,
			Timestamp:  time.Now().UTC(),
			ContractID: id,
			TxHash:     txHash,
			Verified:   verdict.Verified,
			Latency:    verdict.Latency,
		})
	}
	return verdict, nil
}

// BatchVerify verifies each contract against its stored hash, preserving
// input order.
func (e *Engine) BatchVerify(ids []string) []contract.BatchResult {
	return e.verifier.BatchVerify(ids)
}

// entryOf projects an order onto its book entry.
func entryOf(o types.Order) types.BookEntry {
	return types.BookEntry{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Price:     o.LimitPrice,
		Quantity:  o.Quantity,
		CreatedAt: o.CreatedAt,
	}
}

// midpoint is the execution price of a match: halfway between the two
// limits, computed in decimal so no float error leaks into settled values.
func midpoint(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Div(decimal.NewFromInt(2))
}
