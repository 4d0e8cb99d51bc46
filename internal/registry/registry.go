// Package registry is the single source of truth for order state.
//
// Every order the engine admits lives here for its whole lifecycle; the
// books only index pending orders by reference. State transitions are
// compare-and-swap over the current state, so two writers cannot both win
// the same transition, and readers always see a complete record.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridtrade/pkg/types"
)

const (
	// DefaultListLimit applies when a filter leaves Limit at zero.
	DefaultListLimit = 50
	// MaxListLimit caps any list request.
	MaxListLimit = 200
)

var (
	// ErrNotFound is returned for order IDs the registry has never seen
	// (or has swept).
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateOrder is returned when admitting an ID twice.
	ErrDuplicateOrder = errors.New("order id already registered")
	// ErrStaleTransition is returned when the order is no longer in the
	// state the caller observed.
	ErrStaleTransition = errors.New("order state changed concurrently")
	// ErrIllegalTransition is returned for transitions outside the
	// lifecycle graph.
	ErrIllegalTransition = errors.New("illegal order state transition")
)

// legalNext is the order lifecycle graph. matched → pending is the revert
// path taken when a contract fails or a counterparty cancels in time.
var legalNext = map[types.OrderState]map[types.OrderState]bool{
	types.OrderPending: {
		types.OrderMatched:   true,
		types.OrderCancelled: true,
	},
	types.OrderMatched: {
		types.OrderCompleted: true,
		types.OrderPending:   true,
		types.OrderCancelled: true,
	},
}

// Filter narrows List results. A nil State matches every state; an empty
// UserID matches every user. Limit 0 means DefaultListLimit.
type Filter struct {
	State  *types.OrderState
	UserID string
	Limit  int
}

// Registry holds all orders in memory. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	orders map[string]*types.Order
	// seq records admission order. CreatedAt is assigned monotonically
	// under the engine's writer lock, so reverse seq order is newest-first
	// by creation time.
	seq []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{orders: make(map[string]*types.Order)}
}

// Add admits a new order record.
func (r *Registry) Add(o types.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return ErrDuplicateOrder
	}
	stored := o
	r.orders[o.ID] = &stored
	r.seq = append(r.seq, o.ID)
	return nil
}

// Get returns a copy of the order, so callers can never mutate registry
// state through the return value.
func (r *Registry) Get(id string) (types.Order, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// List returns matching orders newest-first.
func (r *Registry) List(f Filter) []types.Order {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Order, 0, limit)
	for i := len(r.seq) - 1; i >= 0 && len(out) < limit; i-- {
		o, ok := r.orders[r.seq[i]]
		if !ok {
			continue
		}
		if f.State != nil && o.State != *f.State {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// SetState moves an order from one state to another. The from state makes
// the call a compare-and-swap: if the order moved on in the meantime the
// caller gets ErrStaleTransition and must re-read.
func (r *Registry) SetState(id string, from, to types.OrderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transition(id, from, to)
}

// transition applies a CAS state change. Caller holds r.mu.
func (r *Registry) transition(id string, from, to types.OrderState) error {
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.State != from {
		return ErrStaleTransition
	}
	if !legalNext[from][to] {
		return ErrIllegalTransition
	}
	o.State = to
	o.UpdatedAt = time.Now().UTC()
	if to == types.OrderPending || to == types.OrderCancelled {
		o.MatchedWith = ""
	}
	return nil
}

// RecordMatch marks both sides of a match atomically: either both orders
// move pending → matched with symmetric MatchedWith links, or neither does.
func (r *Registry) RecordMatch(buyID, sellID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	buy, ok := r.orders[buyID]
	if !ok {
		return ErrNotFound
	}
	sell, ok := r.orders[sellID]
	if !ok {
		return ErrNotFound
	}
	if buy.State != types.OrderPending || sell.State != types.OrderPending {
		return ErrStaleTransition
	}

	now := time.Now().UTC()
	buy.State, sell.State = types.OrderMatched, types.OrderMatched
	buy.MatchedWith, sell.MatchedWith = sellID, buyID
	buy.UpdatedAt, sell.UpdatedAt = now, now
	return nil
}

// RecordCompletion finalizes one side of an executed match, stamping the
// contract ID and the measured match-to-settlement latency.
func (r *Registry) RecordCompletion(id, contractID string, latency time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.State != types.OrderMatched {
		return ErrStaleTransition
	}
	o.State = types.OrderCompleted
	o.ContractID = contractID
	o.ExecutionLatency = latency
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// RevertMatch undoes RecordMatch for both sides after a failed contract.
// CreatedAt is untouched, so both orders keep their original queue priority
// when the engine reinserts them.
func (r *Registry) RevertMatch(buyID, sellID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transition(buyID, types.OrderMatched, types.OrderPending); err != nil {
		return err
	}
	return r.transition(sellID, types.OrderMatched, types.OrderPending)
}

// PendingByCategory counts resting orders per category and side.
func (r *Registry) PendingByCategory() map[types.Category]map[types.Side]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.Category]map[types.Side]int, len(types.Categories()))
	for _, cat := range types.Categories() {
		out[cat] = map[types.Side]int{types.SideBuy: 0, types.SideSell: 0}
	}
	for _, o := range r.orders {
		if o.State == types.OrderPending {
			out[o.Category][o.Side]++
		}
	}
	return out
}

// Counts breaks the registry down by state.
func (r *Registry) Counts() types.OrderCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := types.OrderCounts{Total: len(r.orders)}
	for _, o := range r.orders {
		switch o.State {
		case types.OrderPending:
			c.Pending++
		case types.OrderMatched:
			c.Matched++
		case types.OrderCompleted:
			c.Completed++
		case types.OrderCancelled:
			c.Cancelled++
		}
	}
	return c
}

// CompletedLatencies returns the execution latency of every completed
// order, in seconds, for analytics.
func (r *Registry) CompletedLatencies() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]float64, 0, len(r.orders))
	for _, o := range r.orders {
		if o.State == types.OrderCompleted {
			out = append(out, o.ExecutionLatency.Seconds())
		}
	}
	return out
}

// VolumeByCategory sums quantity over completed orders per category. Both
// sides of a match count, matching how the platform has always reported
// traded volume.
func (r *Registry) VolumeByCategory() map[types.Category]decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[types.Category]decimal.Decimal, len(types.Categories()))
	for _, cat := range types.Categories() {
		out[cat] = decimal.Zero
	}
	for _, o := range r.orders {
		if o.State == types.OrderCompleted {
			out[o.Category] = out[o.Category].Add(o.Quantity)
		}
	}
	return out
}

// Sweep evicts terminal orders created before the cutoff and reports how
// many were removed. Pending and matched orders are never evicted, whatever
// their age.
func (r *Registry) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.seq[:0]
	for _, id := range r.seq {
		o, ok := r.orders[id]
		if !ok {
			continue
		}
		if o.State.Terminal() && o.CreatedAt.Before(cutoff) {
			delete(r.orders, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.seq = kept
	return removed
}

// Len returns the number of orders currently held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}
