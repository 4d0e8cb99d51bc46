package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridtrade/internal/contract"
	"gridtrade/pkg/types"
)

// Submit validates an order, admits it, and attempts a single match against
// the best resting order on the opposite side of its category.
//
// The incoming order matches iff the best opposite price crosses its limit
// and the quantities are exactly equal (whole orders only; no partial
// fills). On a match, settlement runs between writer sections: the match is
// staged under the lock, the contract deploys and executes with the lock
// released, and a second writer section finalizes both orders. A settlement
// failure reverts both orders to their books with their original queue
// priority.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if e.poisoned.Load() {
		return SubmitResult{}, ErrEngineConflict
	}
	if err := validateSubmit(req); err != nil {
		return SubmitResult{}, err
	}

	e.mu.Lock()
	now := time.Now().UTC()
	order := types.Order{
		ID:         uuid.NewString(),
		Side:       req.Side,
		Category:   req.Category,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		UserID:     req.UserID,
		State:      types.OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.registry.Add(order); err != nil {
		failErr := e.fail("admit order", err)
		e.mu.Unlock()
		return SubmitResult{}, failErr
	}
	e.counters.submitted++

	best, found, err := e.books.PeekBest(req.Category, req.Side.Opposite())
	if err != nil {
		failErr := e.fail("peek opposite book", err)
		e.mu.Unlock()
		return SubmitResult{}, failErr
	}

	if !found || !crosses(req, best) {
		if err := e.books.Insert(order.Category, order.Side, entryOf(order)); err != nil {
			failErr := e.fail("insert order", err)
			e.mu.Unlock()
			return SubmitResult{}, failErr
		}
		e.mu.Unlock()
		e.emitOrderEvent(types.EventOrderAdmitted, order)
		return SubmitResult{OrderID: order.ID}, nil
	}

	// Stage the match: the counterparty leaves its book, both orders move
	// to matched, and the contract is created, all under the writer lock.
	e.counters.attempted++
	if !e.books.Remove(req.Category, req.Side.Opposite(), best.OrderID) {
		failErr := e.fail("remove counterparty", fmt.Errorf("order %s resting but not in book", best.OrderID))
		e.mu.Unlock()
		return SubmitResult{}, failErr
	}

	buyID, sellID := order.ID, best.OrderID
	buyer, seller := order.UserID, best.UserID
	if req.Side == types.SideSell {
		buyID, sellID = best.OrderID, order.ID
		buyer, seller = best.UserID, order.UserID
	}
	if err := e.registry.RecordMatch(buyID, sellID); err != nil {
		failErr := e.fail("record match", err)
		e.mu.Unlock()
		return SubmitResult{}, failErr
	}

	c := e.contracts.Create(contract.CreateParams{
		BuyerOrderID:   buyID,
		SellerOrderID:  sellID,
		Buyer:          buyer,
		Seller:         seller,
		Category:       req.Category,
		Quantity:       order.Quantity,
		ExecutionPrice: midpoint(order.LimitPrice, best.Price),
		CreatedAt:      time.Now().UTC(),
	})
	staged := &stagedMatch{
		contractID:  c.ID,
		buyOrderID:  buyID,
		sellOrderID: sellID,
		stagedAt:    time.Now(),
	}
	e.inflight[buyID] = staged
	e.inflight[sellID] = staged
	e.mu.Unlock()

	e.emitOrderEvent(types.EventOrderAdmitted, order)
	e.emit(types.Event{
		Type:          types.EventOrderMatched,
		Timestamp:     time.Now().UTC(),
		BuyerOrderID:  buyID,
		SellerOrderID: sellID,
		ContractID:    c.ID,
		Category:      c.Category,
		Price:         c.ExecutionPrice,
		Quantity:      c.Quantity,
	})

	// Settlement runs with the lock released; other submissions and reads
	// proceed while the chain backend works.
	var execErr error
	if _, err := e.contracts.Deploy(c.ID); err != nil {
		execErr = err
	} else {
		e.emit(types.Event{
			Type:       types.EventContractDeployed,
			Timestamp:  time.Now().UTC(),
			ContractID: c.ID,
			TxHash:     c.TxHash,
			Category:   c.Category,
		})
		_, execErr = e.executor.Execute(ctx, c.ID)
	}

	return e.finalize(staged, order.ID, execErr)
}

// finalize is the second writer section of a match. It re-reads both orders
// because a cancellation may have won the writer boundary while settlement
// ran: in that case the cancel path has already repaired the books and
// failed the contract, and there is nothing left to do here.
func (e *Engine) finalize(staged *stagedMatch, incomingID string, execErr error) (SubmitResult, error) {
	e.mu.Lock()

	buy, buyOK := e.registry.Get(staged.buyOrderID)
	sell, sellOK := e.registry.Get(staged.sellOrderID)
	if !buyOK || !sellOK {
		failErr := e.fail("finalize match", fmt.Errorf("match %s references missing order", staged.contractID))
		e.mu.Unlock()
		return SubmitResult{}, failErr
	}

	linked := buy.MatchedWith == sell.ID && sell.MatchedWith == buy.ID

	// Another path (the operational execute) may have settled this match
	// already; report the settled result.
	if linked && buy.State == types.OrderCompleted && sell.State == types.OrderCompleted {
		delete(e.inflight, buy.ID)
		delete(e.inflight, sell.ID)
		e.mu.Unlock()
		return SubmitResult{OrderID: incomingID, Matched: true, ContractID: staged.contractID}, nil
	}

	if !linked || buy.State != types.OrderMatched || sell.State != types.OrderMatched {
		delete(e.inflight, buy.ID)
		delete(e.inflight, sell.ID)
		e.mu.Unlock()
		if incoming, ok := e.registry.Get(incomingID); ok && incoming.State == types.OrderCancelled {
			return SubmitResult{OrderID: incomingID}, ErrAlreadyCancelled
		}
		return SubmitResult{OrderID: incomingID}, nil
	}

	if execErr != nil {
		// Settlement failed: both orders revert to pending and rejoin
		// their books. CreatedAt was never touched, so price-time priority
		// is exactly what it was before the match.
		if err := e.registry.RevertMatch(buy.ID, sell.ID); err != nil {
			failErr := e.fail("revert match", err)
			e.mu.Unlock()
			return SubmitResult{}, failErr
		}
		for _, o := range []types.Order{buy, sell} {
			if err := e.books.Insert(o.Category, o.Side, entryOf(o)); err != nil {
				failErr := e.fail("reinsert order", err)
				e.mu.Unlock()
				return SubmitResult{}, failErr
			}
		}
		e.counters.failed++
		delete(e.inflight, buy.ID)
		delete(e.inflight, sell.ID)
		e.mu.Unlock()

		reason := execErr.Error()
		if c, ok := e.contracts.Get(staged.contractID); ok && c.FailureReason != "" {
			reason = c.FailureReason
		}
		e.emit(types.Event{
			Type:       types.EventContractFailed,
			Timestamp:  time.Now().UTC(),
			ContractID: staged.contractID,
			Category:   buy.Category,
			Reason:     reason,
		})
		return SubmitResult{OrderID: incomingID}, nil
	}

	latency := time.Since(staged.stagedAt)
	if err := e.registry.RecordCompletion(buy.ID, staged.contractID, latency); err != nil {
		failErr := e.fail("complete buy order", err)
		e.mu.Unlock()
		return SubmitResult{}, failErr
	}
	if err := e.registry.RecordCompletion(sell.ID, staged.contractID, latency); err != nil {
		failErr := e.fail("complete sell order", err)
		e.mu.Unlock()
		return SubmitResult{}, failErr
	}
	e.counters.completed++
	delete(e.inflight, buy.ID)
	delete(e.inflight, sell.ID)
	e.mu.Unlock()

	if c, ok := e.contracts.Get(staged.contractID); ok {
		e.emit(types.Event{
			Type:        types.EventContractExecuted,
			Timestamp:   time.Now().UTC(),
			ContractID:  c.ID,
			TxHash:      c.TxHash,
			Category:    c.Category,
			Price:       c.ExecutionPrice,
			Quantity:    c.Quantity,
			GasUsed:     c.GasUsed,
			BlockNumber: c.BlockNumber,
			Latency:     c.ExecutionDuration,
		})
	}
	return SubmitResult{OrderID: incomingID, Matched: true, ContractID: staged.contractID}, nil
}

// Cancel withdraws an order.
//
// Pending orders leave their book and cancel directly. A matched order can
// still cancel while its contract has not deployed; the counterparty then
// reverts to pending and rejoins its book with its original priority, and
// the staged contract fails. Once the contract is active or settled the
// order is past cancellation.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()

	o, ok := e.registry.Get(orderID)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}

	switch o.State {
	case types.OrderPending:
		if !e.books.Remove(o.Category, o.Side, o.ID) {
			failErr := e.fail("cancel pending", fmt.Errorf("order %s pending but not in book", o.ID))
			e.mu.Unlock()
			return failErr
		}
		if err := e.registry.SetState(o.ID, types.OrderPending, types.OrderCancelled); err != nil {
			failErr := e.fail("cancel pending", err)
			e.mu.Unlock()
			return failErr
		}
		e.mu.Unlock()
		e.emitOrderEvent(types.EventOrderCancelled, o)
		return nil

	case types.OrderMatched:
		staged, inFlight := e.inflight[o.ID]
		if !inFlight {
			failErr := e.fail("cancel matched", fmt.Errorf("order %s matched but not in flight", o.ID))
			e.mu.Unlock()
			return failErr
		}
		c, ok := e.contracts.Get(staged.contractID)
		if !ok {
			failErr := e.fail("cancel matched", fmt.Errorf("contract %s missing", staged.contractID))
			e.mu.Unlock()
			return failErr
		}
		if c.State != types.ContractPending {
			e.mu.Unlock()
			return fmt.Errorf("%w: %w: contract %s is %s", ErrNotCancellable, ErrAlreadyMatched, c.ID, c.State)
		}

		// The cancellation wins the writer boundary: fail the contract,
		// revert the counterparty, and cancel this order.
		if _, err := e.contracts.Fail(c.ID, "order cancelled before deployment"); err != nil {
			failErr := e.fail("fail staged contract", err)
			e.mu.Unlock()
			return failErr
		}
		counterID := staged.buyOrderID
		if counterID == o.ID {
			counterID = staged.sellOrderID
		}
		if err := e.registry.SetState(counterID, types.OrderMatched, types.OrderPending); err != nil {
			failErr := e.fail("revert counterparty", err)
			e.mu.Unlock()
			return failErr
		}
		counter, ok := e.registry.Get(counterID)
		if !ok {
			failErr := e.fail("revert counterparty", fmt.Errorf("order %s missing", counterID))
			e.mu.Unlock()
			return failErr
		}
		if err := e.books.Insert(counter.Category, counter.Side, entryOf(counter)); err != nil {
			failErr := e.fail("reinsert counterparty", err)
			e.mu.Unlock()
			return failErr
		}
		if err := e.registry.SetState(o.ID, types.OrderMatched, types.OrderCancelled); err != nil {
			failErr := e.fail("cancel matched", err)
			e.mu.Unlock()
			return failErr
		}
		e.counters.cancelledAfterMatch++
		delete(e.inflight, o.ID)
		delete(e.inflight, counterID)
		e.mu.Unlock()

		e.emitOrderEvent(types.EventOrderCancelled, o)
		e.emit(types.Event{
			Type:       types.EventContractFailed,
			Timestamp:  time.Now().UTC(),
			ContractID: c.ID,
			Category:   c.Category,
			Reason:     "order cancelled before deployment",
		})
		return nil

	case types.OrderCancelled:
		e.mu.Unlock()
		return fmt.Errorf("%w: order %s", ErrAlreadyCancelled, orderID)

	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: order %s is %s", ErrNotCancellable, orderID, o.State)
	}
}

// crosses reports whether the best opposite entry trades with the incoming
// request: the price must cross the limit and the quantities must be
// exactly equal. Unequal quantities do not trade, whatever the prices; both
// orders rest instead.
func crosses(req SubmitRequest, best types.BookEntry) bool {
	if !req.Quantity.Equal(best.Quantity) {
		return false
	}
	if req.Side == types.SideBuy {
		return best.Price.LessThanOrEqual(req.LimitPrice)
	}
	return best.Price.GreaterThanOrEqual(req.LimitPrice)
}

// fail latches the conflict state: something the engine believes is
// impossible happened, and continuing to match would compound the damage.
func (e *Engine) fail(op string, err error) error {
	e.poisoned.Store(true)
	e.logger.Error("internal state conflict, suspending submissions", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrEngineConflict, op, err)
}

// emitOrderEvent emits an order lifecycle event with the order's terms.
func (e *Engine) emitOrderEvent(t types.EventType, o types.Order) {
	e.emit(types.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Side:      o.Side,
		Category:  o.Category,
		Price:     o.LimitPrice,
		Quantity:  o.Quantity,
	})
}
