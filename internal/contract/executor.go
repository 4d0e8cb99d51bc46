package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"gridtrade/internal/chain"
	"gridtrade/pkg/types"
)

// ErrExecuteTimeout is returned when settlement misses its deadline. The
// contract is settled as failed; the matched orders revert to pending.
var ErrExecuteTimeout = errors.New("contract execution timed out")

// Backend processes one settlement transaction. chain.Simulator is the
// default implementation; tests substitute stubs.
type Backend interface {
	Process(ctx context.Context, txHash string) (chain.Receipt, error)
}

// Executor settles active contracts against the chain backend. Every run is
// bounded by the configured timeout and routed through a circuit breaker,
// so a dying backend fails matches fast instead of stalling the engine's
// submit path for the full timeout each time.
type Executor struct {
	mgr     *Manager
	backend Backend
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor wires an executor to a manager and backend.
func NewExecutor(mgr *Manager, backend Backend, timeout time.Duration, logger *slog.Logger) *Executor {
	log := logger.With("component", "executor")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "settlement-backend",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Executor{
		mgr:     mgr,
		backend: backend,
		breaker: breaker,
		timeout: timeout,
		logger:  log,
	}
}

// Execute settles one active contract. On success the contract completes
// with its receipt data; on failure or timeout it settles as failed with
// the reason recorded, and the returned error reports what went wrong.
func (e *Executor) Execute(ctx context.Context, id string) (types.Contract, error) {
	c, ok := e.mgr.Get(id)
	if !ok {
		return types.Contract{}, ErrNotFound
	}
	if c.State != types.ContractActive {
		return c, ErrNotExecutable
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.backend.Process(runCtx, c.TxHash)
	})
	duration := time.Since(start)

	if err != nil {
		reason := err.Error()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			err = fmt.Errorf("%w after %s", ErrExecuteTimeout, e.timeout)
			reason = "execution timed out"
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			reason = "settlement backend unavailable"
		}
		failed, failErr := e.mgr.Fail(id, reason)
		if failErr != nil {
			e.logger.Error("could not settle contract as failed", "contract_id", id, "error", failErr)
		}
		e.logger.Warn("contract execution failed",
			"contract_id", id,
			"duration", duration,
			"reason", reason,
		)
		return failed, err
	}

	receipt := result.(chain.Receipt)
	executed, err := e.mgr.markExecuted(id, duration, receipt.GasUsed, receipt.BlockNumber)
	if err != nil {
		return executed, err
	}

	e.logger.Info("contract executed",
		"contract_id", id,
		"duration", duration,
		"gas_used", receipt.GasUsed,
		"block", receipt.BlockNumber,
	)
	return executed, nil
}
