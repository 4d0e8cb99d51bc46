package engine

import "errors"

var (
	// ErrValidation rejects malformed submissions. Nothing is recorded.
	ErrValidation = errors.New("invalid order request")
	// ErrNotFound is returned for order or contract IDs the engine does
	// not know.
	ErrNotFound = errors.New("not found")
	// ErrNotCancellable is returned for orders whose lifecycle has moved
	// past the point of cancellation.
	ErrNotCancellable = errors.New("order cannot be cancelled")
	// ErrAlreadyCancelled is returned when cancelling twice, and to a
	// submitter whose order was cancelled while its match settled.
	ErrAlreadyCancelled = errors.New("order already cancelled")
	// ErrAlreadyMatched is returned when cancelling a matched order whose
	// contract has already deployed; the match is past unwinding.
	ErrAlreadyMatched = errors.New("order already matched")
	// ErrExecutionFailed wraps settlement backend failures on the
	// operational execute pathway. The submit path recovers the same
	// failure locally and reports it through events instead.
	ErrExecutionFailed = errors.New("contract execution failed")
	// ErrEngineConflict means internal state disagreed with itself. The
	// engine suspends submissions until an operator intervenes; reads and
	// cancellations of unaffected orders stay available.
	ErrEngineConflict = errors.New("engine state conflict, submissions suspended")
)
