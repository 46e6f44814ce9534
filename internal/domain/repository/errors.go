package repository

import "errors"

var (
	// ErrDataUnavailable: no usable price history for a symbol. The symbol is
	// skipped for the tick.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrProducerFailure: a signal producer could not form an opinion.
	ErrProducerFailure = errors.New("producer failure")
	// ErrOrderRejected: the broker refused the order.
	ErrOrderRejected = errors.New("order rejected")
	// ErrNetwork: the broker could not be reached or timed out.
	ErrNetwork = errors.New("network error")
	// ErrSchedulerAlreadyRunning is informational; Start treats it as a no-op.
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
	// ErrNotFound: nothing cached for the key.
	ErrNotFound = errors.New("not found")
)
