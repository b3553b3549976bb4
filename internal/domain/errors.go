package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNoRound       = errors.New("market has no round")
	ErrNoFeed        = errors.New("no price feed for symbol")
	ErrNoPolicy      = errors.New("no target policy for symbol")
	ErrRoundActive   = errors.New("round still active")
	ErrRoundNotEnded = errors.New("round not yet ended")

	// ErrAlreadyResolved signals that another actor resolved the round first.
	// Callers must treat it as success-equivalent, never as a pass failure.
	ErrAlreadyResolved = errors.New("round already resolved")

	ErrUnauthorized = errors.New("unauthorized")
	ErrTxFailed     = errors.New("transaction reverted")
	ErrLockHeld     = errors.New("lock already held")
)
