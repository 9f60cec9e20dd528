package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrContextDone       = errors.New("context cancelled")
	ErrLockHeld          = errors.New("lock already held")
	ErrConflict          = errors.New("state precondition failed")
	ErrQuoteExpired      = errors.New("quote expired")
	ErrRouteNotFound     = errors.New("route not found")
	ErrSwapFinished      = errors.New("swap already finished")
	ErrStepIndexMismatch = errors.New("step index mismatch")
	ErrStepNotPending    = errors.New("step not pending")
	ErrInvalidSignature  = errors.New("invalid signed transaction")
	ErrBroadcast         = errors.New("broadcast rejected")
	ErrTxReverted        = errors.New("transaction reverted")
	ErrTxDropped         = errors.New("transaction dropped")
	ErrTxTimeout         = errors.New("transaction confirmation timeout")
	ErrBridgeFailed      = errors.New("bridge delivery failed")
	ErrProviderDown      = errors.New("price provider unavailable")
	ErrValidation        = errors.New("validation failed")
)
